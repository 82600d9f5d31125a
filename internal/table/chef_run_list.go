package table

import (
	"context"
	"strconv"

	"chefq/internal/chef"
	"chefq/internal/logging"

	"go.uber.org/zap"
)

// ChefRunListName is the registered name of the run list table.
const ChefRunListName = "chef_run_list"

// Loader produces a run list; *chef.Source satisfies it.
type Loader interface {
	Load(ctx context.Context) (chef.RunList, error)
}

// ChefRunList exposes the roles and recipes of the first-boot run list.
// The "role" column carries recipe names too; the name is kept so existing
// queries against the table keep working.
type ChefRunList struct {
	loader Loader
}

// NewChefRunList returns the table backed by loader.
func NewChefRunList(loader Loader) *ChefRunList {
	return &ChefRunList{loader: loader}
}

func (t *ChefRunList) Name() string { return ChefRunListName }

func (t *ChefRunList) Columns() []Column {
	return []Column{
		{Name: "seq_no", Type: Integer},
		{Name: "role", Type: Text},
	}
}

// Generate returns all roles followed by all recipes.
func (t *ChefRunList) Generate(ctx context.Context) ([]Row, error) {
	timer := logging.StartTimer(logging.CategoryTable, "generate "+ChefRunListName)
	defer timer.Stop()

	rl, err := t.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	rows := RunListRows(rl)
	logging.Get(logging.CategoryTable).Debug("generated rows",
		zap.String("table", ChefRunListName),
		zap.Int("roles", len(rl.Roles)),
		zap.Int("recipes", len(rl.Recipes)))
	return rows, nil
}

// RunListRows converts a run list to chef_run_list rows.
func RunListRows(rl chef.RunList) []Row {
	rows := make([]Row, 0, rl.Len())
	for _, role := range rl.Roles {
		rows = append(rows, runListRow(role))
	}
	for _, recipe := range rl.Recipes {
		rows = append(rows, runListRow(recipe))
	}
	return rows
}

func runListRow(item chef.RunListItem) Row {
	return Row{
		"seq_no": strconv.FormatUint(uint64(item.SeqNo), 10),
		"role":   item.Name,
	}
}
