package mangle

import (
	_ "embed"
	"fmt"
	"sort"

	"chefq/internal/chef"
)

//go:embed schemas/chef.mg
var chefSchema string

const (
	PredRunList          = "chef_run_list"
	PredRole             = "chef_role"
	PredRecipe           = "chef_recipe"
	PredRoleBeforeRecipe = "chef_role_before_recipe"
)

const (
	KindRole   Name = "/role"
	KindRecipe Name = "/recipe"
)

// NewRunListEngine returns an engine with the chef schema loaded.
func NewRunListEngine(cfg Config) (*Engine, error) {
	e, err := NewEngine(cfg, chefSchema)
	if err != nil {
		return nil, fmt.Errorf("load chef schema: %w", err)
	}
	return e, nil
}

// RunListFacts converts a run list into chef_run_list facts, ordered by SeqNo.
func RunListFacts(rl chef.RunList) []Fact {
	facts := make([]Fact, 0, rl.Len())
	for _, item := range rl.Roles {
		facts = append(facts, Fact{Predicate: PredRunList, Args: []interface{}{int64(item.SeqNo), item.Name, KindRole}})
	}
	for _, item := range rl.Recipes {
		facts = append(facts, Fact{Predicate: PredRunList, Args: []interface{}{int64(item.SeqNo), item.Name, KindRecipe}})
	}
	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].Args[0].(int64) < facts[j].Args[0].(int64)
	})
	return facts
}

// LoadRunList replaces the engine contents with rl.
func (e *Engine) LoadRunList(rl chef.RunList) error {
	return e.Load(RunListFacts(rl))
}
