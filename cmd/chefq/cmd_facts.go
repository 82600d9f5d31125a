package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"chefq/internal/logging"
	"chefq/internal/mangle"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// factsCmd exposes the run list as Mangle facts
var factsCmd = &cobra.Command{
	Use:   "facts [query]",
	Short: "Show the run list as Mangle facts or evaluate a query",
	Long: `Loads the run list into a Mangle engine.

Without arguments every fact is printed, derived ones included.
With a query, the variable bindings of each match are printed.

Predicates:
  chef_run_list(SeqNo, Name, Kind)     Kind is /role or /recipe
  chef_role(Name)
  chef_recipe(Name)
  chef_role_before_recipe(Role, Recipe)

Example:
  chefq facts
  chefq facts 'chef_run_list(N, Name, /recipe)'
  chefq facts 'chef_role_before_recipe(R, "nginx")'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFacts,
}

func runFacts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rl, err := newSource().Load(ctx)
	if err != nil {
		return err
	}

	engine, err := mangle.NewRunListEngine(mangle.DefaultConfig())
	if err != nil {
		return err
	}
	if err := engine.LoadRunList(rl); err != nil {
		return fmt.Errorf("load facts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		preds := engine.Predicates()
		for _, pred := range preds {
			facts, err := engine.GetFacts(pred)
			if err != nil {
				return err
			}
			for _, f := range facts {
				fmt.Fprintln(out, f.String())
			}
		}
		return nil
	}

	query := args[0]
	logging.Get(logging.CategoryFacts).Debug("querying facts", zap.String("query", query))
	result, err := engine.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if len(result.Bindings) == 0 {
		fmt.Fprintf(out, "No results for %s\n", query)
		return nil
	}
	for _, binding := range result.Bindings {
		fmt.Fprintln(out, formatBinding(binding))
	}
	return nil
}

func formatBinding(b map[string]interface{}) string {
	if len(b) == 0 {
		return "true"
	}
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := b[k].(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s=%q", k, v))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, " ")
}
