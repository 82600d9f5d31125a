package main

import (
	"context"
	"fmt"
	"io"

	"chefq/internal/chef"
	"chefq/internal/logging"
	"chefq/internal/store"
	"chefq/internal/table"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	queryFormat string
	queryRaw    bool
	queryRecord bool
)

// queryCmd generates a table and renders it
var queryCmd = &cobra.Command{
	Use:   "query [table]",
	Short: "Print the rows of a table",
	Long: `Generates the rows of a table and prints them.

The default table is chef_run_list. Formats: table, json, markdown, csv.

Example:
  chefq query
  chefq query chef_run_list --format json
  chefq query --record`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

// tablesCmd lists registered tables
var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List available tables and their columns",
	Args:  cobra.NoArgs,
	RunE:  listTables,
}

func init() {
	queryCmd.Flags().StringVar(&queryFormat, "format", "", "Output format: table, json, markdown, csv (default from config)")
	queryCmd.Flags().BoolVar(&queryRaw, "raw", false, "Print markdown without terminal styling")
	queryCmd.Flags().BoolVar(&queryRecord, "record", false, "Record a snapshot in the history database")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	name := table.ChefRunListName
	if len(args) > 0 {
		name = args[0]
	}

	src := newSource()
	t, err := newRegistry(src).Get(name)
	if err != nil {
		return err
	}

	var rows []table.Row
	if name == table.ChefRunListName && (queryRecord || cfg.Store.Enabled) {
		// Printed rows and the recorded snapshot come from one read.
		snap, err := src.Snapshot(ctx)
		if err != nil {
			return err
		}
		rows = table.RunListRows(snap.RunList)
		if err := recordSnapshot(ctx, snap, cmd.ErrOrStderr()); err != nil {
			return err
		}
	} else {
		rows, err = t.Generate(ctx)
		if err != nil {
			return fmt.Errorf("generate %s: %w", name, err)
		}
	}

	format := cfg.Output.Format
	if queryFormat != "" {
		format = queryFormat
	}
	return table.Render(cmd.OutOrStdout(), t.Columns(), rows, table.RenderOptions{
		Format: format,
		Raw:    queryRaw,
	})
}

// recordSnapshot stores snap and reports whether it was new.
func recordSnapshot(ctx context.Context, snap chef.Snapshot, w io.Writer) error {
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	recorded, created, err := st.Record(ctx, snap.Path, snap.Content, snap.RunList)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	if created {
		fmt.Fprintf(w, "Recorded snapshot %s\n", recorded.ID)
	} else {
		logging.Get(logging.CategoryStore).Debug("run list unchanged", zap.String("id", recorded.ID))
	}
	return nil
}

func listTables(cmd *cobra.Command, args []string) error {
	reg := newRegistry(newSource())
	out := cmd.OutOrStdout()
	for _, name := range reg.Names() {
		t, err := reg.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, name)
		for _, col := range t.Columns() {
			fmt.Fprintf(out, "  %-10s %s\n", col.Name, col.Type)
		}
	}
	return nil
}
