package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chefq/internal/store"
	"chefq/internal/table"

	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyDiff   bool
	historyFormat string
)

// historyCmd lists recorded snapshots
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded run list snapshots",
	Long: `Lists the snapshots recorded by "chefq query --record" and "chefq watch",
newest first.

With --diff, prints the changes between the two most recent snapshots.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum snapshots to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyDiff, "diff", false, "Show changes between the two latest snapshots")
	historyCmd.Flags().StringVar(&historyFormat, "format", "", "Output format: table, json, markdown, csv (default from config)")
}

var historyColumns = []table.Column{
	{Name: "id", Type: table.Text},
	{Name: "observed_at", Type: table.Text},
	{Name: "roles", Type: table.Integer},
	{Name: "recipes", Type: table.Integer},
	{Name: "content_hash", Type: table.Text},
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if historyDiff {
		snaps, err := st.History(ctx, cfg.FirstBootPath, 2)
		if err != nil {
			return err
		}
		if len(snaps) < 2 {
			fmt.Fprintln(out, "Need at least two snapshots to diff")
			return nil
		}
		newer, err := st.Items(ctx, snaps[0].ID)
		if err != nil {
			return err
		}
		older, err := st.Items(ctx, snaps[1].ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, store.DiffRunLists(older, newer).String())
		return nil
	}

	snaps, err := st.History(ctx, cfg.FirstBootPath, historyLimit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintf(out, "No snapshots recorded for %s\n", cfg.FirstBootPath)
		return nil
	}

	rows := make([]table.Row, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, table.Row{
			"id":           s.ID,
			"observed_at":  s.ObservedAt.Format(time.RFC3339),
			"roles":        strconv.Itoa(s.RoleCount),
			"recipes":      strconv.Itoa(s.RecipeCount),
			"content_hash": shortHash(s.ContentHash),
		})
	}

	format := cfg.Output.Format
	if historyFormat != "" {
		format = historyFormat
	}
	return table.Render(out, historyColumns, rows, table.RenderOptions{Format: format})
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
