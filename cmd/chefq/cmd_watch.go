package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"chefq/internal/chef"
	"chefq/internal/logging"
	"chefq/internal/store"
	"chefq/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// watchCmd follows first-boot changes
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print run list changes as the first-boot file is edited",
	Long: `Watches the first-boot file and prints what changed in the run list
after each edit settles. When the store is enabled every change is also
recorded as a snapshot.

Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

// recorder reloads the run list on each change and reports the difference.
type recorder struct {
	src   *chef.Source
	store *store.Store // nil when history is disabled
	out   io.Writer
	last  chef.RunList
}

func newRecorder(ctx context.Context, src *chef.Source, st *store.Store, out io.Writer) (*recorder, error) {
	r := &recorder{src: src, store: st, out: out}
	snap, err := src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	r.last = snap.RunList
	if err := r.record(ctx, snap); err != nil {
		return nil, err
	}
	return r, nil
}

// handle is called after a settled change.
func (r *recorder) handle(ctx context.Context) error {
	snap, err := r.src.Snapshot(ctx)
	if err != nil {
		return err
	}

	diff := store.DiffRunLists(r.last, snap.RunList)
	r.last = snap.RunList
	if !diff.Empty() {
		fmt.Fprintf(r.out, "[%s] %s changed\n%s\n", time.Now().Format(time.TimeOnly), snap.Path, diff.String())
	}
	return r.record(ctx, snap)
}

func (r *recorder) record(ctx context.Context, snap chef.Snapshot) error {
	if r.store == nil {
		return nil
	}
	if _, _, err := r.store.Record(ctx, snap.Path, snap.Content, snap.RunList); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	baseCtx := cmd.Context()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	debounce, err := cfg.DebounceDuration()
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	src := newSource()
	rec, err := newRecorder(ctx, src, st, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	changes := make(chan struct{}, 1)
	w, err := watch.New(src.Path, debounce, func(context.Context) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}

	log := logging.Get(logging.CategoryWatch)
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (%d roles, %d recipes)\n", w.Path(), len(rec.last.Roles), len(rec.last.Recipes))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return w.Run(egCtx)
	})
	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case <-changes:
				if err := rec.handle(egCtx); err != nil && egCtx.Err() == nil {
					return err
				}
			}
		}
	})

	err = eg.Wait()
	stats := w.Stats()
	log.Info("watch stopped",
		zap.Int("changes", stats.Changes),
		zap.Int("errors", stats.Errors))
	return err
}
