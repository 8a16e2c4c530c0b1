package workbench

import (
	"context"
	"log/slog"
	"time"

	"github.com/jward/workbench/internal/watch"
)

// ChangeHandler receives the report of each reanalysis triggered by file
// changes. err holds the per-file errors of that batch, if any.
type ChangeHandler func(report *Report, err error)

// WatchOptions tunes Watch. Zero fields take the watcher defaults.
type WatchOptions struct {
	Debounce time.Duration
	Ignore   []string
}

// Watch reanalyzes files under the project root as they change until ctx
// is done. Created and written files are analyzed; removed and renamed
// files have their units dropped. Batches are handled one at a time.
func (w *Workbench) Watch(ctx context.Context, opts WatchOptions, handle ChangeHandler) error {
	batches := make(chan []watch.Change, 1)
	wopts := watch.Options{Debounce: opts.Debounce, Ignore: opts.Ignore, Logger: w.logger}
	watcher, err := watch.New(w.root, func(changes []watch.Change) {
		select {
		case batches <- changes:
		case <-ctx.Done():
		}
	}, wopts)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return err
	}
	defer watcher.Stop()
	w.logger.Info("watching", slog.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			return nil
		case changes := <-batches:
			handle(w.applyChanges(ctx, changes))
		}
	}
}

func (w *Workbench) applyChanges(ctx context.Context, changes []watch.Change) (*Report, error) {
	changed, removed := watch.Partition(watch.Dedupe(changes))
	report := &Report{}
	var firstErr error
	if len(removed) > 0 {
		r, err := w.RemoveFiles(ctx, removed)
		report.merge(r)
		firstErr = err
	}
	if len(changed) > 0 {
		r, err := w.AnalyzeFiles(ctx, changed)
		report.merge(r)
		if firstErr == nil {
			firstErr = err
		}
	}
	return report, firstErr
}
