package app

import (
	"context"
	"path/filepath"

	"github.com/papapumpkin/corona/internal/watch"
)

// Watch regenerates the runtime config whenever the current profile or a
// chain item file changes, until ctx is done. onRun is called after every
// regeneration. The set of watched files follows the committed profile list.
func (a *App) Watch(ctx context.Context, onRun func(Outcome, error), opts ...watch.Option) error {
	match := func(path string) bool {
		p, _ := a.Profiles.Current()
		return watch.Paths(a.store.Files(p))(filepath.Clean(path))
	}
	w, err := watch.New([]string{a.store.Dir()}, append([]watch.Option{watch.WithFilter(match)}, opts...)...)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	a.logger.InfoContext(ctx, "watching profile items", "dir", a.store.Dir())
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Changes:
			if !ok {
				return nil
			}
			for _, c := range batch {
				a.logger.DebugContext(ctx, "profile item changed", "path", c.Path, "removed", c.Removed)
			}
			out, err := a.Apply(ctx, SourceWatch)
			if onRun != nil {
				onRun(out, err)
			}
		}
	}
}
