package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/papapumpkin/corona/internal/state"
)

// ErrDrift reports a runtime file that no longer matches the last run.
var ErrDrift = errors.New("runtime config differs from the last generated run")

// Check is the result of one validation step. Err is nil when it passed.
type Check struct {
	Name string
	Err  error
}

// Validate checks the persisted state files, every profile item file and
// the runtime config without changing anything.
func (a *App) Validate(ctx context.Context) []Check {
	checks := []Check{
		readCheck(a.Settings),
		readCheck(a.Clash),
		readCheck(a.Profiles),
	}

	p, _ := a.Profiles.Current()
	if it, ok := p.CurrentItem(); ok {
		_, err := a.store.Base(p)
		checks = append(checks, Check{Name: "profile " + it.DisplayName(), Err: err})
	}
	for _, item := range a.store.Resolve(p, p.Chain) {
		name := item.UID
		if it, ok := p.Item(item.UID); ok {
			name = it.DisplayName()
		}
		checks = append(checks, Check{Name: "chain item " + name, Err: item.Err})
	}

	drift, err := a.Drift(ctx)
	if err == nil && drift {
		err = ErrDrift
	}
	return append(checks, Check{Name: "runtime " + a.cfg.RuntimeFile, Err: err})
}

// readCheck parses a state file and builds it on top of the defaults. A
// missing file passes.
func readCheck[T any, B state.Builder[T, B]](m *state.Manager[T, B]) Check {
	c := Check{Name: "state " + m.Path()}
	b, err := m.Read()
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		c.Err = err
	default:
		if _, err := m.Builder().Merge(b).Build(); err != nil {
			c.Err = fmt.Errorf("%w: %w", state.ErrValidation, err)
		}
	}
	return c
}
