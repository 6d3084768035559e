package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/papapumpkin/corona/internal/chain"
	"github.com/papapumpkin/corona/internal/enhance"
	"github.com/papapumpkin/corona/internal/field"
	"github.com/papapumpkin/corona/internal/history"
	"github.com/papapumpkin/corona/internal/scope"
	"github.com/papapumpkin/corona/internal/script"
	"github.com/papapumpkin/corona/internal/state"
	"github.com/papapumpkin/corona/internal/telemetry"
)

// SourceManual marks runs started by `corona apply`.
const SourceManual = "apply"

// SourceWatch marks runs started by the file watcher.
const SourceWatch = "watch"

// SourceBackup marks runs after a backup was restored.
const SourceBackup = "backup"

const runtimeHeader = "generated by corona; changes are overwritten"

// Generated is one rendered runtime config.
type Generated struct {
	Result  enhance.Result
	Profile string
	Data    []byte
	Digest  string
}

// Outcome describes an applied runtime config.
type Outcome struct {
	Generated
	RunID   int64
	Written bool
}

// current returns the in-flight T when called from inside an upsert of that
// domain, and the committed state otherwise.
func current[T any, B state.Builder[T, B]](ctx context.Context, m *state.Manager[T, B]) T {
	if v, ok := scope.Get[T](ctx); ok {
		return v
	}
	v, _ := m.Current()
	return v
}

// Enhance generates the runtime config without writing or recording it.
func (a *App) Enhance(ctx context.Context) (Generated, error) {
	s := current(ctx, a.Settings)
	c := current(ctx, a.Clash)
	p := current(ctx, a.Profiles)

	base, err := a.store.Base(p)
	if err != nil {
		return Generated{}, fmt.Errorf("app: loading current profile: %w", err)
	}
	var name string
	if it, ok := p.CurrentItem(); ok {
		name = it.DisplayName()
	}

	runner := script.NewRunner(script.WithTimeout(a.scriptTimeout(s)), script.WithLogger(a.logger))
	pipeline := enhance.NewPipeline(runner, enhance.WithLogger(a.logger), enhance.WithGOOS(a.goos))
	res := pipeline.Run(ctx, enhance.Input{
		Base:        base,
		Chain:       a.store.Resolve(p, p.Chain),
		Policy:      field.DefaultPolicy(p.Valid, s.EnableFilter),
		Handle:      c.ToMapping(),
		Builtin:     s.EnableBuiltin,
		Variant:     s.Core,
		Tun:         s.EnableTun,
		Stack:       s.TunStack,
		ProfileName: name,
	})

	data, err := res.YAML(runtimeHeader)
	if err != nil {
		return Generated{}, fmt.Errorf("app: rendering runtime config: %w", err)
	}
	sum := blake3.Sum256(data)
	return Generated{Result: res, Profile: name, Data: data, Digest: hex.EncodeToString(sum[:])}, nil
}

// Apply generates the runtime config, writes it when it changed and records
// the run.
func (a *App) Apply(ctx context.Context, source string) (Outcome, error) {
	gen, err := a.Enhance(ctx)
	if err != nil {
		return Outcome{}, err
	}
	snap, err := a.write(gen)
	if err != nil {
		return Outcome{}, err
	}
	id, err := a.record(ctx, source, gen, snap.written)
	return Outcome{Generated: gen, RunID: id, Written: snap.written}, err
}

// Drift reports whether the runtime file differs from the last recorded run,
// for example after a manual edit. A missing file or an empty history is
// drift.
func (a *App) Drift(ctx context.Context) (bool, error) {
	last, err := a.history.LastDigest(ctx)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(a.cfg.RuntimeFile)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("app: reading runtime config: %w", err)
	}
	sum := blake3.Sum256(data)
	return last == "" || hex.EncodeToString(sum[:]) != last, nil
}

// snapshot is the runtime file as it was before a write.
type snapshot struct {
	data    []byte
	existed bool
	written bool
}

// write replaces the runtime file with gen unless it already holds the same
// bytes.
func (a *App) write(gen Generated) (snapshot, error) {
	var snap snapshot
	old, err := os.ReadFile(a.cfg.RuntimeFile)
	switch {
	case err == nil:
		snap.data, snap.existed = old, true
		if blake3.Sum256(old) == blake3.Sum256(gen.Data) {
			return snap, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return snap, fmt.Errorf("app: reading runtime config: %w", err)
	}
	if err := state.WriteFile(a.cfg.RuntimeFile, gen.Data, 0o644); err != nil {
		return snap, fmt.Errorf("app: writing runtime config: %w", err)
	}
	snap.written = true
	return snap, nil
}

func (a *App) restore(snap snapshot) error {
	if !snap.written {
		return nil
	}
	if !snap.existed {
		if err := os.Remove(a.cfg.RuntimeFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("app: removing runtime config: %w", err)
		}
		return nil
	}
	if err := state.WriteFile(a.cfg.RuntimeFile, snap.data, 0o644); err != nil {
		return fmt.Errorf("app: restoring runtime config: %w", err)
	}
	return nil
}

// record stores the run, prunes old runs and reports it to telemetry and
// metrics.
func (a *App) record(ctx context.Context, source string, gen Generated, written bool) (int64, error) {
	logs := gen.Result.Logs
	levels := map[string]int{}
	for _, l := range []chain.Level{chain.LevelLog, chain.LevelInfo, chain.LevelWarn, chain.LevelError} {
		if n := logs.Count(l); n > 0 {
			levels[string(l)] = n
		}
	}
	a.metrics.Run(written, levels)
	if err := a.telemetry.Emit(telemetry.Event{
		Kind:   telemetry.KindRun,
		Domain: source,
		Data: map[string]any{
			"profile": gen.Profile,
			"digest":  gen.Digest,
			"written": written,
			"errors":  levels[string(chain.LevelError)],
		},
	}); err != nil {
		a.logger.DebugContext(ctx, "telemetry emit failed", "error", err)
	}

	id, err := a.history.Record(ctx, history.Run{
		Profile: gen.Profile,
		Source:  source,
		Digest:  gen.Digest,
		Written: written,
		Errors:  levels[string(chain.LevelError)],
		Logs:    logs.Entries(),
	})
	if err != nil {
		return 0, err
	}
	if a.cfg.HistoryKeep > 0 {
		if _, err := a.history.Prune(ctx, a.cfg.HistoryKeep); err != nil {
			a.logger.WarnContext(ctx, "pruning history", "error", err)
		}
	}
	a.logger.InfoContext(ctx, "runtime config generated",
		"source", source, "profile", gen.Profile, "written", written, "run", id)
	return id, nil
}

// runtimeStep regenerates the runtime config for one domain's upserts. Its
// first subscriber writes the file; the second records the run, and when
// that fails the coordinator compensates by restoring the previous file.
type runtimeStep struct {
	app    *App
	domain string

	mu   sync.Mutex
	gen  Generated
	snap snapshot
}

func runtimeSubscribers[T any](a *App, domain string) []state.Subscriber[T] {
	rs := &runtimeStep{app: a, domain: domain}
	return []state.Subscriber[T]{
		state.Funcs[T]{
			SubscriberName: "runtime",
			MigrateFn:      func(ctx context.Context, _, _ T) error { return rs.migrate(ctx) },
			RollbackFn:     func(context.Context, T, T) error { return rs.rollback() },
		},
		state.Funcs[T]{
			SubscriberName: "history",
			MigrateFn:      func(ctx context.Context, _, _ T) error { return rs.record(ctx) },
		},
	}
}

func (rs *runtimeStep) migrate(ctx context.Context) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.gen, rs.snap = Generated{}, snapshot{}

	gen, err := rs.app.Enhance(ctx)
	if err != nil {
		return err
	}
	snap, err := rs.app.write(gen)
	rs.gen, rs.snap = gen, snap
	return err
}

func (rs *runtimeStep) rollback() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	err := rs.app.restore(rs.snap)
	rs.snap = snapshot{}
	return err
}

func (rs *runtimeStep) record(ctx context.Context) error {
	rs.mu.Lock()
	gen, written := rs.gen, rs.snap.written
	rs.mu.Unlock()
	_, err := rs.app.record(ctx, rs.domain, gen, written)
	return err
}

