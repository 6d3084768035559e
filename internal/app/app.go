// Package app wires corona together. An App owns the three managed state
// domains, keeps the runtime config in step with them and records every
// regeneration in the run history.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/papapumpkin/corona/internal/clash"
	"github.com/papapumpkin/corona/internal/config"
	"github.com/papapumpkin/corona/internal/history"
	"github.com/papapumpkin/corona/internal/metrics"
	"github.com/papapumpkin/corona/internal/profile"
	"github.com/papapumpkin/corona/internal/settings"
	"github.com/papapumpkin/corona/internal/state"
	"github.com/papapumpkin/corona/internal/telemetry"
)

// Domain names used in errors, telemetry and the run history.
const (
	DomainSettings = "settings"
	DomainClash    = "clash"
	DomainProfiles = "profiles"
)

const stateHeader = "managed by corona; edit with `corona settings|clash|profiles`"

// App is the composition root. Managers are exported so commands can read
// and patch each domain directly; every successful patch regenerates the
// runtime config.
type App struct {
	Settings *state.Manager[settings.Settings, settings.Builder]
	Clash    *state.Manager[clash.Config, clash.Builder]
	Profiles *state.Manager[profile.Profiles, profile.Builder]

	cfg       config.Config
	store     *profile.Store
	history   *history.Store
	telemetry *telemetry.Emitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	goos      string
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records state transitions and runs on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGOOS overrides the platform used for TUN defaults.
func WithGOOS(goos string) Option {
	return func(a *App) { a.goos = goos }
}

// New opens the history database and telemetry stream under cfg and loads
// every managed domain from disk. Invalid or missing state files fall back
// to defaults.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		store:  profile.NewStore(cfg.ProfilesDir()),
		logger: slog.New(slog.DiscardHandler),
		goos:   runtime.GOOS,
	}
	for _, opt := range opts {
		opt(a)
	}

	hist, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return nil, err
	}
	a.history = hist

	em, err := telemetry.NewEmitter(cfg.TelemetryFile)
	if err != nil {
		hist.Close()
		return nil, err
	}
	a.telemetry = em

	a.Settings = state.NewManager(cfg.SettingsFile(), settings.Defaults,
		runtimeSubscribers[settings.Settings](a, DomainSettings), a.stateOptions(DomainSettings)...)
	a.Clash = state.NewManager(cfg.ClashFile(), clash.Defaults,
		runtimeSubscribers[clash.Config](a, DomainClash), a.stateOptions(DomainClash)...)
	a.Profiles = state.NewManager(cfg.ProfilesFile(), profile.Defaults,
		runtimeSubscribers[profile.Profiles](a, DomainProfiles), a.stateOptions(DomainProfiles)...)

	if err := a.Reload(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) stateOptions(domain string) []state.Option {
	return []state.Option{
		state.WithName(domain),
		state.WithLogger(a.logger),
		state.WithHeader(stateHeader),
		state.WithCompensation(state.CompensateAll),
		state.WithHook(state.HookFunc(a.observe)),
	}
}

// Reload reads every domain from disk again without regenerating.
func (a *App) Reload(ctx context.Context) error {
	return errors.Join(
		a.Settings.TryLoadWithDefaults(ctx),
		a.Clash.TryLoadWithDefaults(ctx),
		a.Profiles.TryLoadWithDefaults(ctx),
	)
}

// Close releases the history database and telemetry stream.
func (a *App) Close() error {
	return errors.Join(a.history.Close(), a.telemetry.Close())
}

// Config returns the bootstrap configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the profile item store.
func (a *App) Store() *profile.Store { return a.store }

// History returns the run history.
func (a *App) History() *history.Store { return a.history }

// observe forwards coordinator events to telemetry and metrics.
func (a *App) observe(ctx context.Context, ev state.Event) {
	kind := ev.Kind.String()
	a.metrics.Transition(ev.Domain, kind)
	switch ev.Kind {
	case state.EventCommitted:
		a.metrics.Upsert(ev.Domain, "committed", ev.Elapsed)
	case state.EventValidationFailed, state.EventMigrateFailed:
		a.metrics.Upsert(ev.Domain, kind, ev.Elapsed)
	}

	out := telemetry.Event{Kind: kind, Domain: ev.Domain, Subscriber: ev.Subscriber}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	if ev.Kind == state.EventCommitted {
		out.Data = map[string]any{"elapsed_ms": ev.Elapsed.Milliseconds()}
	}
	if err := a.telemetry.Emit(out); err != nil {
		a.logger.DebugContext(ctx, "telemetry emit failed", "error", err)
	}
}

// Import copies src into the profiles directory and adds it to the profile
// list. The first imported profile becomes current.
func (a *App) Import(ctx context.Context, src string, typ profile.ItemType, name string) (profile.Item, error) {
	it, err := a.store.Import(src, typ, name)
	if err != nil {
		return profile.Item{}, err
	}
	p, _ := a.Profiles.Current()
	patch := profile.WithItems(append(slices.Clone(p.Items), it))
	if typ.IsProfile() && p.Current == "" {
		patch.Current = &it.UID
	}
	if err := a.Profiles.Upsert(ctx, patch); err != nil {
		if rmErr := a.store.Remove(it); rmErr != nil {
			a.logger.WarnContext(ctx, "removing imported file", "uid", it.UID, "error", rmErr)
		}
		return profile.Item{}, err
	}
	return it, nil
}

// Remove drops an item from the profile list, then deletes its file.
func (a *App) Remove(ctx context.Context, uid string) error {
	p, _ := a.Profiles.Current()
	it, ok := p.Item(uid)
	if !ok {
		return fmt.Errorf("%w: %s", profile.ErrUnknownItem, uid)
	}
	if err := a.Profiles.Upsert(ctx, profile.WithoutItem(p, uid)); err != nil {
		return err
	}
	return a.store.Remove(it)
}

// BackupFiles lists every file a backup should hold: the three state files
// and all profile item files.
func (a *App) BackupFiles() []string {
	files := []string{a.cfg.SettingsFile(), a.cfg.ClashFile(), a.cfg.ProfilesFile()}
	p, _ := a.Profiles.Current()
	for _, it := range p.Items {
		files = append(files, a.store.Path(it))
	}
	return files
}

func (a *App) scriptTimeout(s settings.Settings) time.Duration {
	if a.cfg.ScriptTimeout > 0 {
		return a.cfg.ScriptTimeout
	}
	return s.ScriptTimeout
}
