package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/papapumpkin/corona/internal/scope"
)

type cfg struct {
	Port int
	Mode string
}

type cfgBuilder struct {
	Port *int    `yaml:"port,omitempty"`
	Mode *string `yaml:"mode,omitempty"`
}

func (b cfgBuilder) Merge(patch cfgBuilder) cfgBuilder {
	if patch.Port != nil {
		b.Port = patch.Port
	}
	if patch.Mode != nil {
		b.Mode = patch.Mode
	}
	return b
}

func (b cfgBuilder) Build() (cfg, error) {
	c := cfg{Port: 7890, Mode: "rule"}
	if b.Port != nil {
		c.Port = *b.Port
	}
	if b.Mode != nil {
		c.Mode = *b.Mode
	}
	if c.Port < 1 || c.Port > 65535 {
		return cfg{}, fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Mode {
	case "rule", "global", "direct":
	default:
		return cfg{}, fmt.Errorf("unknown mode %q", c.Mode)
	}
	return c, nil
}

func port(n int) *int       { return &n }
func mode(s string) *string { return &s }

// recorder is a subscriber that logs calls and fails on demand.
type recorder struct {
	name        string
	failMigrate bool
	failRoll    bool
	calls       *[]string
	seen        *cfg
}

func (r recorder) Name() string { return r.name }

func (r recorder) Migrate(ctx context.Context, _, next cfg) error {
	*r.calls = append(*r.calls, r.name+".migrate")
	if r.seen != nil {
		if v, ok := scope.Get[cfg](ctx); ok {
			*r.seen = v
		}
	}
	if r.failMigrate {
		return errors.New(r.name + " refused")
	}
	return nil
}

func (r recorder) Rollback(context.Context, cfg, cfg) error {
	*r.calls = append(*r.calls, r.name+".rollback")
	if r.failRoll {
		return errors.New(r.name + " stuck")
	}
	return nil
}

func TestCoordinatorValidationFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	var calls []string
	c := NewCoordinator([]Subscriber[cfg]{recorder{name: "a", calls: &calls}}, WithName("clash"))
	c.Load(cfg{Port: 7890, Mode: "rule"})

	err := c.Upsert(context.Background(), cfgBuilder{Port: port(70000)})

	var cerr *ChangeError
	if !errors.As(err, &cerr) || cerr.Kind != KindValidation {
		t.Fatalf("Upsert error = %v, want validation ChangeError", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("errors.Is(err, ErrValidation) = false")
	}
	if len(calls) != 0 {
		t.Errorf("subscribers called on validation failure: %v", calls)
	}
	if got, _ := c.Current(); got.Port != 7890 {
		t.Errorf("Current().Port = %d, want 7890", got.Port)
	}
	if !strings.Contains(err.Error(), "clash") {
		t.Errorf("error %q does not name the domain", err)
	}
}

func TestCoordinatorMigrateFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    CompensationPolicy
		failRoll  bool
		wantKind  Kind
		wantCalls []string
		wantIs    error
	}{
		{
			name:      "fail fast",
			policy:    FailFast,
			wantKind:  KindMigrate,
			wantCalls: []string{"a.migrate", "b.migrate", "b.rollback"},
			wantIs:    ErrMigrate,
		},
		{
			name:      "rollback also fails",
			policy:    FailFast,
			failRoll:  true,
			wantKind:  KindMigrateAndRollback,
			wantCalls: []string{"a.migrate", "b.migrate", "b.rollback"},
			wantIs:    ErrMigrateAndRollback,
		},
		{
			name:      "compensate all",
			policy:    CompensateAll,
			wantKind:  KindMigrate,
			wantCalls: []string{"a.migrate", "b.migrate", "b.rollback", "a.rollback"},
			wantIs:    ErrMigrate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls []string
			subs := []Subscriber[cfg]{
				recorder{name: "a", calls: &calls},
				recorder{name: "b", calls: &calls, failMigrate: true, failRoll: tt.failRoll},
				recorder{name: "c", calls: &calls},
			}
			c := NewCoordinator(subs, WithCompensation(tt.policy))
			c.Load(cfg{Port: 7890, Mode: "rule"})

			err := c.Upsert(context.Background(), cfgBuilder{Mode: mode("global")})

			var cerr *ChangeError
			if !errors.As(err, &cerr) {
				t.Fatalf("Upsert error = %v, want *ChangeError", err)
			}
			if cerr.Kind != tt.wantKind || cerr.Subscriber != "b" {
				t.Errorf("ChangeError = {Kind:%s Subscriber:%s}, want {%s b}", cerr.Kind, cerr.Subscriber, tt.wantKind)
			}
			if !errors.Is(err, tt.wantIs) {
				t.Errorf("errors.Is(err, %v) = false", tt.wantIs)
			}
			if tt.failRoll && cerr.RollbackErr == nil {
				t.Error("RollbackErr not recorded")
			}
			if diff := cmp.Diff(tt.wantCalls, calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if got, _ := c.Current(); got.Mode != "rule" {
				t.Errorf("Current().Mode = %q, want rule", got.Mode)
			}
		})
	}
}

func TestCoordinatorCommitsWhenAllMigrate(t *testing.T) {
	t.Parallel()

	var calls []string
	var seen cfg
	c := NewCoordinator([]Subscriber[cfg]{
		recorder{name: "a", calls: &calls, seen: &seen},
		recorder{name: "b", calls: &calls},
	})

	if _, ok := c.Current(); ok {
		t.Fatal("Current reported a state before any load")
	}
	if err := c.Upsert(context.Background(), cfgBuilder{Port: port(7891)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok := c.Current()
	if !ok || got != (cfg{Port: 7891, Mode: "rule"}) {
		t.Errorf("Current() = %+v, %v", got, ok)
	}
	if seen != got {
		t.Errorf("subscriber saw in-flight %+v, want %+v", seen, got)
	}
	if diff := cmp.Diff([]string{"a.migrate", "b.migrate"}, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCoordinatorHookEvents(t *testing.T) {
	t.Parallel()

	var kinds []string
	hook := HookFunc(func(_ context.Context, e Event) {
		kinds = append(kinds, e.Kind.String()+":"+e.Subscriber)
		if e.Domain != "settings" {
			t.Errorf("event domain = %q", e.Domain)
		}
	})
	var calls []string
	c := NewCoordinator([]Subscriber[cfg]{
		recorder{name: "ok", calls: &calls},
		recorder{name: "bad", calls: &calls, failMigrate: true},
	}, WithName("settings"), WithHook(hook))

	_ = c.Upsert(context.Background(), cfgBuilder{})

	want := []string{"upsert_start:", "migrated:ok", "migrate_failed:bad", "rolled_back:bad"}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestCoordinatorSerializesUpserts(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	sub := Funcs[cfg]{
		SubscriberName: "counter",
		MigrateFn: func(context.Context, cfg, cfg) error {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			return nil
		},
	}
	c := NewCoordinator([]Subscriber[cfg]{sub})

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Upsert(context.Background(), cfgBuilder{Port: port(8000 + i)}); err != nil {
				t.Errorf("Upsert: %v", err)
			}
		}()
	}
	wg.Wait()

	if m := maxInFlight.Load(); m != 1 {
		t.Errorf("max concurrent migrations = %d, want 1", m)
	}
}

func newTestManager(t *testing.T, path string, subs ...Subscriber[cfg]) *Manager[cfg, cfgBuilder] {
	t.Helper()
	return NewManager(path, func() cfgBuilder { return cfgBuilder{} }, subs,
		WithName("clash"), WithHeader("managed by corona"))
}

func TestManagerLoadsDefaultsWhenMissingOrInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    cfg
	}{
		{name: "missing", want: cfg{Port: 7890, Mode: "rule"}},
		{name: "unparseable", content: "port: [oops", want: cfg{Port: 7890, Mode: "rule"}},
		{name: "invalid", content: "mode: chaos\n", want: cfg{Port: 7890, Mode: "rule"}},
		{name: "partial", content: "port: 7891\n", want: cfg{Port: 7891, Mode: "rule"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, tt.name+".yaml")
			if tt.content != "" {
				if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			m := newTestManager(t, path)
			if err := m.TryLoadWithDefaults(context.Background()); err != nil {
				t.Fatalf("TryLoadWithDefaults: %v", err)
			}
			got, ok := m.Current()
			if !ok || got != tt.want {
				t.Errorf("Current() = %+v, %v; want %+v", got, ok, tt.want)
			}
		})
	}
}

func TestManagerUpsertPersistsAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clash.yaml")
	m := newTestManager(t, path)
	ctx := context.Background()
	if err := m.TryLoadWithDefaults(ctx); err != nil {
		t.Fatal(err)
	}

	if err := m.Upsert(ctx, cfgBuilder{Port: port(7891)}); err != nil {
		t.Fatalf("Upsert port: %v", err)
	}
	if err := m.Upsert(ctx, cfgBuilder{Mode: mode("global")}); err != nil {
		t.Fatalf("Upsert mode: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "# managed by corona\nport: 7891\nmode: global\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("persisted file mismatch (-want +got):\n%s", diff)
	}

	reloaded := newTestManager(t, path)
	if err := reloaded.TryLoadWithDefaults(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := reloaded.Current()
	if got != (cfg{Port: 7891, Mode: "global"}) {
		t.Errorf("reloaded state = %+v", got)
	}
}

func TestManagerUpsertFailureDoesNotPersist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clash.yaml")
	var calls []string
	m := newTestManager(t, path, recorder{name: "runtime", calls: &calls, failMigrate: true})
	_ = m.TryLoadWithDefaults(context.Background())

	err := m.Upsert(context.Background(), cfgBuilder{Port: port(7891)})
	if !errors.Is(err, ErrMigrate) {
		t.Fatalf("Upsert error = %v, want ErrMigrate", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file written after failed upsert: %v", err)
	}
	if b := m.Builder(); b.Port != nil {
		t.Errorf("cached builder changed after failed upsert: port %d", *b.Port)
	}
}

func TestManagerWriteFailureIsSurfaced(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, filepath.Join(blocker, "clash.yaml"))
	_ = m.TryLoadWithDefaults(context.Background())

	err := m.Upsert(context.Background(), cfgBuilder{Port: port(7891)})
	if !errors.Is(err, ErrWriteConfig) {
		t.Fatalf("Upsert error = %v, want ErrWriteConfig", err)
	}
	if got, _ := m.Current(); got.Port != 7891 {
		t.Errorf("in-memory state did not advance: port %d", got.Port)
	}
}
