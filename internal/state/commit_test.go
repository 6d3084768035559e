package state

import (
	"context"
	"testing"

	"github.com/papapumpkin/corona/internal/scope"
)

func TestCommittedHookSeesNewState(t *testing.T) {
	t.Parallel()

	var c *Coordinator[cfg]
	var atCommit cfg
	var committed bool
	hook := HookFunc(func(_ context.Context, e Event) {
		if e.Kind != EventCommitted {
			return
		}
		// Hooks run under the coordinator lock, so read the fields directly.
		atCommit, committed = c.current, c.loaded
	})
	var calls []string
	c = NewCoordinator([]Subscriber[cfg]{recorder{name: "a", calls: &calls}}, WithHook(hook))
	c.Load(cfg{Port: 7890, Mode: "rule"})

	if err := c.Upsert(context.Background(), cfgBuilder{Mode: mode("global")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if want := (cfg{Port: 7890, Mode: "global"}); !committed || atCommit != want {
		t.Errorf("state at commit event = %+v (loaded %v), want %+v", atCommit, committed, want)
	}
}

func TestFailedNestedUpsertRestoresEnclosingScope(t *testing.T) {
	t.Parallel()

	var calls []string
	c := NewCoordinator([]Subscriber[cfg]{recorder{name: "bad", calls: &calls, failMigrate: true}})
	outer := cfg{Port: 1234, Mode: "direct"}

	err := scope.Run(context.Background(), outer, func(ctx context.Context) error {
		if err := c.Upsert(ctx, cfgBuilder{Port: port(9999)}); err == nil {
			t.Error("Upsert succeeded, want migrate failure")
		}
		if got, ok := scope.Get[cfg](ctx); !ok || got != outer {
			t.Errorf("scope.Get after failed Upsert = %+v, %v; want %+v", got, ok, outer)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scope.Run: %v", err)
	}
}
