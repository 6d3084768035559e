package state

import (
	"context"
	"time"
)

// EventKind identifies a phase of a state change.
type EventKind int

const (
	// EventUpsertStart is emitted when an upsert takes the write lock.
	EventUpsertStart EventKind = iota
	// EventValidationFailed is emitted when Build rejects the candidate.
	EventValidationFailed
	// EventMigrated is emitted after a subscriber migrates successfully.
	EventMigrated
	// EventMigrateFailed is emitted when a subscriber fails to migrate.
	EventMigrateFailed
	// EventRolledBack is emitted after a subscriber rolls back successfully.
	EventRolledBack
	// EventRollbackFailed is emitted when a subscriber fails to roll back.
	EventRollbackFailed
	// EventCommitted is emitted after the candidate becomes the current state.
	EventCommitted
)

var eventKindNames = [...]string{
	EventUpsertStart:      "upsert_start",
	EventValidationFailed: "validation_failed",
	EventMigrated:         "migrated",
	EventMigrateFailed:    "migrate_failed",
	EventRolledBack:       "rolled_back",
	EventRollbackFailed:   "rollback_failed",
	EventCommitted:        "committed",
}

// String returns the snake_case name of the event kind.
func (k EventKind) String() string {
	if int(k) >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event describes one phase of a state change.
type Event struct {
	Kind       EventKind
	Domain     string
	Subscriber string        // set for subscriber events
	Err        error         // set for failure events
	Elapsed    time.Duration // time since the upsert started
}

// Hook observes state changes. Implementations are called while the
// coordinator holds its write lock and must not block or call back into it.
type Hook interface {
	OnEvent(ctx context.Context, event Event)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx context.Context, event Event)

// OnEvent calls the wrapped function.
func (f HookFunc) OnEvent(ctx context.Context, event Event) { f(ctx, event) }
