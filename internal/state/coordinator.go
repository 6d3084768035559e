// Package state coordinates changes to a piece of application state. A
// candidate state is built from a draft, offered to every subscriber, and
// committed only when all of them accept it. Manager adds YAML persistence
// on top of a Coordinator.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/papapumpkin/corona/internal/scope"
)

// Subscriber reacts to state changes. Migrate applies next; Rollback undoes
// whatever a failed Migrate left behind, or a successful one when the
// coordinator compensates.
type Subscriber[T any] interface {
	Name() string
	Migrate(ctx context.Context, prev, next T) error
	Rollback(ctx context.Context, prev, next T) error
}

// Funcs adapts a pair of functions to the Subscriber interface. A nil
// RollbackFn is a no-op.
type Funcs[T any] struct {
	SubscriberName string
	MigrateFn      func(ctx context.Context, prev, next T) error
	RollbackFn     func(ctx context.Context, prev, next T) error
}

// Name returns SubscriberName.
func (f Funcs[T]) Name() string { return f.SubscriberName }

// Migrate calls MigrateFn.
func (f Funcs[T]) Migrate(ctx context.Context, prev, next T) error {
	if f.MigrateFn == nil {
		return nil
	}
	return f.MigrateFn(ctx, prev, next)
}

// Rollback calls RollbackFn.
func (f Funcs[T]) Rollback(ctx context.Context, prev, next T) error {
	if f.RollbackFn == nil {
		return nil
	}
	return f.RollbackFn(ctx, prev, next)
}

// Buildable is a draft that can be validated into a T.
type Buildable[T any] interface {
	Build() (T, error)
}

// CompensationPolicy decides what happens to subscribers that migrated
// before a later subscriber failed.
type CompensationPolicy int

const (
	// FailFast rolls back only the failing subscriber.
	FailFast CompensationPolicy = iota
	// CompensateAll also rolls back every earlier subscriber, in reverse
	// registration order.
	CompensateAll
)

// Coordinator owns the current value of a T and serializes changes to it.
type Coordinator[T any] struct {
	opts options
	subs []Subscriber[T]

	mu      sync.RWMutex
	current T
	loaded  bool
}

// NewCoordinator returns a coordinator notifying subs, in order, on every
// upsert. The subscriber list is fixed for the coordinator's lifetime.
func NewCoordinator[T any](subs []Subscriber[T], opts ...Option) *Coordinator[T] {
	return &Coordinator[T]{
		opts: buildOptions(opts),
		subs: append([]Subscriber[T](nil), subs...),
	}
}

// Current returns the committed state. The second result is false before
// the first Load or successful Upsert.
func (c *Coordinator[T]) Current() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.loaded
}

// Load installs an initial state without notifying subscribers.
func (c *Coordinator[T]) Load(state T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = state
	c.loaded = true
}

// Upsert builds a candidate from draft and, if every subscriber migrates to
// it, makes it the current state. Subscribers see the candidate through
// scope.Get[T] on the context they receive. On failure the current state is
// unchanged and a *ChangeError is returned.
func (c *Coordinator[T]) Upsert(ctx context.Context, draft Buildable[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	c.emit(ctx, start, Event{Kind: EventUpsertStart})

	next, err := draft.Build()
	if err != nil {
		c.emit(ctx, start, Event{Kind: EventValidationFailed, Err: err})
		return &ChangeError{Kind: KindValidation, Domain: c.opts.name, Err: err}
	}

	prev := c.current
	err = scope.Run(ctx, next, func(ctx context.Context) error {
		return c.migrate(ctx, start, prev, next)
	})
	if err != nil {
		return err
	}

	c.current, c.loaded = next, true
	c.emit(ctx, start, Event{Kind: EventCommitted})
	c.opts.logger.Debug("state committed", "domain", c.opts.name, "elapsed", time.Since(start))
	return nil
}

func (c *Coordinator[T]) migrate(ctx context.Context, start time.Time, prev, next T) error {
	for i, sub := range c.subs {
		err := sub.Migrate(ctx, prev, next)
		if err == nil {
			c.emit(ctx, start, Event{Kind: EventMigrated, Subscriber: sub.Name()})
			continue
		}

		c.emit(ctx, start, Event{Kind: EventMigrateFailed, Subscriber: sub.Name(), Err: err})
		c.opts.logger.Warn("subscriber migrate failed", "domain", c.opts.name, "subscriber", sub.Name(), "error", err)

		cerr := &ChangeError{Kind: KindMigrate, Domain: c.opts.name, Subscriber: sub.Name(), Err: err}
		if rbErr := c.rollback(ctx, start, sub, prev, next); rbErr != nil {
			cerr.Kind = KindMigrateAndRollback
			cerr.RollbackErr = rbErr
		}
		if c.opts.policy == CompensateAll {
			for j := i - 1; j >= 0; j-- {
				if rbErr := c.rollback(ctx, start, c.subs[j], prev, next); rbErr != nil {
					cerr.Compensation = append(cerr.Compensation, rbErr)
				}
			}
		}
		return cerr
	}
	return nil
}

func (c *Coordinator[T]) rollback(ctx context.Context, start time.Time, sub Subscriber[T], prev, next T) error {
	if err := sub.Rollback(ctx, prev, next); err != nil {
		c.emit(ctx, start, Event{Kind: EventRollbackFailed, Subscriber: sub.Name(), Err: err})
		c.opts.logger.Error("subscriber rollback failed", "domain", c.opts.name, "subscriber", sub.Name(), "error", err)
		return err
	}
	c.emit(ctx, start, Event{Kind: EventRolledBack, Subscriber: sub.Name()})
	return nil
}

func (c *Coordinator[T]) emit(ctx context.Context, start time.Time, evt Event) {
	evt.Domain = c.opts.name
	evt.Elapsed = time.Since(start)
	for _, h := range c.opts.hooks {
		h.OnEvent(ctx, evt)
	}
}
