// Package scope carries a type-indexed set of values through a
// context.Context. Code running inside Run sees the values set by its
// callers; code outside never does.
package scope

import (
	"context"
	"reflect"
	"sync"
)

type ctxKey struct{}

// values is the map shared by every context derived from one Run.
type values struct {
	mu sync.RWMutex
	m  map[reflect.Type]any
}

func (v *values) set(t reflect.Type, val any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[t] = val
}

func (v *values) remove(t reflect.Type) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, t)
}

func (v *values) get(t reflect.Type) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.m[t]
	return val, ok
}

func from(ctx context.Context) (*values, bool) {
	v, ok := ctx.Value(ctxKey{}).(*values)
	return v, ok
}

// Run stores value under its static type T and calls fn. Inside an existing
// scope the value is inserted into that scope, replacing any earlier value of
// the same type until fn returns, when the earlier value (or its absence) is
// restored. Otherwise a new scope is created for fn.
func Run[T any](ctx context.Context, value T, fn func(context.Context) error) error {
	key := reflect.TypeFor[T]()
	v, ok := from(ctx)
	if !ok {
		v = &values{m: make(map[reflect.Type]any)}
		v.set(key, value)
		return fn(context.WithValue(ctx, ctxKey{}, v))
	}
	prev, had := v.get(key)
	v.set(key, value)
	defer func() {
		if had {
			v.set(key, prev)
		} else {
			v.remove(key)
		}
	}()
	return fn(ctx)
}

// Get returns the value of type T visible from ctx. The second result is
// false when no enclosing Run stored a T.
func Get[T any](ctx context.Context) (T, bool) {
	var zero T
	v, ok := from(ctx)
	if !ok {
		return zero, false
	}
	val, ok := v.get(reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	t, ok := val.(T)
	return t, ok
}

// Active reports whether ctx is inside a scope.
func Active(ctx context.Context) bool {
	_, ok := from(ctx)
	return ok
}

// Go runs fn on a new goroutine that shares the scope of ctx, creating an
// empty scope when ctx has none. The returned channel yields fn's error and
// is then closed.
func Go(ctx context.Context, fn func(context.Context) error) <-chan error {
	if _, ok := from(ctx); !ok {
		ctx = context.WithValue(ctx, ctxKey{}, &values{m: make(map[reflect.Type]any)})
	}
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- fn(ctx)
	}()
	return done
}

// Fork returns a context detached from ctx's cancellation that shares ctx's
// scope. Writes through either context are visible to both.
func Fork(ctx context.Context) context.Context {
	out := context.WithoutCancel(ctx)
	if _, ok := from(ctx); !ok {
		out = context.WithValue(out, ctxKey{}, &values{m: make(map[reflect.Type]any)})
	}
	return out
}
