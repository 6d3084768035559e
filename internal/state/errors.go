package state

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for state changes and persistence. A *ChangeError matches
// the sentinel of its Kind under errors.Is.
var (
	// ErrValidation indicates the candidate state failed to build.
	ErrValidation = errors.New("state validation failed")
	// ErrMigrate indicates a subscriber rejected the change and rolled back.
	ErrMigrate = errors.New("subscriber migrate failed")
	// ErrMigrateAndRollback indicates a subscriber failed to migrate and then
	// failed to roll back.
	ErrMigrateAndRollback = errors.New("subscriber migrate and rollback failed")
	// ErrReadConfig indicates the persisted state could not be read or parsed.
	ErrReadConfig = errors.New("read config")
	// ErrWriteConfig indicates a committed state could not be persisted.
	ErrWriteConfig = errors.New("write config")
)

// Kind classifies a failed state change.
type Kind string

const (
	// KindValidation means Build rejected the candidate. Nothing changed.
	KindValidation Kind = "validation"
	// KindMigrate means a subscriber failed and its rollback succeeded.
	KindMigrate Kind = "migrate"
	// KindMigrateAndRollback means a subscriber failed and so did its
	// rollback. The subscriber may be left in an inconsistent state.
	KindMigrateAndRollback Kind = "migrate_and_rollback"
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindMigrate:
		return ErrMigrate
	case KindMigrateAndRollback:
		return ErrMigrateAndRollback
	}
	return nil
}

// ChangeError describes why a coordinator refused a state change.
type ChangeError struct {
	Kind        Kind
	Domain      string // coordinator name, empty when unnamed
	Subscriber  string // failing subscriber; empty for validation errors
	Err         error  // build or migrate error
	RollbackErr error  // set for KindMigrateAndRollback

	// Compensation holds rollback failures of subscribers that had already
	// migrated, when the coordinator compensates them.
	Compensation []error
}

// Error returns a message naming the domain, the subscriber and every
// underlying failure.
func (e *ChangeError) Error() string {
	var b strings.Builder
	b.WriteString("state: ")
	if e.Domain != "" {
		b.WriteString(e.Domain)
		b.WriteString(": ")
	}
	switch e.Kind {
	case KindValidation:
		fmt.Fprintf(&b, "validation failed: %v", e.Err)
	case KindMigrate:
		fmt.Fprintf(&b, "subscriber %q migrate failed: %v", e.Subscriber, e.Err)
	case KindMigrateAndRollback:
		fmt.Fprintf(&b, "subscriber %q migrate failed: %v; rollback failed: %v", e.Subscriber, e.Err, e.RollbackErr)
	default:
		fmt.Fprintf(&b, "%s: %v", e.Kind, e.Err)
	}
	for _, c := range e.Compensation {
		fmt.Fprintf(&b, "; compensation failed: %v", c)
	}
	return b.String()
}

// Unwrap returns the underlying build or migrate error.
func (e *ChangeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's Kind.
func (e *ChangeError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
