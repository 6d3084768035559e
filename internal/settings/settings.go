// Package settings is the application settings domain: which engine corona
// generates configuration for and how the enhancement pipeline behaves.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papapumpkin/corona/internal/engine"
)

// ErrUnknownKey indicates a settings key that does not exist.
var ErrUnknownKey = errors.New("unknown settings key")

// Default values.
const (
	DefaultCore          = engine.Mihomo
	DefaultTunStack      = engine.StackGvisor
	DefaultScriptTimeout = 10 * time.Second
)

// Settings is the validated application settings.
type Settings struct {
	Core          engine.Variant
	EnableTun     bool
	TunStack      engine.TunStack
	EnableBuiltin bool
	EnableFilter  bool
	ScriptTimeout time.Duration
}

// Builder is a settings draft. Nil fields are unset: they take the value of
// the draft being merged into, or the default when building.
type Builder struct {
	Core          *string `yaml:"core,omitempty"`
	EnableTun     *bool   `yaml:"enable-tun,omitempty"`
	TunStack      *string `yaml:"tun-stack,omitempty"`
	EnableBuiltin *bool   `yaml:"enable-builtin,omitempty"`
	EnableFilter  *bool   `yaml:"enable-filter,omitempty"`
	ScriptTimeout *string `yaml:"script-timeout,omitempty"`
}

// Defaults returns a builder holding every default explicitly.
func Defaults() Builder {
	return Builder{
		Core:          ptr(string(DefaultCore)),
		EnableTun:     ptr(false),
		TunStack:      ptr(string(DefaultTunStack)),
		EnableBuiltin: ptr(true),
		EnableFilter:  ptr(true),
		ScriptTimeout: ptr(DefaultScriptTimeout.String()),
	}
}

// Merge returns b with every field set in patch overriding b's.
func (b Builder) Merge(patch Builder) Builder {
	if patch.Core != nil {
		b.Core = patch.Core
	}
	if patch.EnableTun != nil {
		b.EnableTun = patch.EnableTun
	}
	if patch.TunStack != nil {
		b.TunStack = patch.TunStack
	}
	if patch.EnableBuiltin != nil {
		b.EnableBuiltin = patch.EnableBuiltin
	}
	if patch.EnableFilter != nil {
		b.EnableFilter = patch.EnableFilter
	}
	if patch.ScriptTimeout != nil {
		b.ScriptTimeout = patch.ScriptTimeout
	}
	return b
}

// Build validates the draft, filling unset fields with defaults.
func (b Builder) Build() (Settings, error) {
	full := Defaults().Merge(b)
	s := Settings{
		EnableTun:     *full.EnableTun,
		EnableBuiltin: *full.EnableBuiltin,
		EnableFilter:  *full.EnableFilter,
	}

	var err error
	if s.Core, err = engine.ParseVariant(*full.Core); err != nil {
		return Settings{}, fmt.Errorf("core: %w", err)
	}
	if s.TunStack, err = engine.ParseTunStack(*full.TunStack); err != nil {
		return Settings{}, fmt.Errorf("tun-stack: %w", err)
	}
	if s.ScriptTimeout, err = time.ParseDuration(*full.ScriptTimeout); err != nil {
		return Settings{}, fmt.Errorf("script-timeout: %w", err)
	}
	if s.ScriptTimeout < 0 {
		return Settings{}, fmt.Errorf("script-timeout: must not be negative, got %s", s.ScriptTimeout)
	}
	return s, nil
}

// Keys lists the settable keys in persisted order.
func Keys() []string {
	return []string{"core", "enable-tun", "tun-stack", "enable-builtin", "enable-filter", "script-timeout"}
}

// Patch returns a builder setting the single key to the parsed value.
// Values are checked for syntax only; Build validates them.
func Patch(key, value string) (Builder, error) {
	var b Builder
	switch strings.ToLower(key) {
	case "core":
		b.Core = ptr(value)
	case "tun-stack":
		b.TunStack = ptr(value)
	case "script-timeout":
		b.ScriptTimeout = ptr(value)
	case "enable-tun", "enable-builtin", "enable-filter":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return Builder{}, fmt.Errorf("%s: %w", key, err)
		}
		switch strings.ToLower(key) {
		case "enable-tun":
			b.EnableTun = &v
		case "enable-builtin":
			b.EnableBuiltin = &v
		default:
			b.EnableFilter = &v
		}
	default:
		return Builder{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return b, nil
}

func ptr[T any](v T) *T { return &v }
