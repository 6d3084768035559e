// Package clash is the clash runtime config domain: the listener ports,
// routing mode and controller settings corona pins in every generated
// configuration regardless of what the profile chain sets.
package clash

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/papapumpkin/corona/internal/mapping"
)

// Sentinel errors for clash config validation.
var (
	// ErrPortRange indicates a port outside 0-65535, or a zero mixed port.
	ErrPortRange = errors.New("port out of range")
	// ErrPortConflict indicates two listeners configured on the same port.
	ErrPortConflict = errors.New("port already in use by another listener")
	// ErrInvalidValue indicates an enum field holding an unknown value.
	ErrInvalidValue = errors.New("invalid value")
	// ErrUnknownKey indicates a key that is not part of the clash config.
	ErrUnknownKey = errors.New("unknown clash key")
)

// Modes lists the routing modes the engines accept.
var Modes = []string{"rule", "global", "direct"}

// LogLevels lists the engine log levels.
var LogLevels = []string{"silent", "error", "warning", "info", "debug"}

// Config is the validated clash runtime config. A zero port disables that
// listener, except MixedPort which is always on.
type Config struct {
	Port               int
	SocksPort          int
	MixedPort          int
	RedirPort          int
	TProxyPort         int
	AllowLan           bool
	Mode               string
	LogLevel           string
	IPv6               bool
	ExternalController string
	Secret             string
	UnifiedDelay       bool
}

// Builder is a clash config draft. Field names match the engine keys.
type Builder struct {
	Port               *int    `yaml:"port,omitempty"`
	SocksPort          *int    `yaml:"socks-port,omitempty"`
	MixedPort          *int    `yaml:"mixed-port,omitempty"`
	RedirPort          *int    `yaml:"redir-port,omitempty"`
	TProxyPort         *int    `yaml:"tproxy-port,omitempty"`
	AllowLan           *bool   `yaml:"allow-lan,omitempty"`
	Mode               *string `yaml:"mode,omitempty"`
	LogLevel           *string `yaml:"log-level,omitempty"`
	IPv6               *bool   `yaml:"ipv6,omitempty"`
	ExternalController *string `yaml:"external-controller,omitempty"`
	Secret             *string `yaml:"secret,omitempty"`
	UnifiedDelay       *bool   `yaml:"unified-delay,omitempty"`
}

// Defaults returns a builder holding every default explicitly.
func Defaults() Builder {
	return Builder{
		Port:               ptr(0),
		SocksPort:          ptr(0),
		MixedPort:          ptr(7897),
		RedirPort:          ptr(0),
		TProxyPort:         ptr(0),
		AllowLan:           ptr(false),
		Mode:               ptr("rule"),
		LogLevel:           ptr("info"),
		IPv6:               ptr(true),
		ExternalController: ptr("127.0.0.1:9097"),
		Secret:             ptr(""),
		UnifiedDelay:       ptr(true),
	}
}

// Merge returns b with every field set in patch overriding b's.
func (b Builder) Merge(patch Builder) Builder {
	merge(&b.Port, patch.Port)
	merge(&b.SocksPort, patch.SocksPort)
	merge(&b.MixedPort, patch.MixedPort)
	merge(&b.RedirPort, patch.RedirPort)
	merge(&b.TProxyPort, patch.TProxyPort)
	merge(&b.AllowLan, patch.AllowLan)
	merge(&b.Mode, patch.Mode)
	merge(&b.LogLevel, patch.LogLevel)
	merge(&b.IPv6, patch.IPv6)
	merge(&b.ExternalController, patch.ExternalController)
	merge(&b.Secret, patch.Secret)
	merge(&b.UnifiedDelay, patch.UnifiedDelay)
	return b
}

// Build validates the draft, filling unset fields with defaults.
func (b Builder) Build() (Config, error) {
	f := Defaults().Merge(b)
	c := Config{
		Port:               *f.Port,
		SocksPort:          *f.SocksPort,
		MixedPort:          *f.MixedPort,
		RedirPort:          *f.RedirPort,
		TProxyPort:         *f.TProxyPort,
		AllowLan:           *f.AllowLan,
		Mode:               strings.ToLower(*f.Mode),
		LogLevel:           strings.ToLower(*f.LogLevel),
		IPv6:               *f.IPv6,
		ExternalController: strings.TrimSpace(*f.ExternalController),
		Secret:             *f.Secret,
		UnifiedDelay:       *f.UnifiedDelay,
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) ports() []struct {
	key  string
	port int
} {
	return []struct {
		key  string
		port int
	}{
		{"port", c.Port},
		{"socks-port", c.SocksPort},
		{"mixed-port", c.MixedPort},
		{"redir-port", c.RedirPort},
		{"tproxy-port", c.TProxyPort},
	}
}

func (c Config) validate() error {
	used := make(map[int]string)
	for _, p := range c.ports() {
		if p.port < 0 || p.port > 65535 || (p.key == "mixed-port" && p.port == 0) {
			return fmt.Errorf("%s: %w: %d", p.key, ErrPortRange, p.port)
		}
		if p.port == 0 {
			continue
		}
		if other, ok := used[p.port]; ok {
			return fmt.Errorf("%s: %w: %d (%s)", p.key, ErrPortConflict, p.port, other)
		}
		used[p.port] = p.key
	}
	if !contains(Modes, c.Mode) {
		return fmt.Errorf("mode: %w: %q", ErrInvalidValue, c.Mode)
	}
	if !contains(LogLevels, c.LogLevel) {
		return fmt.Errorf("log-level: %w: %q", ErrInvalidValue, c.LogLevel)
	}
	if c.ExternalController != "" {
		if _, port, err := net.SplitHostPort(c.ExternalController); err != nil {
			return fmt.Errorf("external-controller: %w: %v", ErrInvalidValue, err)
		} else if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("external-controller: %w: port %q", ErrInvalidValue, port)
		}
	}
	return nil
}

// ToMapping returns the config as the handle-field overlay applied to every
// generated configuration.
func (c Config) ToMapping() mapping.Mapping {
	m := mapping.Mapping{
		"allow-lan":           c.AllowLan,
		"mode":                c.Mode,
		"log-level":           c.LogLevel,
		"ipv6":                c.IPv6,
		"external-controller": c.ExternalController,
		"secret":              c.Secret,
		"unified-delay":       c.UnifiedDelay,
	}
	for _, p := range c.ports() {
		m[p.key] = p.port
	}
	return m
}

// Keys lists the settable keys in persisted order.
func Keys() []string {
	return []string{
		"port", "socks-port", "mixed-port", "redir-port", "tproxy-port",
		"allow-lan", "mode", "log-level", "ipv6",
		"external-controller", "secret", "unified-delay",
	}
}

// Patch returns a builder setting the single key to the parsed value.
func Patch(key, value string) (Builder, error) {
	var b Builder
	key = strings.ToLower(key)
	switch key {
	case "port", "socks-port", "mixed-port", "redir-port", "tproxy-port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return Builder{}, fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "port":
			b.Port = &n
		case "socks-port":
			b.SocksPort = &n
		case "mixed-port":
			b.MixedPort = &n
		case "redir-port":
			b.RedirPort = &n
		default:
			b.TProxyPort = &n
		}
	case "allow-lan", "ipv6", "unified-delay":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return Builder{}, fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "allow-lan":
			b.AllowLan = &v
		case "ipv6":
			b.IPv6 = &v
		default:
			b.UnifiedDelay = &v
		}
	case "mode":
		b.Mode = &value
	case "log-level":
		b.LogLevel = &value
	case "external-controller":
		b.ExternalController = &value
	case "secret":
		b.Secret = &value
	default:
		return Builder{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return b, nil
}

func merge[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }
