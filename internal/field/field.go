// Package field holds the field-name allowlists that decide which top-level
// keys of a configuration may survive enhancement.
package field

import (
	"strings"

	"github.com/papapumpkin/corona/internal/mapping"
)

// HandleFields are owned by the clash runtime config domain. Their values are
// overlaid on chain output, so a chain cannot change them.
var HandleFields = []string{
	"mode",
	"port",
	"socks-port",
	"mixed-port",
	"redir-port",
	"tproxy-port",
	"allow-lan",
	"log-level",
	"ipv6",
	"external-controller",
	"secret",
	"unified-delay",
}

// DefaultFields are always allowed through the chain.
var DefaultFields = []string{
	"proxies",
	"proxy-groups",
	"proxy-providers",
	"rules",
	"rule-providers",
}

// OtherFields are engine keys a user must opt into as valid fields before a
// profile or chain item may set them. Built-in corrections and the TUN/DNS
// deriver may still set them.
var OtherFields = []string{
	"dns",
	"tun",
	"ebpf",
	"hosts",
	"script",
	"profile",
	"payload",
	"tunnels",
	"auto-redir",
	"experimental",
	"interface-name",
	"routing-mark",
	"iptables",
	"external-ui",
	"bind-address",
	"authentication",
	"tls",
	"sniffer",
	"geox-url",
	"listeners",
	"sub-rules",
	"geodata-mode",
	"tcp-concurrent",
	"enable-process",
	"find-process-mode",
	"skip-auth-prefixes",
	"external-controller-tls",
	"global-client-fingerprint",
}

// FieldSet is an ordered set of field names. Lookups ignore case.
type FieldSet struct {
	names []string
	index map[string]int
}

// NewFieldSet builds a set from names, keeping the first occurrence of each.
func NewFieldSet(names ...string) FieldSet {
	s := FieldSet{index: make(map[string]int, len(names))}
	for _, n := range names {
		s.add(n)
	}
	return s
}

func (s *FieldSet) add(name string) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return
	}
	if _, ok := s.index[key]; ok {
		return
	}
	s.index[key] = len(s.names)
	s.names = append(s.names, key)
}

// Contains reports whether name is in the set.
func (s FieldSet) Contains(name string) bool {
	_, ok := s.index[strings.ToLower(name)]
	return ok
}

// Names returns the members in declaration order.
func (s FieldSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of members.
func (s FieldSet) Len() int { return len(s.names) }

// Filter returns the entries of m whose key is in the set. Keys keep their
// original spelling. Filtering a filtered mapping by the same set returns an
// equal mapping.
func (s FieldSet) Filter(m mapping.Mapping) mapping.Mapping {
	out := make(mapping.Mapping, len(m))
	for k, v := range m {
		if s.Contains(k) {
			out[k] = v
		}
	}
	return out
}

// Intersect returns the members of names that are in the set, in the order
// they appear in names.
func (s FieldSet) Intersect(names []string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if s.Contains(key) && !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

// Policy pairs the valid and guarded field sets with the filtering switch.
type Policy struct {
	valid   FieldSet
	guarded FieldSet
	filter  bool
}

// NewPolicy builds a policy from explicit lists.
func NewPolicy(valid, guarded []string, filter bool) Policy {
	return Policy{
		valid:   NewFieldSet(valid...),
		guarded: NewFieldSet(guarded...),
		filter:  filter,
	}
}

// DefaultPolicy builds the standard policy. Valid fields are the default and
// handle fields plus whichever of OtherFields appear in userValid. Guarded
// fields are every known field.
func DefaultPolicy(userValid []string, filter bool) Policy {
	others := NewFieldSet(userValid...)
	valid := append(append([]string{}, DefaultFields...), HandleFields...)
	for _, f := range OtherFields {
		if others.Contains(f) {
			valid = append(valid, f)
		}
	}
	guarded := append(append(append([]string{}, HandleFields...), DefaultFields...), OtherFields...)
	return NewPolicy(valid, guarded, filter)
}

// ValidFields returns the fields the base profile and chain may set.
func (p Policy) ValidFields() FieldSet { return p.valid }

// GuardedFields returns the full allowlist applied after all transformations.
func (p Policy) GuardedFields() FieldSet { return p.guarded }

// FilterEnabled reports whether chain output is filtered by the valid set.
func (p Policy) FilterEnabled() bool { return p.filter }

// FilterValid filters m by the valid set when filtering is enabled and
// otherwise returns m unchanged.
func (p Policy) FilterValid(m mapping.Mapping) mapping.Mapping {
	if !p.filter {
		return m
	}
	return p.valid.Filter(m)
}

// FilterGuarded filters m by the guarded set when filtering is enabled and
// otherwise returns m unchanged.
func (p Policy) FilterGuarded(m mapping.Mapping) mapping.Mapping {
	if !p.filter {
		return m
	}
	return p.guarded.Filter(m)
}

// IsHandle reports whether name is a handle field.
func IsHandle(name string) bool {
	lk := strings.ToLower(name)
	for _, h := range HandleFields {
		if h == lk {
			return true
		}
	}
	return false
}
