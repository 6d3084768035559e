// Package mapping provides the generic configuration document used across
// corona: a string-keyed tree of YAML-compatible values with deep copy,
// JSON merge-patch semantics and ordered YAML rendering.
//
// Every value held in a Mapping is normalized to the shapes produced by
// decoding YAML: nil, bool, int, float64, string, []any and map[string]any.
// Decoders in this package and in script runners call Normalize so values
// from JSON, TOML and JavaScript compare equal to their YAML counterparts.
package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Mapping is a configuration document keyed by field name.
type Mapping map[string]any

// Clone returns a deep copy of m. A nil mapping clones to an empty one.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the lowercased top-level keys of m, sorted and deduplicated.
func (m Mapping) Keys() []string {
	seen := make(map[string]bool, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		lk := strings.ToLower(k)
		if seen[lk] {
			continue
		}
		seen[lk] = true
		keys = append(keys, lk)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether m contains key.
func (m Mapping) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Section returns the nested mapping stored under key. The second result is
// false when the key is absent or does not hold a mapping. The returned
// mapping aliases the stored value.
func (m Mapping) Section(key string) (Mapping, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	return AsMapping(v)
}

// AsMapping converts a decoded value into a Mapping when it is one.
func AsMapping(v any) (Mapping, bool) {
	switch t := v.(type) {
	case Mapping:
		return t, true
	case map[string]any:
		return Mapping(t), true
	}
	return nil, false
}

// SetDefault stores value under key only when the key is absent.
func (m Mapping) SetDefault(key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = Normalize(value)
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Mapping:
		return map[string]any(t.Clone())
	case map[string]any:
		return map[string]any(Mapping(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// Normalize converts v into the canonical value shapes described in the
// package documentation. Values that cannot be represented are formatted
// with fmt.Sprint.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t
	case int:
		return t
	case int8:
		return int(t)
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case uint:
		return int(t)
	case uint8:
		return int(t)
	case uint16:
		return int(t)
	case uint32:
		return int(t)
	case uint64:
		if t > math.MaxInt64 {
			return float64(t)
		}
		return int(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case Mapping:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeMap(e)
		}
		return out
	}
	return fmt.Sprint(v)
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[k] = Normalize(e)
	}
	return out
}

// FromValue normalizes v and returns it as a Mapping. It fails when v is not
// a mapping.
func FromValue(v any) (Mapping, error) {
	if v == nil {
		return Mapping{}, nil
	}
	m, ok := AsMapping(Normalize(v))
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotMapping, v)
	}
	return m, nil
}

// Lowercase returns a shallow copy of m with every top-level key lowercased.
// When two keys fold to the same name the one already in lowercase wins,
// otherwise the greatest original spelling does, so the result does not
// depend on map iteration order.
func Lowercase(m Mapping) Mapping {
	out := make(Mapping, len(m))
	from := make(map[string]string, len(m))
	for k, v := range m {
		lk := strings.ToLower(k)
		if prev, ok := from[lk]; ok && (prev == lk || (k != lk && prev > k)) {
			continue
		}
		out[lk] = v
		from[lk] = k
	}
	return out
}
