package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for decoding configuration documents.
var (
	// ErrNotMapping indicates a document whose top level is not a mapping.
	ErrNotMapping = errors.New("document is not a mapping")
	// ErrUnsupportedFormat indicates a file extension with no known decoder.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Format identifies a document encoding.
type Format string

// Supported document formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatOf infers the document format from a file name.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// Decode parses data in the given format into a Mapping. An empty document
// decodes to an empty mapping.
func Decode(format Format, data []byte) (Mapping, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Mapping{}, nil
	}
	var raw any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	case FormatTOML:
		var doc map[string]any
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
		raw = doc
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return FromValue(raw)
}

// DecodeYAML parses a YAML document into a Mapping.
func DecodeYAML(data []byte) (Mapping, error) {
	return Decode(FormatYAML, data)
}

// ReadFile reads and decodes the document at path, choosing the decoder by
// file extension.
func ReadFile(path string) (Mapping, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := Decode(format, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// Node renders m as a YAML mapping node. Top-level keys listed in order come
// first, in that order; the remaining keys follow sorted. Nested mappings are
// emitted with sorted keys so output is deterministic.
func Node(m Mapping, order []string) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range OrderedKeys(m, order) {
		var val yaml.Node
		if err := val.Encode(m[k]); err != nil {
			return nil, fmt.Errorf("encoding %q: %w", k, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&val,
		)
	}
	return node, nil
}

// OrderedKeys returns the keys of m with the keys named in order first (in
// that order, skipping absent ones) followed by the rest sorted.
func OrderedKeys(m Mapping, order []string) []string {
	keys := make([]string, 0, len(m))
	placed := make(map[string]bool, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok && !placed[k] {
			keys = append(keys, k)
			placed[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !placed[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// EncodeYAML renders m as a YAML document using the key order described in
// Node, preceded by an optional comment header.
func EncodeYAML(m Mapping, order []string, header string) ([]byte, error) {
	node, err := Node(m, order)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if header != "" {
		for _, line := range strings.Split(strings.TrimRight(header, "\n"), "\n") {
			buf.WriteString("# ")
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	return buf.Bytes(), nil
}
