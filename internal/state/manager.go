package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Builder is a draft of a T. Merge returns a copy of the receiver with every
// field set in patch overriding the receiver's. Build validates the draft.
type Builder[T, B any] interface {
	Merge(patch B) B
	Build() (T, error)
}

// Manager persists a coordinated state as a YAML document holding its
// builder. The cached builder and the coordinator's state change together.
type Manager[T any, B Builder[T, B]] struct {
	path     string
	defaults func() B
	coord    *Coordinator[T]
	opts     options

	mu      sync.Mutex
	builder B
}

// NewManager returns a manager persisting to path. defaults returns the
// builder used when nothing valid is stored. Options apply to both the
// manager and its coordinator.
func NewManager[T any, B Builder[T, B]](path string, defaults func() B, subs []Subscriber[T], opts ...Option) *Manager[T, B] {
	return &Manager[T, B]{
		path:     path,
		defaults: defaults,
		coord:    NewCoordinator(subs, opts...),
		opts:     buildOptions(opts),
		builder:  defaults(),
	}
}

// Path returns the file the manager persists to.
func (m *Manager[T, B]) Path() string { return m.path }

// TryLoadWithDefaults loads the persisted builder and installs the state it
// builds. A missing, unreadable or invalid file is logged and replaced by
// the defaults. It fails only when the defaults do not build.
func (m *Manager[T, B]) TryLoadWithDefaults(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.read()
	if err == nil {
		b = m.defaults().Merge(b)
		var state T
		if state, err = b.Build(); err == nil {
			m.coord.Load(state)
			m.builder = b
			return nil
		}
		err = &ChangeError{Kind: KindValidation, Domain: m.opts.name, Err: err}
	}
	if !errors.Is(err, fs.ErrNotExist) {
		m.opts.logger.WarnContext(ctx, "using default state", "domain", m.opts.name, "path", m.path, "error", err)
	}

	b = m.defaults()
	state, err := b.Build()
	if err != nil {
		return &ChangeError{Kind: KindValidation, Domain: m.opts.name, Err: fmt.Errorf("defaults: %w", err)}
	}
	m.coord.Load(state)
	m.builder = b
	return nil
}

// Read parses the builder persisted at the manager's path.
func (m *Manager[T, B]) Read() (B, error) {
	return m.read()
}

func (m *Manager[T, B]) read() (B, error) {
	var b B
	data, err := os.ReadFile(m.path)
	if err != nil {
		return b, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("%w: parsing %s: %w", ErrReadConfig, filepath.Base(m.path), err)
	}
	return b, nil
}

// Upsert merges patch into the cached builder and offers the result to the
// coordinator. On success the merged builder is cached and written to disk.
// A write failure is returned wrapping ErrWriteConfig; the new state stays
// committed.
func (m *Manager[T, B]) Upsert(ctx context.Context, patch B) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := m.builder.Merge(patch)
	if err := m.coord.Upsert(ctx, merged); err != nil {
		return err
	}
	m.builder = merged
	if err := m.save(merged); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteConfig, err)
	}
	return nil
}

func (m *Manager[T, B]) save(b B) error {
	var buf bytes.Buffer
	if m.opts.header != "" {
		for _, line := range strings.Split(strings.TrimRight(m.opts.header, "\n"), "\n") {
			buf.WriteString("# " + line + "\n")
		}
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(m.path), err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(m.path), err)
	}
	return WriteFile(m.path, buf.Bytes(), 0o644)
}

// Current returns the committed state.
func (m *Manager[T, B]) Current() (T, bool) {
	return m.coord.Current()
}

// Builder returns the cached builder the current state was built from.
func (m *Manager[T, B]) Builder() B {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builder
}

// WriteFile writes data to path atomically by writing a sibling temp file
// and renaming it over path. Missing parent directories are created.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}
