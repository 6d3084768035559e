// Package telemetry provides a JSONL event stream for recording what corona
// does to its managed state. Every upsert, subscriber migration, rollback and
// enhancement run is appended as one JSON object per line so a session can be
// audited or followed live.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Event kinds. The transaction kinds mirror the state coordinator's events.
const (
	KindUpsertStart      = "upsert_start"
	KindValidationFailed = "validation_failed"
	KindMigrated         = "migrated"
	KindMigrateFailed    = "migrate_failed"
	KindRolledBack       = "rolled_back"
	KindRollbackFailed   = "rollback_failed"
	KindCommitted        = "committed"
	KindRun              = "run"
)

// Event is a single telemetry record.
type Event struct {
	Timestamp  time.Time `json:"ts"`
	Kind       string    `json:"kind"`
	Domain     string    `json:"domain,omitempty"`
	Subscriber string    `json:"subscriber,omitempty"`
	Error      string    `json:"error,omitempty"`
	Data       any       `json:"data,omitempty"`
}

// Emitter writes telemetry events to a JSONL file. It is safe for concurrent
// use by multiple goroutines. A nil *Emitter is a valid no-op emitter.
type Emitter struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewEmitter creates an Emitter appending to the file at path, creating the
// file and its directory when missing.
func NewEmitter(path string) (*Emitter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Emitter{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes a single event. A zero Timestamp is set to now.
// Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Close closes the underlying file. Calling Close on a nil Emitter is a
// no-op.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}

// Scan reads JSONL lines from r and calls fn with each formatted event.
// Lines that are not valid events are passed through prefixed with "???".
func Scan(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			fn(FormatLine(line))
		}
	}
	return scanner.Err()
}

// FormatLine decodes one JSONL line into a human-readable representation.
func FormatLine(line string) string {
	var evt Event
	if err := json.Unmarshal([]byte(line), &evt); err != nil {
		return "??? " + line
	}
	return Format(evt)
}

// Format renders an event as "[time] kind domain=... key=value".
func Format(evt Event) string {
	parts := []string{fmt.Sprintf("[%s]", evt.Timestamp.Local().Format(time.TimeOnly)), evt.Kind}
	if evt.Domain != "" {
		parts = append(parts, "domain="+evt.Domain)
	}
	if evt.Subscriber != "" {
		parts = append(parts, "subscriber="+evt.Subscriber)
	}
	if evt.Data != nil {
		if m, ok := evt.Data.(map[string]any); ok {
			parts = append(parts, formatDataMap(m))
		} else {
			data, _ := json.Marshal(evt.Data)
			parts = append(parts, string(data))
		}
	}
	if evt.Error != "" {
		parts = append(parts, fmt.Sprintf("error=%q", evt.Error))
	}
	return strings.Join(parts, " ")
}

func formatDataMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, m[k])
	}
	return b.String()
}
