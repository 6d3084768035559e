package chain

import (
	"encoding/json"
	"fmt"
)

// Level is the severity of a chain log line.
type Level string

// Log levels. LevelLog is plain console output from a script.
const (
	LevelLog   Level = "log"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Log is one diagnostic line produced by a chain step.
type Log struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Errorf builds an error-level log line.
func Errorf(format string, args ...any) Log {
	return Log{Level: LevelError, Message: fmt.Sprintf(format, args...)}
}

// Warnf builds a warn-level log line.
func Warnf(format string, args ...any) Log {
	return Log{Level: LevelWarn, Message: fmt.Sprintf(format, args...)}
}

// String formats the line as "[level] message".
func (l Log) String() string {
	return fmt.Sprintf("[%s] %s", l.Level, l.Message)
}

// Logs indexes log lines by step UID, preserving the order in which steps
// were first recorded. The zero value is ready to use.
type Logs struct {
	order   []string
	entries map[string][]Log
}

// NewLogs returns an empty index.
func NewLogs() *Logs {
	return &Logs{entries: make(map[string][]Log)}
}

// Append records lines under uid. The uid gets an entry even when no lines
// are given.
func (l *Logs) Append(uid string, lines ...Log) {
	if l.entries == nil {
		l.entries = make(map[string][]Log)
	}
	if _, ok := l.entries[uid]; !ok {
		l.order = append(l.order, uid)
		l.entries[uid] = []Log{}
	}
	l.entries[uid] = append(l.entries[uid], lines...)
}

// UIDs returns the recorded step UIDs in processing order.
func (l *Logs) UIDs() []string {
	return append([]string(nil), l.order...)
}

// Get returns the lines recorded under uid.
func (l *Logs) Get(uid string) []Log {
	return l.entries[uid]
}

// Len returns the number of recorded steps.
func (l *Logs) Len() int { return len(l.order) }

// Count returns the number of lines at the given level across all steps.
func (l *Logs) Count(level Level) int {
	n := 0
	for _, lines := range l.entries {
		for _, line := range lines {
			if line.Level == level {
				n++
			}
		}
	}
	return n
}

// Entry is one step's logs, as produced by Entries.
type Entry struct {
	UID  string `json:"uid"`
	Logs []Log  `json:"logs"`
}

// Entries returns the index as an ordered slice.
func (l *Logs) Entries() []Entry {
	out := make([]Entry, 0, len(l.order))
	for _, uid := range l.order {
		out = append(out, Entry{UID: uid, Logs: l.entries[uid]})
	}
	return out
}

// MarshalJSON encodes the index as an ordered list of entries.
func (l *Logs) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}
