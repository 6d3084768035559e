// Package history records enhancement runs and their per-item logs in a
// local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/papapumpkin/corona/internal/chain"
)

// ErrNotFound is returned when a run ID has no row.
var ErrNotFound = errors.New("history: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    profile     TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT '',
    digest      TEXT NOT NULL,
    written     INTEGER NOT NULL DEFAULT 0,
    errors      INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS run_logs (
    run_id   INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq      INTEGER NOT NULL,
    uid      TEXT NOT NULL,
    level    TEXT NOT NULL DEFAULT '',
    message  TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, seq)
);
`

// Run is one recorded enhancement run.
type Run struct {
	ID        int64
	Profile   string
	// Source names what caused the run: a domain name or "watch".
	Source    string
	Digest    string
	Written   bool
	Errors    int
	CreatedAt time.Time
	Logs      []chain.Entry
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps the PRAGMAs below
	// applied to every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores a run and its logs in one transaction and returns the run ID.
// Entries with no lines are kept as a single row with an empty level so the
// item still shows up in the run.
func (s *Store) Record(ctx context.Context, r Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (profile, source, digest, written, errors) VALUES (?, ?, ?, ?, ?)`,
		r.Profile, r.Source, r.Digest, r.Written, r.Errors)
	if err != nil {
		return 0, fmt.Errorf("history: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_logs (run_id, seq, uid, level, message) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("history: prepare log insert: %w", err)
	}
	defer stmt.Close()

	seq := 0
	for _, e := range r.Logs {
		lines := e.Logs
		if len(lines) == 0 {
			lines = []chain.Log{{}}
		}
		for _, l := range lines {
			if _, err := stmt.ExecContext(ctx, id, seq, e.UID, string(l.Level), l.Message); err != nil {
				return 0, fmt.Errorf("history: insert log for %s: %w", e.UID, err)
			}
			seq++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit run: %w", err)
	}
	return id, nil
}

// Recent returns the newest runs first, without logs.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile, source, digest, written, errors, created_at FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return runs, nil
}

// Get returns one run with its logs in recorded order.
func (s *Store) Get(ctx context.Context, id int64) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, profile, source, digest, written, errors, created_at FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT uid, level, message FROM run_logs WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return Run{}, fmt.Errorf("history: query logs: %w", err)
	}
	defer rows.Close()

	logs := chain.NewLogs()
	for rows.Next() {
		var uid, level, msg string
		if err := rows.Scan(&uid, &level, &msg); err != nil {
			return Run{}, fmt.Errorf("history: scan log: %w", err)
		}
		if level == "" {
			logs.Append(uid)
			continue
		}
		logs.Append(uid, chain.Log{Level: chain.Level(level), Message: msg})
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("history: iterate logs: %w", err)
	}
	r.Logs = logs.Entries()
	return r, nil
}

// LastDigest returns the digest of the newest run that wrote the runtime
// file, or "" when none did.
func (s *Store) LastDigest(ctx context.Context) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM runs WHERE written = 1 ORDER BY id DESC LIMIT 1`).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("history: last digest: %w", err)
	}
	return digest, nil
}

// Prune deletes all but the newest keep runs and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var ts string
	if err := sc.Scan(&r.ID, &r.Profile, &r.Source, &r.Digest, &r.Written, &r.Errors, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("history: scan run: %w", err)
	}
	t, err := parseTimestamp(ts)
	if err != nil {
		return Run{}, fmt.Errorf("history: parse run timestamp: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

// modernc.org/sqlite returns RFC 3339 for CURRENT_TIMESTAMP columns; the
// canonical SQLite format is the space-separated one.
var timestampFormats = []string{
	time.RFC3339,
	time.DateTime,
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
