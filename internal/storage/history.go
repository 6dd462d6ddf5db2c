package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pfrederiksen/web-monitor/internal/logger"
)

// historyPragmas tune the connection before migration.
var historyPragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
}

const historySchema = `
CREATE TABLE IF NOT EXISTS observations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id    TEXT    NOT NULL,
	at          TEXT    NOT NULL,
	found       INTEGER NOT NULL,
	text        TEXT,
	transition  TEXT    NOT NULL,
	notified    TEXT,
	error       TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_observations_at ON observations(at);
`

// Observation is one poll cycle as recorded in the history.
type Observation struct {
	CycleID    string        `json:"cycle_id"`
	At         time.Time     `json:"at"`
	Found      bool          `json:"found"`
	Text       string        `json:"text,omitempty"`
	Transition string        `json:"transition"`
	Notified   string        `json:"notified,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// History records observations in SQLite.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// A failed pragma leaves SQLite defaults in place; the history still works.
	for _, pragma := range historyPragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.Warn("SQLite pragma failed", logger.Fields{"pragma": pragma, "error": err.Error()})
		}
	}

	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating history: %w", err)
	}

	return &History{db: db}, nil
}

// Append records one observation.
func (h *History) Append(ctx context.Context, o Observation) error {
	if o.At.IsZero() {
		o.At = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO observations(cycle_id, at, found, text, transition, notified, error, duration_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		o.CycleID, o.At.UTC().Format(time.RFC3339Nano), o.Found, nullStr(o.Text), o.Transition,
		nullStr(o.Notified), nullStr(o.Error), o.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("appending observation: %w", err)
	}
	return nil
}

// Recent returns up to n observations, newest first.
func (h *History) Recent(ctx context.Context, n int) ([]Observation, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT cycle_id, at, found, text, transition, notified, error, duration_ms
		 FROM observations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			o                     Observation
			at                    string
			text, notified, errTx sql.NullString
			durationMS            int64
		)
		if err := rows.Scan(&o.CycleID, &at, &o.Found, &text, &o.Transition, &notified, &errTx, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		o.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parsing observation time: %w", err)
		}
		o.Text = text.String
		o.Notified = notified.String
		o.Error = errTx.String
		o.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
