package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aluiziolira/go-adwatch/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      TEXT    NOT NULL,
	kind    TEXT    NOT NULL,
	page_id TEXT    NOT NULL DEFAULT '',
	country TEXT    NOT NULL DEFAULT '',
	url     TEXT    NOT NULL DEFAULT '',
	count   INTEGER NOT NULL,
	source  TEXT    NOT NULL DEFAULT '',
	error   TEXT    NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS collections (
	id            TEXT PRIMARY KEY,
	position      INTEGER NOT NULL,
	name          TEXT NOT NULL,
	url           TEXT NOT NULL,
	folder_id     TEXT NOT NULL DEFAULT '',
	observations  TEXT NOT NULL DEFAULT '',
	current_count INTEGER NOT NULL DEFAULT 0,
	last_updated  TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL DEFAULT '',
	history       TEXT NOT NULL DEFAULT '[]'
);
`

// SQLite holds the event log and the collections in one database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps in-memory databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Events returns the event log view of the database.
func (s *SQLite) Events() *SQLiteEvents {
	return &SQLiteEvents{db: s.db}
}

// Collections returns the collection store view of the database.
func (s *SQLite) Collections() *SQLiteCollections {
	return &SQLiteCollections{db: s.db}
}

// SQLiteEvents is an event log backed by the events table.
type SQLiteEvents struct {
	db *sql.DB
}

// Load returns events in insertion order.
func (e *SQLiteEvents) Load(ctx context.Context) ([]models.HistoryEvent, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT ts, kind, page_id, country, url, count, source, error FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.HistoryEvent
	for rows.Next() {
		var (
			ev           models.HistoryEvent
			ts, kind, sr string
		)
		if err := rows.Scan(&ts, &kind, &ev.PageID, &ev.Country, &ev.URL, &ev.Count, &sr, &ev.Error); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		ev.Kind = models.TargetKind(kind)
		ev.Source = models.StrategySource(sr)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Append inserts events in one transaction.
func (e *SQLiteEvents) Append(ctx context.Context, events []models.HistoryEvent) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (ts, kind, page_id, country, url, count, source, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, formatTime(ev.Timestamp), string(ev.Kind), ev.PageID,
			ev.Country, ev.URL, ev.Count, string(ev.Source), ev.Error); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SQLiteCollections is a collection store backed by the collections table.
type SQLiteCollections struct {
	db *sql.DB
}

// Load returns collections in saved order.
func (c *SQLiteCollections) Load(ctx context.Context) ([]models.Collection, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, url, folder_id, observations, current_count,
		last_updated, created_at, history FROM collections ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var out []models.Collection
	for rows.Next() {
		var (
			col                       models.Collection
			lastUpdated, created, raw string
		)
		if err := rows.Scan(&col.ID, &col.Name, &col.URL, &col.FolderID, &col.Observations,
			&col.CurrentCount, &lastUpdated, &created, &raw); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		if col.LastUpdatedAt, err = parseTime(lastUpdated); err != nil {
			return nil, err
		}
		if col.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &col.DailyHistory); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", col.ID, err)
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return out, nil
}

// Save replaces the table contents with collections.
func (c *SQLiteCollections) Save(ctx context.Context, collections []models.Collection) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collections`); err != nil {
		return fmt.Errorf("clear collections: %w", err)
	}
	for i, col := range collections {
		history := col.DailyHistory
		if history == nil {
			history = []models.DailyEntry{}
		}
		raw, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("encode history of %s: %w", col.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO collections (id, position, name, url, folder_id,
			observations, current_count, last_updated, created_at, history) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			col.ID, i, col.Name, col.URL, col.FolderID, col.Observations, col.CurrentCount,
			formatTime(col.LastUpdatedAt), formatTime(col.CreatedAt), string(raw)); err != nil {
			return fmt.Errorf("insert collection %s: %w", col.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
