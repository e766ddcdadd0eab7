// Package sqlite implements store.Log on an embedded SQLite database using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS notified_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	notified_at TEXT NOT NULL
);`

// Log is a store.Log backed by the notified_events table. Rows are only ever
// inserted.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn("could not enable sqlite WAL mode", "path", path, "error", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &Log{db: db, now: time.Now}, nil
}

// Load returns all ids in insertion order.
func (l *Log) Load(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id FROM notified_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query notified events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan notified event: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Append inserts id; inserting an existing id is a no-op.
func (l *Log) Append(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notified_events(id, notified_at) VALUES(?, ?)`,
		id, l.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert notified event: %w", err)
	}
	return nil
}

func (l *Log) Close() error {
	return l.db.Close()
}
