// Package journal keeps a local SQLite record of delivery outcomes. It is a
// diagnostic log only; nothing in it is ever resent.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"
)

// timeLayout is the format SQLite date functions understand. created_at is
// declared TEXT so the driver hands it back verbatim.
const timeLayout = "2006-01-02 15:04:05"

// Journal wraps the SQL database connection.
type Journal struct {
	*sql.DB
}

// New opens (creating if needed) the journal at path.
func New(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	j := &Journal{DB: sqlDB}

	if err := j.configure(); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("failed to configure journal: %w", err)
	}

	if err := j.createSchema(); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return j, nil
}

func (j *Journal) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := j.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (j *Journal) createSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		status TEXT NOT NULL,
		delivered INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		status_code INTEGER DEFAULT 0,
		error TEXT,
		bot_id TEXT,
		channel_id TEXT,
		environment TEXT,
		duration_ms INTEGER DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_created ON deliveries(created_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_record ON deliveries(record_id);
	`
	_, err := j.ExecContext(context.Background(), query)
	return err
}

// Close closes the journal gracefully.
func (j *Journal) Close() error {
	// Checkpoint WAL before closing
	_, _ = j.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return j.DB.Close()
}
