package stats

import (
	"database/sql"
	"fmt"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS request_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		duration_ms REAL NOT NULL,
		content_length INTEGER NOT NULL,
		status_code INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_metrics_timestamp ON request_metrics(timestamp)`,
	`CREATE TABLE IF NOT EXISTS proxy_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		message TEXT NOT NULL,
		error TEXT NOT NULL,
		trace TEXT NOT NULL
	)`,
}

// NewSQLiteSink creates a new SQLite-based request sink
func NewSQLiteSink(dbPath string) (*SQLSink, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	sink, err := newSQLSink(db, "sqlite3", sqliteSchema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Initialized request sink sqlite at %s", dbPath)
	return sink, nil
}
