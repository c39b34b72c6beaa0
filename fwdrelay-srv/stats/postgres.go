package stats

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	_ "github.com/lib/pq"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS request_metrics (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		duration_ms DOUBLE PRECISION NOT NULL,
		content_length BIGINT NOT NULL,
		status_code INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_metrics_timestamp ON request_metrics(timestamp)`,
	`CREATE TABLE IF NOT EXISTS proxy_errors (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		message TEXT NOT NULL,
		error TEXT NOT NULL,
		trace TEXT NOT NULL
	)`,
}

// NewPostgreSQLSink creates a new PostgreSQL-based request sink
func NewPostgreSQLSink(connectionString string) (*SQLSink, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	sink, err := newSQLSink(db, "postgres", postgresSchema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Initialized request sink postgresql")
	return sink, nil
}
