package stats

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
)

// BatchSink is implemented by sinks that can persist many records at once.
// BufferedSink prefers it over one LogRequest call per record.
type BatchSink interface {
	LogRequests(ctx context.Context, records []RequestMetrics) error
	LogErrors(ctx context.Context, records []ErrorRecord) error
}

// SQLSink persists request records into a SQL database.
type SQLSink struct {
	db     *sql.DB
	driver string
}

func newSQLSink(db *sql.DB, driver string, schema []string) (*SQLSink, error) {
	s := &SQLSink{db: db, driver: driver}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLSink) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const insertRequestQuery = `INSERT INTO request_metrics
	(session_id, timestamp, method, url, duration_ms, content_length, status_code)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

const insertErrorQuery = `INSERT INTO proxy_errors (timestamp, message, error, trace)
	VALUES (?, ?, ?, ?)`

// LogRequest records one completed request
func (s *SQLSink) LogRequest(ctx context.Context, m RequestMetrics) error {
	return s.LogRequests(ctx, []RequestMetrics{m})
}

// LogRequests records a batch of completed requests in one transaction
func (s *SQLSink) LogRequests(ctx context.Context, records []RequestMetrics) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.rebind(insertRequestQuery))
	if err != nil {
		return fmt.Errorf("failed to prepare request insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range records {
		if _, err = stmt.ExecContext(ctx, m.SessionID, m.StartTime.UTC(), m.Method, m.Target,
			m.DurationMillis(), m.ContentLength, m.StatusCode); err != nil {
			return fmt.Errorf("failed to record request: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit requests: %w", err)
	}
	return nil
}

// LogError records an error
func (s *SQLSink) LogError(ctx context.Context, message string, err error) error {
	return s.LogErrors(ctx, []ErrorRecord{newErrorRecord(message, err)})
}

// LogErrors records a batch of errors
func (s *SQLSink) LogErrors(ctx context.Context, records []ErrorRecord) error {
	query := s.rebind(insertErrorQuery)
	for _, rec := range records {
		if _, err := s.db.ExecContext(ctx, query, rec.Timestamp.UTC(), rec.Message, rec.Err, rec.Trace); err != nil {
			return fmt.Errorf("failed to record error: %w", err)
		}
	}
	return nil
}

// RecentRequests returns the latest records, newest first. The proxy never
// reads its own records back; this and CountErrors serve operator tooling
// and tests that inspect a statistics database.
func (s *SQLSink) RecentRequests(ctx context.Context, limit int) (records []RequestMetrics, err error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT session_id, timestamp, method, url, duration_ms, content_length, status_code
		FROM request_metrics ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var m RequestMetrics
		var durationMs float64
		if err := rows.Scan(&m.SessionID, &m.StartTime, &m.Method, &m.Target, &durationMs, &m.ContentLength, &m.StatusCode); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		m.EndTime = m.StartTime.Add(time.Duration(durationMs * float64(time.Millisecond)))
		records = append(records, m)
	}
	return records, rows.Err()
}

// CountErrors returns the number of recorded errors. It is a read helper
// like RecentRequests.
func (s *SQLSink) CountErrors(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proxy_errors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count errors: %w", err)
	}
	return n, nil
}

// Close closes the database handle
func (s *SQLSink) Close() error {
	return s.db.Close()
}

func newErrorRecord(message string, err error) ErrorRecord {
	rec := ErrorRecord{
		Timestamp: time.Now(),
		Message:   message,
		Trace:     string(debug.Stack()),
	}
	if err != nil {
		rec.Err = err.Error()
	}
	return rec
}
