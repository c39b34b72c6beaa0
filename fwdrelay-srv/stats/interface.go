package stats

import (
	"context"
	"time"
)

// Status codes recorded for outcomes that never produced an origin status line
const (
	StatusUnrecorded        = 0
	StatusTunnelEstablished = 200
	StatusInternalError     = 500
	StatusBadGateway        = 502
)

// RequestMetrics is the per-request record built up by a session and
// emitted once when the session ends.
type RequestMetrics struct {
	SessionID     string
	Method        string
	Target        string // Request-target as sent by the client
	StartTime     time.Time
	EndTime       time.Time
	ContentLength int64 // Bytes written back to the client
	StatusCode    int
}

// Duration returns EndTime - StartTime, never negative.
func (m RequestMetrics) Duration() time.Duration {
	d := m.EndTime.Sub(m.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// DurationMillis returns the duration in fractional milliseconds.
func (m RequestMetrics) DurationMillis() float64 {
	return float64(m.Duration()) / float64(time.Millisecond)
}

// ErrorRecord is a logged failure, kept for sinks that batch writes.
type ErrorRecord struct {
	Timestamp time.Time
	Message   string
	Err       string
	Trace     string
}

// Sink receives completed request records and error reports.
// Implementations must be safe for concurrent use by many sessions.
type Sink interface {
	// LogRequest appends one completed-request record.
	LogRequest(ctx context.Context, m RequestMetrics) error
	// LogError appends an error entry with a diagnostic trace.
	LogError(ctx context.Context, message string, err error) error
	// Close flushes pending records and releases resources
	Close() error
}
