package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/stats"
	"github.com/google/uuid"
)

// session handles one accepted client connection from the request line
// until both connections are closed.
type session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	dialer *Dialer
	sink   stats.Sink
}

func newSession(conn net.Conn, dialer *Dialer, sink stats.Sink) *session {
	return &session{
		id:     uuid.NewString(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, ForwardChunkSize),
		dialer: dialer,
		sink:   sink,
	}
}

// run serves the session and closes the client connection. At most one
// request record is emitted, and only after a request line was parsed.
func (s *session) run(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil && !isPeerClosed(err) {
			logger.Debug("%s", logger.WithRequestID(s.id, "Error closing client connection: %v", err))
		}
	}()

	m := stats.RequestMetrics{
		SessionID: s.id,
		StartTime: time.Now(),
	}
	parsed := false
	finished := false

	defer func() {
		if r := recover(); r != nil {
			err := newCodedError(ErrCodePanicRecovered, fmt.Errorf("%v", r))
			logger.Error("%s", logger.WithRequestID(s.id, "%v", err))
			if parsed && !finished {
				m.StatusCode = stats.StatusInternalError
				s.finish(ctx, m)
			}
		}
	}()

	req, err := readRequestLine(s.reader)
	if err != nil {
		if errors.Is(err, ErrNoRequest) || errors.Is(err, ErrMalformedRequestLine) {
			logger.Debug("%s", logger.WithRequestID(s.id, "Closing session from %s: %v", s.conn.RemoteAddr(), err))
		} else {
			logger.Debug("%s", logger.WithRequestID(s.id, "Failed to read request line from %s: %v", s.conn.RemoteAddr(), err))
		}
		return
	}
	parsed = true
	m.Method = req.Method
	m.Target = req.Target

	logger.Debug("%s", logger.WithRequestID(s.id, "%s %s from %s", req.Method, req.Target, s.conn.RemoteAddr()))

	var result stats.RequestMetrics
	if req.IsConnect() {
		result, err = s.tunnel(ctx, req, m)
	} else {
		result, err = s.relayHTTP(ctx, req, m)
	}
	if err != nil {
		logger.Debug("%s", logger.WithRequestID(s.id, "Session ended with error: %v", err))
	}

	finished = true
	s.finish(ctx, result)
}

// finish stamps the end time unless the handler already fixed it and
// emits the record. Sink failures only produce a warning.
func (s *session) finish(ctx context.Context, m stats.RequestMetrics) {
	if m.EndTime.IsZero() {
		m.EndTime = time.Now()
	}
	if err := s.sink.LogRequest(ctx, m); err != nil {
		logger.Warn("%s", logger.WithRequestID(s.id, "Failed to record request: %v", err))
	}
	logger.Info("%s", logger.WithRequestID(s.id, "%s %s %d %dB %.1fms",
		m.Method, m.Target, m.StatusCode, m.ContentLength, m.DurationMillis()))
}

// reportError writes err to the logger and to the sink's error log.
func (s *session) reportError(ctx context.Context, message string, err error) {
	logger.Error("%s", logger.WithRequestID(s.id, "%s: %v", message, err))
	if sinkErr := s.sink.LogError(ctx, message, err); sinkErr != nil {
		logger.Warn("%s", logger.WithRequestID(s.id, "Failed to record error: %v", sinkErr))
	}
}
