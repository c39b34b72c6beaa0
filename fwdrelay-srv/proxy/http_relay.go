package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/stats"
)

// relayHTTP forwards one plain HTTP request to its origin and streams the
// response back. Only request body bytes that already sit in the client
// reader when the headers are done are forwarded; anything arriving later
// is not sent to the origin.
func (s *session) relayHTTP(ctx context.Context, req RequestLine, m stats.RequestMetrics) (stats.RequestMetrics, error) {
	target, pathAndQuery, err := ResolveHTTPTarget(req.Target)
	if err != nil {
		return s.failHTTP(ctx, m, err)
	}

	origin, err := s.dialer.DialTarget(ctx, target)
	if err != nil {
		return s.failHTTP(ctx, m, err)
	}
	defer func() {
		if closeErr := origin.Close(); closeErr != nil && !isPeerClosed(closeErr) {
			logger.Debug("%s", logger.WithRequestID(s.id, "Error closing origin connection: %v", closeErr))
		}
	}()

	logger.Debug("%s", logger.WithRequestID(s.id, "Relaying %s %s to %s", req.Method, pathAndQuery, target))

	w := bufio.NewWriterSize(origin, ForwardChunkSize)
	if _, err := w.WriteString(req.Method + " " + pathAndQuery + " HTTP/1.1" + crlf); err != nil {
		return s.failHTTP(ctx, m, newCodedError(ErrCodeHTTPRequestWriteFailed, err))
	}
	if _, err := relayHeaders(w, s.reader); err != nil {
		return s.failHTTP(ctx, m, err)
	}

	if n := s.reader.Buffered(); n > 0 {
		if _, outcome, err := forward(origin, io.LimitReader(s.reader, int64(n))); outcome == ForwardFailed {
			return s.failHTTP(ctx, m, newCodedError(ErrCodeHTTPBodyWriteFailed, err))
		}
	}

	buf := getBuffer()
	defer putBuffer(buf)

	n, readErr := origin.Read(*buf)
	if n > 0 {
		first := (*buf)[:n]
		if code, ok := parseStatusLine(first); ok {
			m.StatusCode = code
		}
		written, err := s.conn.Write(first)
		m.ContentLength += int64(written)
		if err != nil {
			if isPeerClosed(err) {
				return m, nil
			}
			return s.failHTTP(ctx, m, newCodedError(ErrCodeHTTPResponseWriteFailed, err))
		}
	}
	if readErr != nil {
		if errors.Is(readErr, io.EOF) || isPeerClosed(readErr) {
			return m, nil
		}
		return s.failHTTP(ctx, m, newCodedError(ErrCodeHTTPResponseReadFailed, readErr))
	}

	written, outcome, err := forward(s.conn, origin)
	m.ContentLength += written
	if outcome == ForwardFailed {
		return s.failHTTP(ctx, m, newCodedError(ErrCodeHTTPForwardFailed, err))
	}
	return m, nil
}

// failHTTP records the internal error status and reports err to the
// sink's error log and the logger.
func (s *session) failHTTP(ctx context.Context, m stats.RequestMetrics, err error) (stats.RequestMetrics, error) {
	m.StatusCode = stats.StatusInternalError
	s.reportError(ctx, "Error in HTTP relay", err)
	return m, err
}

// parseStatusLine extracts the status code from a leading
// "HTTP/<ver> <code> <reason>" line in chunk.
func parseStatusLine(chunk []byte) (int, bool) {
	end := bytes.IndexByte(chunk, '\n')
	if end < 0 {
		return 0, false
	}
	line := strings.TrimSuffix(string(chunk[:end]), "\r")
	if !strings.HasPrefix(line, "HTTP/") {
		return 0, false
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || len(parts[1]) != 3 {
		return 0, false
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 {
		return 0, false
	}
	return code, true
}
