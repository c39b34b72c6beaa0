package proxy

import (
	"context"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/stats"
)

const (
	connectionEstablishedReply = "HTTP/1.1 200 Connection Established\r\n\r\n"
	badGatewayReply            = "HTTP/1.1 502 Bad Gateway\r\n\r\n"
)

type tunnelDirection struct {
	name    string
	written int64
	outcome ForwardOutcome
	err     error
}

// tunnel answers a CONNECT request and relays bytes in both directions.
// It returns as soon as either direction ends. The metrics describe the
// tunnel setup only; relayed volume is not counted.
func (s *session) tunnel(ctx context.Context, req RequestLine, m stats.RequestMetrics) (stats.RequestMetrics, error) {
	// The header block must be gone before anything is written back, so the
	// client reader is positioned at the tunneled payload.
	if _, err := discardHeaders(s.reader); err != nil {
		m.StatusCode = stats.StatusInternalError
		s.reportError(ctx, "Error reading CONNECT headers", err)
		return m, err
	}

	target, err := ResolveConnectTarget(req.Target)
	if err != nil {
		return s.failTunnel(ctx, m, err)
	}

	origin, err := s.dialer.DialTarget(ctx, target)
	if err != nil {
		return s.failTunnel(ctx, m, err)
	}
	defer func() {
		if closeErr := origin.Close(); closeErr != nil && !isPeerClosed(closeErr) {
			logger.Debug("%s", logger.WithRequestID(s.id, "Error closing tunnel origin: %v", closeErr))
		}
	}()

	if _, err := s.conn.Write([]byte(connectionEstablishedReply)); err != nil {
		m.StatusCode = stats.StatusInternalError
		err = newCodedError(ErrCodeHTTPResponseWriteFailed, err)
		s.reportError(ctx, "Error answering CONNECT", err)
		return m, err
	}
	m.StatusCode = stats.StatusTunnelEstablished
	m.EndTime = time.Now()

	logger.Debug("%s", logger.WithRequestID(s.id, "Tunnel established to %s", target))

	// Buffered so the direction that ends second never blocks on send
	done := make(chan tunnelDirection, 2)
	go func() {
		n, outcome, err := forward(origin, s.reader)
		done <- tunnelDirection{name: "client->origin", written: n, outcome: outcome, err: err}
	}()
	go func() {
		n, outcome, err := forward(s.conn, origin)
		done <- tunnelDirection{name: "origin->client", written: n, outcome: outcome, err: err}
	}()

	first := <-done
	logger.Debug("%s", logger.WithRequestID(s.id, "Tunnel to %s closed by %s after %d bytes (%s)",
		target, first.name, first.written, first.outcome))
	if first.outcome == ForwardFailed {
		s.reportError(ctx, "Error in tunnel", first.err)
	}
	return m, nil
}

// failTunnel answers the client with 502 and records it.
func (s *session) failTunnel(ctx context.Context, m stats.RequestMetrics, err error) (stats.RequestMetrics, error) {
	m.StatusCode = stats.StatusBadGateway
	if _, writeErr := s.conn.Write([]byte(badGatewayReply)); writeErr != nil {
		logger.Debug("%s", logger.WithRequestID(s.id, "Error writing 502 reply: %v", writeErr))
	}
	m.EndTime = time.Now()
	s.reportError(ctx, "Error establishing tunnel", err)
	return m, err
}
