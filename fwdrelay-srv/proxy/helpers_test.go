package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/config"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// recordingSink keeps every record for inspection
type recordingSink struct {
	mu       sync.Mutex
	requests []stats.RequestMetrics
	errors   []string
}

func (r *recordingSink) LogRequest(ctx context.Context, m stats.RequestMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, m)
	return nil
}

func (r *recordingSink) LogError(ctx context.Context, message string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
	return nil
}

func (r *recordingSink) Close() error {
	return nil
}

func (r *recordingSink) Requests() []stats.RequestMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stats.RequestMetrics(nil), r.requests...)
}

func (r *recordingSink) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// waitForRequests waits until the sink holds n records and returns them
func waitForRequests(t *testing.T, sink *recordingSink, n int) []stats.RequestMetrics {
	t.Helper()
	require.Eventually(t, func() bool { return len(sink.Requests()) >= n }, testTimeout, 5*time.Millisecond)
	records := sink.Requests()
	require.Len(t, records, n)
	return records
}

// startTestProxy serves cfg on a loopback port and returns its address
func startTestProxy(t *testing.T, cfg *config.Config, sink stats.Sink) string {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p, err := NewProxy(cfg, sink)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- p.StartWithListener(listener)
	}()

	t.Cleanup(func() {
		assert.NoError(t, p.Stop())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(testTimeout):
			t.Error("proxy did not stop")
		}
	})

	return listener.Addr().String()
}

// startRawOrigin accepts TCP connections and passes each one to handle
func startRawOrigin(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(testTimeout))
				handle(conn)
			}()
		}
	}()

	return listener.Addr().String()
}

// readHead reads a request line and headers from r
func readHead(r *bufio.Reader) (string, []string, error) {
	requestLine, err := readLine(r)
	if err != nil {
		return "", nil, err
	}
	var headers []string
	for {
		line, err := readLine(r)
		if err != nil {
			return requestLine, headers, err
		}
		if line == "" {
			return requestLine, headers, nil
		}
		headers = append(headers, line)
	}
}

// unusedAddr returns a loopback address nothing listens on
func unusedAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

// roundTrip writes raw to the proxy and returns everything read until the
// proxy closes the connection.
func roundTrip(t *testing.T, proxyAddr, raw string) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", proxyAddr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(testTimeout)))

	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)

	data, err := io.ReadAll(conn)
	if err != nil && !errors.Is(err, net.ErrClosed) && !isPeerClosed(err) {
		require.NoError(t, err)
	}
	return data
}
