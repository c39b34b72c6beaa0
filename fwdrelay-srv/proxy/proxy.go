package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/config"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/stats"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
	stopWaitTimeout  = 5 * time.Second
)

// Proxy accepts client connections and serves each one in its own session.
type Proxy struct {
	config *config.Config
	sink   stats.Sink
	dialer *Dialer

	mu       sync.Mutex
	listener net.Listener
	stopping atomic.Bool
	sessions sync.WaitGroup
}

// NewProxy creates a proxy for cfg that reports to sink. A nil sink
// discards all records.
func NewProxy(cfg *config.Config, sink stats.Sink) (*Proxy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if sink == nil {
		sink = stats.NewDummySink()
	}
	return &Proxy{
		config: cfg,
		sink:   sink,
		dialer: NewDialer(cfg),
	}, nil
}

// Start listens on the configured address and serves until Stop.
func (p *Proxy) Start() error {
	listener, err := net.Listen("tcp", p.config.ListenAddress)
	if err != nil {
		return newCodedError(ErrCodeListenerCreateFailed, fmt.Errorf("listen on %s: %w", p.config.ListenAddress, err))
	}
	return p.StartWithListener(listener)
}

// StartWithListener serves connections accepted from listener until Stop.
// It returns nil once the listener is closed.
func (p *Proxy) StartWithListener(listener net.Listener) error {
	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()

	logger.Info("Starting proxy server on %s", listener.Addr().String())

	backoff := time.Duration(0)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if p.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			logger.Warn("Accept error: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		p.sessions.Add(1)
		go func() {
			defer p.sessions.Done()
			newSession(conn, p.dialer, p.sink).run(context.Background())
		}()
	}
}

// Addr returns the listening address, or nil before the proxy is started.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop closes the listener and waits a bounded time for running sessions.
// Sessions are never interrupted.
func (p *Proxy) Stop() error {
	p.stopping.Store(true)

	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()

	var closeErr error
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		p.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopWaitTimeout):
		logger.Warn("Proxy stopped with sessions still running")
	}
	return closeErr
}
