package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
)

// maxBufferedRecords triggers an early flush when reached.
const maxBufferedRecords = 1000

// ErrSinkClosed is returned for records handed to a sink after Close.
var ErrSinkClosed = errors.New("stats sink is closed")

// BufferedSink collects records in memory and hands them to the wrapped
// sink on a fixed interval and on Close.
type BufferedSink struct {
	underlying Sink
	interval   time.Duration

	buffer struct {
		requests []RequestMetrics
		errors   []ErrorRecord
		closed   bool
		mu       sync.Mutex
	}

	flushNow  chan struct{}
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBufferedSink creates a buffered sink with the given flush interval
func NewBufferedSink(underlying Sink, interval time.Duration) *BufferedSink {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	b := &BufferedSink{
		underlying: underlying,
		interval:   interval,
		flushNow:   make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
	}
	b.buffer.requests = make([]RequestMetrics, 0, 64)

	b.wg.Add(1)
	go b.flusher()

	return b
}

// flusher runs in the background until Close
func (b *BufferedSink) flusher() {
	defer b.wg.Done()

	logger.Debug("Starting buffered stats flusher %s", b.interval)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushLogged()
		case <-b.flushNow:
			b.flushLogged()
		case <-b.stopChan:
			b.flushLogged()
			return
		}
	}
}

func (b *BufferedSink) flushLogged() {
	if err := b.Flush(context.Background()); err != nil {
		logger.Warn("Failed to flush buffered stats: %v", err)
	}
}

// LogRequest queues a record for the next flush
func (b *BufferedSink) LogRequest(ctx context.Context, m RequestMetrics) error {
	b.buffer.mu.Lock()
	if b.buffer.closed {
		b.buffer.mu.Unlock()
		return ErrSinkClosed
	}
	b.buffer.requests = append(b.buffer.requests, m)
	full := len(b.buffer.requests) >= maxBufferedRecords
	b.buffer.mu.Unlock()

	if full {
		b.signalFlush()
	}
	return nil
}

// LogError queues an error entry for the next flush
func (b *BufferedSink) LogError(ctx context.Context, message string, err error) error {
	rec := newErrorRecord(message, err)

	b.buffer.mu.Lock()
	if b.buffer.closed {
		b.buffer.mu.Unlock()
		return ErrSinkClosed
	}
	b.buffer.errors = append(b.buffer.errors, rec)
	b.buffer.mu.Unlock()
	return nil
}

func (b *BufferedSink) signalFlush() {
	select {
	case b.flushNow <- struct{}{}:
	default:
	}
}

// Flush writes all queued records to the wrapped sink.
func (b *BufferedSink) Flush(ctx context.Context) error {
	b.buffer.mu.Lock()
	requests := b.buffer.requests
	errs := b.buffer.errors
	b.buffer.requests = make([]RequestMetrics, 0, cap(requests))
	b.buffer.errors = nil
	b.buffer.mu.Unlock()

	if len(requests) == 0 && len(errs) == 0 {
		return nil
	}

	logger.Trace("Flushing %d requests and %d errors", len(requests), len(errs))

	if batch, ok := b.underlying.(BatchSink); ok {
		return errors.Join(batch.LogRequests(ctx, requests), batch.LogErrors(ctx, errs))
	}

	var result []error
	for _, m := range requests {
		if err := b.underlying.LogRequest(ctx, m); err != nil {
			result = append(result, err)
		}
	}
	for _, rec := range errs {
		var cause error
		if rec.Err != "" {
			cause = errors.New(rec.Err)
		}
		if err := b.underlying.LogError(ctx, rec.Message, cause); err != nil {
			result = append(result, err)
		}
	}
	return errors.Join(result...)
}

// Close stops the flusher, flushes remaining records and closes the wrapped
// sink. Records logged afterwards are rejected with ErrSinkClosed.
func (b *BufferedSink) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.buffer.mu.Lock()
		b.buffer.closed = true
		b.buffer.mu.Unlock()

		close(b.stopChan)
		b.wg.Wait()
		if closeErr := b.underlying.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close buffered sink: %w", closeErr)
		}
	})
	return err
}
