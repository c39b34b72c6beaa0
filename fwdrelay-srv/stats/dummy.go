package stats

import "context"

// DummySink is a no-op implementation of Sink
// It is used when a backend is disabled and as a test double
type DummySink struct{}

// NewDummySink creates a new dummy sink
func NewDummySink() *DummySink {
	return &DummySink{}
}

// LogRequest records a request (no-op)
func (d *DummySink) LogRequest(ctx context.Context, m RequestMetrics) error {
	return nil
}

// LogError records an error (no-op)
func (d *DummySink) LogError(ctx context.Context, message string, err error) error {
	return nil
}

// Close does nothing for dummy sink
func (d *DummySink) Close() error {
	return nil
}
