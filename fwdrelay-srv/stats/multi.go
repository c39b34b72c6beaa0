package stats

import (
	"context"
	"errors"
)

// MultiSink fans every record out to all of its sinks
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// LogRequest forwards m to every sink and joins their errors
func (m *MultiSink) LogRequest(ctx context.Context, rec RequestMetrics) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.LogRequest(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogError forwards the error entry to every sink
func (m *MultiSink) LogError(ctx context.Context, message string, err error) error {
	var errs []error
	for _, s := range m.sinks {
		if sinkErr := s.LogError(ctx, message, err); sinkErr != nil {
			errs = append(errs, sinkErr)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
