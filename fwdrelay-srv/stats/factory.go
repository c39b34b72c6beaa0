package stats

import (
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/config"
	"github.com/prometheus/client_golang/prometheus"
)

// NewDatabaseSink creates the statistics database sink described by cfg.
// A disabled configuration yields a DummySink.
func NewDatabaseSink(cfg *config.StatisticsConfig) (Sink, error) {
	if !cfg.Enabled {
		return NewDummySink(), nil
	}

	var sink Sink
	var err error

	switch cfg.Backend {
	case "sqlite", "":
		sqlitePath := cfg.SQLitePath
		if sqlitePath == "" {
			sqlitePath = "fwdrelay_stats.db"
		}
		sink, err = NewSQLiteSink(sqlitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres-dsn is required for postgres backend")
		}
		sink, err = NewPostgreSQLSink(cfg.PostgresDSN)
	case "dummy":
		return NewDummySink(), nil
	default:
		return nil, fmt.Errorf("unsupported stats backend: %s", cfg.Backend)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s sink: %w", cfg.Backend, err)
	}

	flushInterval := time.Duration(cfg.FlushInterval) * time.Second
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return NewBufferedSink(sink, flushInterval), nil
}

// NewSinkFromConfig composes the file sink with the optional database and
// Prometheus sinks. reg receives the Prometheus metrics when enabled.
func NewSinkFromConfig(cfg *config.Config, reg prometheus.Registerer) (Sink, error) {
	fileSink, err := NewFileSink(cfg.Logging.LogFile, cfg.Logging.MetricsFile)
	if err != nil {
		return nil, err
	}
	sinks := []Sink{fileSink}

	if cfg.Statistics.Enabled {
		dbSink, err := NewDatabaseSink(&cfg.Statistics)
		if err != nil {
			return nil, errors.Join(err, fileSink.Close())
		}
		sinks = append(sinks, dbSink)
	}

	if cfg.Prometheus.Enabled {
		sinks = append(sinks, NewPrometheusSink(reg))
	}

	if len(sinks) == 1 {
		return fileSink, nil
	}
	return NewMultiSink(sinks...), nil
}
