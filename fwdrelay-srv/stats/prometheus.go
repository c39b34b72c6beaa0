package stats

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink exports request records as Prometheus metrics
type PrometheusSink struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	responseBytes prometheus.Counter
	errors        prometheus.Counter
}

// NewPrometheusSink registers the proxy metrics on reg. A nil reg uses a
// fresh registry.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &PrometheusSink{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fwdrelay_requests_total",
				Help: "Completed proxy requests by method and recorded status",
			},
			[]string{"method", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fwdrelay_request_duration_seconds",
				Help:    "Time from accepting a request line to finishing the session",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method"},
		),
		responseBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "fwdrelay_response_bytes_total",
			Help: "Bytes written back to proxy clients",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fwdrelay_errors_total",
			Help: "Errors reported by proxy sessions",
		}),
	}
}

// LogRequest records one completed request
func (p *PrometheusSink) LogRequest(ctx context.Context, m RequestMetrics) error {
	method := strings.ToUpper(m.Method)
	p.requests.WithLabelValues(method, strconv.Itoa(m.StatusCode)).Inc()
	p.duration.WithLabelValues(method).Observe(m.Duration().Seconds())
	p.responseBytes.Add(float64(m.ContentLength))
	return nil
}

// LogError counts an error
func (p *PrometheusSink) LogError(ctx context.Context, message string, err error) error {
	p.errors.Inc()
	return nil
}

// Close does nothing, the registry outlives the sink
func (p *PrometheusSink) Close() error {
	return nil
}

// MetricsHandler returns the /metrics handler for g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
