package stats

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSinkCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	ctx := context.Background()

	require.NoError(t, sink.LogRequest(ctx, sampleMetrics()))
	require.NoError(t, sink.LogRequest(ctx, sampleMetrics()))

	connect := sampleMetrics()
	connect.Method = "connect"
	connect.StatusCode = 502
	connect.ContentLength = 8
	require.NoError(t, sink.LogRequest(ctx, connect))
	require.NoError(t, sink.LogError(ctx, "boom", errors.New("cause")))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.requests.WithLabelValues("CONNECT", "502")))
	assert.Equal(t, 92.0, testutil.ToFloat64(sink.responseBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.errors))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.duration))
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	require.NoError(t, sink.LogRequest(context.Background(), sampleMetrics()))

	server := httptest.NewServer(MetricsHandler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `fwdrelay_requests_total{method="GET",status="200"} 1`)
	assert.Contains(t, string(body), "fwdrelay_request_duration_seconds_bucket")
}
