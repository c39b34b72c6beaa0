package stats

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMetrics() RequestMetrics {
	start := time.Date(2024, 1, 2, 3, 4, 5, 6*int(time.Millisecond), time.UTC)
	return RequestMetrics{
		SessionID:     "session-1",
		Method:        "GET",
		Target:        "http://example.com/a?b=1",
		StartTime:     start,
		EndTime:       start.Add(1500 * time.Millisecond),
		ContentLength: 42,
		StatusCode:    200,
	}
}

func TestFormatRequestLine(t *testing.T) {
	line := FormatRequestLine(sampleMetrics())
	assert.Equal(t,
		"[2024-01-02 03:04:05.006] Method: GET, URL: http://example.com/a?b=1, Duration: 1500ms, Size: 42 bytes, Status: 200",
		line)
}

func TestFormatMetricsRow(t *testing.T) {
	row, err := FormatMetricsRow(sampleMetrics())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02 03:04:05.006,GET,http://example.com/a?b=1,1500,42,200\n", string(row))

	m := sampleMetrics()
	m.Target = "http://example.com/a,b"
	row, err = FormatMetricsRow(m)
	require.NoError(t, err)
	assert.Contains(t, string(row), `"http://example.com/a,b"`)
}

func TestDurationNeverNegative(t *testing.T) {
	m := sampleMetrics()
	m.EndTime = m.StartTime.Add(-time.Second)
	assert.Equal(t, time.Duration(0), m.Duration())
	assert.Equal(t, 0.0, m.DurationMillis())
}

func TestFileSinkLogRequest(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "proxy.log")
	metricsPath := filepath.Join(dir, "metrics.csv")

	sink, err := NewFileSink(logPath, metricsPath)
	require.NoError(t, err)
	require.NoError(t, sink.LogRequest(context.Background(), sampleMetrics()))
	require.NoError(t, sink.Close())

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, FormatRequestLine(sampleMetrics())+"\n", string(logData))

	metricsData, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Equal(t, MetricsCSVHeader+"2024-01-02 03:04:05.006,GET,http://example.com/a?b=1,1500,42,200\n", string(metricsData))
}

func TestFileSinkHeaderWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "proxy.log")
	metricsPath := filepath.Join(dir, "nested", "metrics.csv")

	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(logPath, metricsPath)
		require.NoError(t, err)
		require.NoError(t, sink.LogRequest(context.Background(), sampleMetrics()))
		require.NoError(t, sink.Close())
	}

	metricsData, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(metricsData), "Timestamp,Method"))
	assert.Equal(t, 3, strings.Count(string(metricsData), "\n"))
}

func TestFileSinkKeepsExistingMetricsFile(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "metrics.csv")
	require.NoError(t, os.WriteFile(metricsPath, []byte("existing\n"), 0o644))

	sink, err := NewFileSink(filepath.Join(dir, "proxy.log"), metricsPath)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Equal(t, "existing\n", string(data))
}

func TestFileSinkLogError(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "proxy.log")

	sink, err := NewFileSink(logPath, filepath.Join(dir, "metrics.csv"))
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	require.NoError(t, sink.LogError(context.Background(), "Error in HTTP relay", errors.New("dial tcp: refused")))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "[2024-05-06 07:08:09.000] ERROR: Error in HTTP relay\nException: dial tcp: refused\nStackTrace: "))
	assert.Contains(t, text, "goroutine")
}

func TestFormatErrorEntryNilError(t *testing.T) {
	entry := formatErrorEntry(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "msg", nil, []byte("trace\n"))
	assert.Equal(t, "[2024-01-01 00:00:00.000] ERROR: msg\nException: <nil>\nStackTrace: trace\n", entry)
}

func TestFileSinkConcurrentWritesDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "proxy.log")
	metricsPath := filepath.Join(dir, "metrics.csv")

	sink, err := NewFileSink(logPath, metricsPath)
	require.NoError(t, err)

	const writers = 20
	const perWriter = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				assert.NoError(t, sink.LogRequest(context.Background(), sampleMetrics()))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	expectedLine := FormatRequestLine(sampleMetrics())
	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(logData), "\n"), "\n")
	require.Len(t, lines, writers*perWriter)
	for _, line := range lines {
		assert.Equal(t, expectedLine, line)
	}

	metricsData, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSuffix(string(metricsData), "\n"), "\n")
	assert.Len(t, rows, writers*perWriter+1)
}
