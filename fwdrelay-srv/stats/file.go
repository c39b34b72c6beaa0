package stats

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
)

// TimestampLayout is used for both the text log and the CSV stream.
const TimestampLayout = "2006-01-02 15:04:05.000"

// MetricsCSVHeader is written once when the metrics file is created.
const MetricsCSVHeader = "Timestamp,Method,URL,Duration,ContentLength,StatusCode\n"

// FileSink appends a free-text log and a CSV metrics stream.
type FileSink struct {
	mu      sync.Mutex
	log     *os.File
	metrics *os.File
	now     func() time.Time
}

// NewFileSink opens both files for appending, creating them if needed.
func NewFileSink(logPath, metricsPath string) (*FileSink, error) {
	if err := initMetricsFile(metricsPath); err != nil {
		return nil, err
	}

	logFile, err := openAppend(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	metricsFile, err := openAppend(metricsPath)
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("failed to open metrics file: %w", err)
	}

	logger.Debug("Appending request log to %s and metrics to %s", logPath, metricsPath)

	return &FileSink{
		log:     logFile,
		metrics: metricsFile,
		now:     time.Now,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(cleanPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
}

// initMetricsFile writes the column header only if the file does not exist yet.
func initMetricsFile(path string) error {
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}

	f, err := os.OpenFile(cleanPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing metrics file: %v", closeErr)
		}
	}()

	if _, err := f.WriteString(MetricsCSVHeader); err != nil {
		return fmt.Errorf("failed to write metrics header: %w", err)
	}
	return nil
}

// FormatRequestLine renders the free-text log entry for m.
func FormatRequestLine(m RequestMetrics) string {
	return fmt.Sprintf("[%s] Method: %s, URL: %s, Duration: %sms, Size: %d bytes, Status: %d",
		m.StartTime.Format(TimestampLayout), m.Method, m.Target,
		formatMillis(m), m.ContentLength, m.StatusCode)
}

// FormatMetricsRow renders the CSV row for m including the trailing newline.
func FormatMetricsRow(m RequestMetrics) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	err := w.Write([]string{
		m.StartTime.Format(TimestampLayout),
		m.Method,
		m.Target,
		formatMillis(m),
		strconv.FormatInt(m.ContentLength, 10),
		strconv.Itoa(m.StatusCode),
	})
	if err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatMillis(m RequestMetrics) string {
	return strconv.FormatFloat(m.DurationMillis(), 'f', -1, 64)
}

// LogRequest appends the text entry and the CSV row. Each is a single write.
func (s *FileSink) LogRequest(ctx context.Context, m RequestMetrics) error {
	row, err := FormatMetricsRow(m)
	if err != nil {
		return fmt.Errorf("failed to encode metrics row: %w", err)
	}
	line := FormatRequestLine(m) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if _, err := s.log.WriteString(line); err != nil {
		errs = append(errs, fmt.Errorf("failed to append request log: %w", err))
	}
	if _, err := s.metrics.Write(row); err != nil {
		errs = append(errs, fmt.Errorf("failed to append metrics row: %w", err))
	}
	return errors.Join(errs...)
}

// LogError appends an error entry followed by the current goroutine's stack.
func (s *FileSink) LogError(ctx context.Context, message string, err error) error {
	entry := formatErrorEntry(s.now(), message, err, debug.Stack())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, werr := s.log.WriteString(entry); werr != nil {
		return fmt.Errorf("failed to append error log: %w", werr)
	}
	return nil
}

func formatErrorEntry(ts time.Time, message string, err error, trace []byte) string {
	errText := "<nil>"
	if err != nil {
		errText = err.Error()
	}
	return fmt.Sprintf("[%s] ERROR: %s\nException: %s\nStackTrace: %s\n",
		ts.UTC().Format(TimestampLayout), message, errText, bytes.TrimSpace(trace))
}

// Close closes both files.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.log.Close(), s.metrics.Close())
}
