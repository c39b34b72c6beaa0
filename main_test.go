package main

import (
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/config"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.env")
	content := "# comment\nFWDRELAY_TEST_PORT=3128\nFWDRELAY_TEST_LEVEL=\"debug\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("FWDRELAY_TEST_PORT")
		_ = os.Unsetenv("FWDRELAY_TEST_LEVEL")
	})

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "3128", os.Getenv("FWDRELAY_TEST_PORT"))
	assert.Equal(t, "debug", os.Getenv("FWDRELAY_TEST_LEVEL"))
}

func TestLoadEnvFileMissing(t *testing.T) {
	assert.Error(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func testConfig(t *testing.T, listenAddress string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ListenAddress = listenAddress
	cfg.Logging.LogFile = filepath.Join(dir, "proxy.log")
	cfg.Logging.MetricsFile = filepath.Join(dir, "metrics.csv")
	return cfg
}

// runSupervised starts an instance for cfg and supervises it in the background
func runSupervised(t *testing.T, cfg *config.Config) (*instance, chan<- os.Signal, <-chan error) {
	t.Helper()
	inst, err := startInstance(cfg)
	require.NoError(t, err)

	var current atomic.Pointer[instance]
	current.Store(inst)

	sigChan := make(chan os.Signal, 1)
	result := make(chan error, 1)
	go func() {
		result <- supervise(cfg, "", &current, sigChan)
	}()
	return inst, sigChan, result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("supervise did not return")
		return nil
	}
}

func TestSuperviseShutsDownOnSignal(t *testing.T) {
	inst, sigChan, result := runSupervised(t, testConfig(t, "127.0.0.1:0"))
	require.Eventually(t, func() bool { return inst.proxy.Addr() != nil }, 5*time.Second, 5*time.Millisecond)
	addr := inst.proxy.Addr().String()

	sigChan <- syscall.SIGTERM
	require.NoError(t, waitResult(t, result))

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestSuperviseReturnsWhenProxyExits(t *testing.T) {
	inst, _, result := runSupervised(t, testConfig(t, "127.0.0.1:0"))
	require.Eventually(t, func() bool { return inst.proxy.Addr() != nil }, 5*time.Second, 5*time.Millisecond)

	// The listener goes away without a shutdown signal
	require.NoError(t, inst.proxy.Stop())
	assert.ErrorIs(t, waitResult(t, result), errProxyExited)
}

func TestSuperviseReportsListenFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	_, _, result := runSupervised(t, testConfig(t, occupied.Addr().String()))
	err = waitResult(t, result)
	require.Error(t, err)
	assert.Equal(t, proxy.ErrCodeListenerCreateFailed, proxy.ErrorCode(err))
}
