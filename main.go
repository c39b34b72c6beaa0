package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/config"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/proxy"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/stats"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var version string

func main() {
	cfg, configPath := parseFlagsAndConfig()
	runProxy(cfg, configPath)
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config loading.
func parseFlagsAndConfig() (cfg *config.Config, configPath string) {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	versionShortFlag := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPathPtr := flag.String("config", "", "Path to configuration file (.json, .hcl, .yaml or .yml)")
	envfile := flag.String("envfile", "", "Path to env file to load environment variables")
	port := flag.Int("port", 0, "Override the port of the listen address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *versionFlag || *versionShortFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("fwdrelay version:", version)
		os.Exit(0)
	}

	if *envfile != "" {
		if err := loadEnvFile(*envfile); err != nil {
			logger.Fatal("Failed to load envfile: %v", err)
		}
		logger.Info("Loaded environment variables from %s", *envfile)
	}

	logger.Info("Starting fwdrelay proxy server")
	logger.Debug("Using configuration file: %s", *configPathPtr)

	cfg, err := config.LoadConfig(*configPathPtr)
	if err != nil {
		logger.Warn("Could not load config file: %v. Using environment variables.", err)
		cfg, err = config.LoadConfig("")
		if err != nil {
			logger.Fatal("Failed to load configuration: %v", err)
		}
	}

	if *port != 0 {
		if err := cfg.OverridePort(*port); err != nil {
			logger.Fatal("Invalid -port: %v", err)
		}
	}

	logger.SetLevel(logger.GetLevelFromString(cfg.LogLevel))
	if *debugMode {
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	}

	logger.Debug("Configuration loaded successfully")
	logger.Debug("Listen address: %s", cfg.ListenAddress)
	logger.Debug("Dial timeout: %d seconds", cfg.DialTimeoutSeconds)
	logger.Debug("Forward rules: %d", len(cfg.Forwards))

	return cfg, *configPathPtr
}

// instance is one generation of the proxy together with its sink and the
// registry its Prometheus metrics live in.
type instance struct {
	proxy    *proxy.Proxy
	sink     stats.Sink
	registry *prometheus.Registry
	done     chan error
}

func startInstance(cfg *config.Config) (*instance, error) {
	registry := prometheus.NewRegistry()
	sink, err := stats.NewSinkFromConfig(cfg, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics sink: %w", err)
	}

	p, err := proxy.NewProxy(cfg, sink)
	if err != nil {
		return nil, errors.Join(err, sink.Close())
	}

	inst := &instance{proxy: p, sink: sink, registry: registry, done: make(chan error, 1)}
	go func() {
		logger.Info("Starting proxy server...")
		inst.done <- p.Start()
	}()
	return inst, nil
}

func (i *instance) stop() {
	if err := i.proxy.Stop(); err != nil {
		logger.Error("Error stopping proxy: %v", err)
	}
	if err := i.sink.Close(); err != nil {
		logger.Error("Error closing statistics sink: %v", err)
	}
}

// startMetricsServer serves the registry of the current instance on addr.
func startMetricsServer(addr string, current *atomic.Pointer[instance]) *http.Server {
	gatherer := prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		return current.Load().registry.Gather()
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", stats.MetricsHandler(gatherer))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Serving Prometheus metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error: %v", err)
		}
	}()
	return server
}

// errProxyExited reports a proxy whose listener closed without a shutdown
// being requested.
var errProxyExited = errors.New("proxy listener closed unexpectedly")

// runProxy starts and manages the proxy server, including signal handling and reloads.
func runProxy(cfg *config.Config, configPath string) {
	inst, err := startInstance(cfg)
	if err != nil {
		logger.Fatal("Failed to start proxy: %v", err)
	}

	var current atomic.Pointer[instance]
	current.Store(inst)

	var metricsServer *http.Server
	if cfg.Prometheus.Enabled {
		metricsServer = startMetricsServer(cfg.Prometheus.ListenAddress, &current)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	err = supervise(cfg, configPath, &current, sigChan)

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if shutdownErr := metricsServer.Shutdown(ctx); shutdownErr != nil {
			logger.Error("Error shutting down metrics server: %v", shutdownErr)
		}
		cancel()
	}

	if err != nil {
		logger.Fatal("Proxy server error: %v", err)
	}
	logger.Info("Proxy server shutdown complete")
}

// supervise runs the instance stored in current until a shutdown signal
// arrives or the proxy exits on its own. SIGHUP swaps in a new instance
// when the configuration changed. The last instance is always stopped.
func supervise(cfg *config.Config, configPath string, current *atomic.Pointer[instance], sigChan <-chan os.Signal) error {
	inst := current.Load()
	currentCfg := cfg
	for {
		select {
		case err := <-inst.done:
			inst.stop()
			if err != nil {
				return err
			}
			return errProxyExited
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("Received SIGHUP: reloading configuration...")
				newCfg, err := config.LoadConfig(configPath)
				if err != nil {
					logger.Error("Failed to reload config: %v (keeping current config)", err)
					continue
				}
				if !config.HasChanged(currentCfg, newCfg) {
					logger.Info("Config unchanged after reload; not restarting proxy.")
					continue
				}
				if newCfg.Prometheus != currentCfg.Prometheus {
					logger.Warn("Prometheus settings changed; restart the process to apply them")
				}

				logger.Info("Config changed. Restarting proxy...")
				inst.stop()
				newInst, err := startInstance(newCfg)
				if err != nil {
					return fmt.Errorf("failed to restart proxy: %w", err)
				}
				inst = newInst
				current.Store(inst)
				currentCfg = newCfg
				logger.SetLevel(logger.GetLevelFromString(newCfg.LogLevel))
				logger.Info("Proxy restarted with new configuration.")
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("Received signal %v, shutting down proxy server...", sig)
				inst.stop()
				return nil
			}
		}
	}
}

// loadEnvFile reads a .env-style file and sets environment variables
func loadEnvFile(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	return godotenv.Load(cleanPath)
}
