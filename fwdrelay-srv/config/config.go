package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	"gopkg.in/yaml.v3"
)

// DefaultListenAddress binds all interfaces on the conventional proxy port.
const DefaultListenAddress = "0.0.0.0:8888"

// LoggingConfig defines where the request log and the metrics stream are appended
type LoggingConfig struct {
	LogFile     string // Free-text request and error log
	MetricsFile string // CSV stream, one row per completed request
}

// StatisticsConfig defines the optional database backend for request records
type StatisticsConfig struct {
	Enabled       bool
	Backend       string // sqlite, postgres or dummy
	SQLitePath    string
	PostgresDSN   string
	FlushInterval int // Seconds between buffered flushes
}

// PrometheusConfig defines the optional /metrics exposition endpoint
type PrometheusConfig struct {
	Enabled       bool
	ListenAddress string
}

// Config represents the main configuration structure for the proxy server.
type Config struct {
	ListenAddress      string // Address the proxy accepts clients on
	DialTimeoutSeconds int    // Outbound dial timeout, 0 disables it
	LogLevel           string
	Logging            LoggingConfig
	Statistics         StatisticsConfig
	Prometheus         PrometheusConfig
	Forwards           []Forward
}

// ForwardType defines the type of forwarding rule.
type ForwardType int

const (
	// ForwardTypeDefaultNetwork represents the default network forwarding type.
	ForwardTypeDefaultNetwork ForwardType = iota
	// ForwardTypeSocks5 represents SOCKS5 proxy forwarding.
	ForwardTypeSocks5
	// ForwardTypeProxy represents HTTP proxy forwarding.
	ForwardTypeProxy
)

func (t ForwardType) String() string {
	switch t {
	case ForwardTypeDefaultNetwork:
		return "default-network"
	case ForwardTypeSocks5:
		return "socks5"
	case ForwardTypeProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// Forward defines the interface for forwarding configurations.
// An empty domain list matches every target host.
type Forward interface {
	Type() ForwardType
	Domains() []string
}

// ForwardDefaultNetwork dials the target directly.
type ForwardDefaultNetwork struct {
	DomainList []string
	ForceIPv4  bool
}

func (c *ForwardDefaultNetwork) Type() ForwardType {
	return ForwardTypeDefaultNetwork
}

func (c *ForwardDefaultNetwork) Domains() []string {
	return c.DomainList
}

// ForwardSocks5 dials the target through a SOCKS5 server.
type ForwardSocks5 struct {
	DomainList []string
	Address    string
	Username   *string
	Password   *string
	ForceIPv4  bool
}

func (c *ForwardSocks5) Type() ForwardType {
	return ForwardTypeSocks5
}

func (c *ForwardSocks5) Domains() []string {
	return c.DomainList
}

// ForwardProxy dials the target through an upstream HTTP proxy using CONNECT.
type ForwardProxy struct {
	DomainList []string
	Address    string
	Username   *string
	Password   *string
	ForceIPv4  bool
}

func (c *ForwardProxy) Type() ForwardType {
	return ForwardTypeProxy
}

func (c *ForwardProxy) Domains() []string {
	return c.DomainList
}

// Default returns the configuration used when neither file nor environment
// provide a value.
func Default() *Config {
	return &Config{
		ListenAddress: DefaultListenAddress,
		LogLevel:      "info",
		Logging: LoggingConfig{
			LogFile:     "proxy.log",
			MetricsFile: "metrics.csv",
		},
		Statistics: StatisticsConfig{
			Backend:       "sqlite",
			SQLitePath:    "fwdrelay_stats.db",
			FlushInterval: 5,
		},
		Prometheus: PrometheusConfig{
			ListenAddress: "127.0.0.1:9898",
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// Supported formats are selected by extension: .json, .hcl, .yaml and .yml.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()

	// Apply environment variables
	loadConfigFromEnv(cfg)

	if configPath != "" {
		data, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := applyConfigMap(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(configPath string) (map[string]any, error) {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}

	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".hcl", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	src, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var data map[string]any
	switch ext {
	case ".json":
		if err := json.Unmarshal(src, &data); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config: %w", err)
		}
	case ".hcl":
		data, err = decodeHCL(src, cleanPath)
		if err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(src, &data); err != nil {
			return nil, fmt.Errorf("failed to decode YAML config: %w", err)
		}
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// applyConfigMap maps a format-neutral document onto cfg. Keys use the
// hyphenated spelling in every format.
func applyConfigMap(data map[string]any, cfg *Config) error {
	if val, exists := data["listen-address"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("listen-address must be a string: %w", err)
		}
		cfg.ListenAddress = *ptr
	}

	if val, exists := data["port"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("port must be a number: %w", err)
		}
		addr, err := withPort(cfg.ListenAddress, *ptr)
		if err != nil {
			return err
		}
		cfg.ListenAddress = addr
	}

	if val, exists := data["dial-timeout-seconds"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("dial-timeout-seconds must be a number: %w", err)
		}
		cfg.DialTimeoutSeconds = *ptr
	}

	if val, exists := data["log-level"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("log-level must be a string: %w", err)
		}
		cfg.LogLevel = *ptr
	}

	if section, ok := data["logging"].(map[string]any); ok {
		if err := setString(section, "log-file", &cfg.Logging.LogFile); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		if err := setString(section, "metrics-file", &cfg.Logging.MetricsFile); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
	}

	if section, ok := data["statistics"].(map[string]any); ok {
		if err := setBool(section, "enabled", &cfg.Statistics.Enabled); err != nil {
			return fmt.Errorf("statistics: %w", err)
		}
		if err := setString(section, "backend", &cfg.Statistics.Backend); err != nil {
			return fmt.Errorf("statistics: %w", err)
		}
		if err := setString(section, "sqlite-path", &cfg.Statistics.SQLitePath); err != nil {
			return fmt.Errorf("statistics: %w", err)
		}
		if err := setString(section, "postgres-dsn", &cfg.Statistics.PostgresDSN); err != nil {
			return fmt.Errorf("statistics: %w", err)
		}
		if err := setInt(section, "flush-interval", &cfg.Statistics.FlushInterval); err != nil {
			return fmt.Errorf("statistics: %w", err)
		}
	}

	if section, ok := data["prometheus"].(map[string]any); ok {
		if err := setBool(section, "enabled", &cfg.Prometheus.Enabled); err != nil {
			return fmt.Errorf("prometheus: %w", err)
		}
		if err := setString(section, "listen-address", &cfg.Prometheus.ListenAddress); err != nil {
			return fmt.Errorf("prometheus: %w", err)
		}
	}

	if val, exists := data["forwards"]; exists {
		forwards, ok := val.([]any)
		if !ok {
			return fmt.Errorf("forwards must be an array")
		}
		cfg.Forwards = nil
		for i, forward := range forwards {
			forwardMap, ok := forward.(map[string]any)
			if !ok {
				return fmt.Errorf("invalid forward format at index %d", i)
			}
			fwd, err := parseForward(forwardMap)
			if err != nil {
				return fmt.Errorf("forward[%d]: %w", i, err)
			}
			cfg.Forwards = append(cfg.Forwards, fwd)
		}
	}

	return nil
}

func parseForward(forwardMap map[string]any) (Forward, error) {
	forwardType, err := parseValue[string](forwardMap["type"])
	if err != nil {
		return nil, fmt.Errorf("missing forward type")
	}

	domains, err := parseDomains(forwardMap["domains"])
	if err != nil {
		return nil, err
	}

	var forceIPv4 bool
	if err := setBool(forwardMap, "force-ipv4", &forceIPv4); err != nil {
		return nil, err
	}

	switch *forwardType {
	case "default-network":
		return &ForwardDefaultNetwork{DomainList: domains, ForceIPv4: forceIPv4}, nil

	case "socks5":
		fwd := &ForwardSocks5{DomainList: domains, ForceIPv4: forceIPv4}
		address, err := parseValue[string](forwardMap["address"])
		if err != nil {
			return nil, fmt.Errorf("socks5 forward requires address field")
		}
		fwd.Address = *address
		if username, err := parseValue[string](forwardMap["username"]); err == nil {
			fwd.Username = username
		}
		if password, err := parseValue[string](forwardMap["password"]); err == nil {
			fwd.Password = password
		}
		return fwd, nil

	case "proxy":
		fwd := &ForwardProxy{DomainList: domains, ForceIPv4: forceIPv4}
		address, err := parseValue[string](forwardMap["address"])
		if err != nil {
			return nil, fmt.Errorf("proxy forward requires address field")
		}
		fwd.Address = *address
		if username, err := parseValue[string](forwardMap["username"]); err == nil {
			fwd.Username = username
		}
		if password, err := parseValue[string](forwardMap["password"]); err == nil {
			fwd.Password = password
		}
		return fwd, nil

	default:
		return nil, fmt.Errorf("unsupported forward type: %s", *forwardType)
	}
}

func parseDomains(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("domains must be an array of strings")
	}
	domains := make([]string, 0, len(list))
	for _, item := range list {
		domain, err := parseValue[string](item)
		if err != nil {
			return nil, fmt.Errorf("domains must be an array of strings: %w", err)
		}
		d := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(*domain), "."))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return domains, nil
}

func setString(section map[string]any, key string, dst *string) error {
	val, exists := section[key]
	if !exists {
		return nil
	}
	ptr, err := parseValue[string](val)
	if err != nil {
		return fmt.Errorf("%s must be a string: %w", key, err)
	}
	*dst = *ptr
	return nil
}

func setInt(section map[string]any, key string, dst *int) error {
	val, exists := section[key]
	if !exists {
		return nil
	}
	ptr, err := parseValue[int](val)
	if err != nil {
		return fmt.Errorf("%s must be a number: %w", key, err)
	}
	*dst = *ptr
	return nil
}

func setBool(section map[string]any, key string, dst *bool) error {
	val, exists := section[key]
	if !exists {
		return nil
	}
	ptr, err := parseValue[bool](val)
	if err != nil {
		return fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	*dst = *ptr
	return nil
}

// parseValue converts a decoded document value into T. A value of the form
// {"_secret": "NAME"} is replaced by the environment variable NAME.
func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	// Secret-case: retrieve env var
	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		// JSON and HCL numbers
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(v)
		default:
			return nil, fmt.Errorf("expected %T, got number", zero)
		}
	case int:
		// YAML integers
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(float64(v))
		default:
			return nil, fmt.Errorf("expected %T, got integer", zero)
		}
	case string:
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(v, 10, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse int: %w", err)
			}
			elem.SetInt(i)
		case reflect.Float32, reflect.Float64:
			f, err := strconv.ParseFloat(v, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse float: %w", err)
			}
			elem.SetFloat(f)
		case reflect.Bool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("failed to parse bool: %w", err)
			}
			elem.SetBool(b)
		default:
			return nil, fmt.Errorf("expected %T, got string", zero)
		}
	case bool:
		if elem.Kind() == reflect.Bool {
			elem.SetBool(v)
		} else {
			return nil, fmt.Errorf("expected %T, got bool", zero)
		}
	default:
		// direct-case: cast
		if rv, ok := value.(T); ok {
			return &rv, nil
		}
		return nil, fmt.Errorf("expected %T, got %T", zero, value)
	}
	return ptr.Interface().(*T), nil
}

// Validate reports the first configuration problem that would prevent the
// proxy from starting.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen-address %q: %w", c.ListenAddress, err)
	}
	if c.DialTimeoutSeconds < 0 {
		return fmt.Errorf("dial-timeout-seconds must not be negative")
	}
	if c.Logging.LogFile == "" || c.Logging.MetricsFile == "" {
		return fmt.Errorf("logging requires log-file and metrics-file")
	}
	switch c.Statistics.Backend {
	case "sqlite", "postgres", "dummy", "":
	default:
		return fmt.Errorf("unsupported statistics backend: %s", c.Statistics.Backend)
	}
	for i, fwd := range c.Forwards {
		switch f := fwd.(type) {
		case *ForwardSocks5:
			if f.Address == "" {
				return fmt.Errorf("forward[%d]: socks5 forward requires address", i)
			}
		case *ForwardProxy:
			if f.Address == "" {
				return fmt.Errorf("forward[%d]: proxy forward requires address", i)
			}
		}
	}
	return nil
}

// withPort replaces the port of a host:port listen address.
func withPort(addr string, port int) (string, error) {
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("port %d out of range", port)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// OverridePort replaces the port of the listen address.
func (c *Config) OverridePort(port int) error {
	addr, err := withPort(c.ListenAddress, port)
	if err != nil {
		return err
	}
	c.ListenAddress = addr
	return nil
}

func loadConfigFromEnv(cfg *Config) {
	if addr := os.Getenv("FWDRELAY_LISTENADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}

	if portStr := os.Getenv("FWDRELAY_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err == nil {
			if addr, err := withPort(cfg.ListenAddress, port); err == nil {
				cfg.ListenAddress = addr
			} else {
				logger.Warn("Ignoring FWDRELAY_PORT: %v", err)
			}
		} else {
			logger.Warn("Invalid format for FWDRELAY_PORT: %s", portStr)
		}
	}

	if timeoutStr := os.Getenv("FWDRELAY_DIALTIMEOUTSECONDS"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.DialTimeoutSeconds = timeout
		} else {
			logger.Warn("Invalid format for FWDRELAY_DIALTIMEOUTSECONDS: %s", timeoutStr)
		}
	}

	if level := os.Getenv("FWDRELAY_LOGLEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if logFile := os.Getenv("FWDRELAY_LOGFILE"); logFile != "" {
		cfg.Logging.LogFile = logFile
	}

	if metricsFile := os.Getenv("FWDRELAY_METRICSFILE"); metricsFile != "" {
		cfg.Logging.MetricsFile = metricsFile
	}

	if enabled := os.Getenv("FWDRELAY_STATS"); enabled != "" {
		cfg.Statistics.Enabled = strings.EqualFold(enabled, "true") || enabled == "1"
	}

	if backend := os.Getenv("FWDRELAY_STATS_BACKEND"); backend != "" {
		cfg.Statistics.Backend = backend
	}

	if path := os.Getenv("FWDRELAY_STATS_SQLITEPATH"); path != "" {
		cfg.Statistics.SQLitePath = path
	}

	if dsn := os.Getenv("FWDRELAY_STATS_POSTGRESDSN"); dsn != "" {
		cfg.Statistics.PostgresDSN = dsn
	}

	if enabled := os.Getenv("FWDRELAY_PROMETHEUS"); enabled != "" {
		cfg.Prometheus.Enabled = strings.EqualFold(enabled, "true") || enabled == "1"
	}

	if addr := os.Getenv("FWDRELAY_PROMETHEUS_LISTENADDRESS"); addr != "" {
		cfg.Prometheus.ListenAddress = addr
	}
}
