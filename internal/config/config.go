// Package config provides configuration parsing and validation for wirelink.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Auth method names accepted in auth.method.
const (
	AuthVisualCode = "visual-code"
	AuthShortCode  = "short-code"
)

// Config represents the complete client configuration.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Auth      AuthConfig      `yaml:"auth"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Requests  RequestsConfig  `yaml:"requests"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ClientConfig contains client identity and local state settings.
type ClientConfig struct {
	DataDir   string `yaml:"data_dir"`   // Directory for persistent session state
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// EndpointConfig defines the service endpoint.
type EndpointConfig struct {
	URL                string        `yaml:"url"`    // wss:// endpoint
	Origin             string        `yaml:"origin"` // Origin header for the upgrade
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"` // Skip TLS verification (dev only)
}

// AuthConfig defines the authentication flow.
type AuthConfig struct {
	Method      string        `yaml:"method"` // visual-code, short-code
	Phone       string        `yaml:"phone"`  // Required for short-code
	CodeTimeout time.Duration `yaml:"code_timeout"`
	MaxRetries  int           `yaml:"max_retries"` // Visual-code refresh budget
}

// ReconnectConfig defines reconnection behavior.
type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// RequestsConfig tunes the request/response layer.
type RequestsConfig struct {
	Timeout     time.Duration `yaml:"timeout"`      // Per-request correlation timeout
	SettleDelay time.Duration `yaml:"settle_delay"` // Pause between authentication and ready
	RatePerSec  float64       `yaml:"rate_per_sec"` // Outbound request rate cap, 0 = unlimited
}

// ProxyConfig routes the connection through a proxy.
type ProxyConfig struct {
	URL      string `yaml:"url"`   // HTTP proxy URL
	SOCKS    string `yaml:"socks"` // SOCKS5 proxy host:port
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			DataDir:   "./data",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Endpoint: EndpointConfig{
			DialTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Method:      AuthVisualCode,
			CodeTimeout: 60 * time.Second,
			MaxRetries:  3,
		},
		Reconnect: ReconnectConfig{
			Enabled:     true,
			BaseDelay:   3 * time.Second,
			Multiplier:  1.5,
			MaxAttempts: 5,
		},
		Requests: RequestsConfig{
			Timeout:     60 * time.Second,
			SettleDelay: 1 * time.Second,
			RatePerSec:  20,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Client.DataDir == "" {
		errs = append(errs, "client.data_dir is required")
	}
	if !isValidLogLevel(c.Client.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Client.LogLevel))
	}
	if !isValidLogFormat(c.Client.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Client.LogFormat))
	}

	if c.Endpoint.URL == "" {
		errs = append(errs, "endpoint.url is required")
	} else if !strings.HasPrefix(c.Endpoint.URL, "ws://") && !strings.HasPrefix(c.Endpoint.URL, "wss://") {
		errs = append(errs, fmt.Sprintf("endpoint.url must be a ws:// or wss:// URL, got %s", c.Endpoint.URL))
	}
	if c.Endpoint.DialTimeout <= 0 {
		errs = append(errs, "endpoint.dial_timeout must be positive")
	}

	switch c.Auth.Method {
	case AuthVisualCode:
	case AuthShortCode:
		if c.Auth.Phone == "" {
			errs = append(errs, "auth.phone is required for short-code authentication")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid auth.method: %s (must be %s or %s)", c.Auth.Method, AuthVisualCode, AuthShortCode))
	}
	if c.Auth.CodeTimeout <= 0 {
		errs = append(errs, "auth.code_timeout must be positive")
	}
	if c.Auth.MaxRetries < 0 {
		errs = append(errs, "auth.max_retries must not be negative")
	}

	if c.Reconnect.BaseDelay <= 0 {
		errs = append(errs, "reconnect.base_delay must be positive")
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, "reconnect.multiplier must be at least 1")
	}
	if c.Reconnect.MaxAttempts < 1 {
		errs = append(errs, "reconnect.max_attempts must be positive")
	}

	if c.Requests.Timeout <= 0 {
		errs = append(errs, "requests.timeout must be positive")
	}
	if c.Requests.SettleDelay < 0 {
		errs = append(errs, "requests.settle_delay must not be negative")
	}
	if c.Requests.RatePerSec < 0 {
		errs = append(errs, "requests.rate_per_sec must not be negative")
	}

	if c.Proxy.URL != "" && c.Proxy.SOCKS != "" {
		errs = append(errs, "proxy.url and proxy.socks are mutually exclusive")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// String returns a string representation of the config (for debugging).
// Sensitive values are redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// Redacted returns a copy of the config with sensitive values redacted.
// This is safe to log or display to users.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if redacted.Proxy.Password != "" {
		redacted.Proxy.Password = redactedValue
	}
	if redacted.Auth.Phone != "" {
		redacted.Auth.Phone = redactedValue
	}

	return redacted
}
