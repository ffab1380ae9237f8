package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Client.DataDir != "./data" {
		t.Errorf("Client.DataDir = %s, want ./data", cfg.Client.DataDir)
	}
	if cfg.Client.LogLevel != "info" {
		t.Errorf("Client.LogLevel = %s, want info", cfg.Client.LogLevel)
	}
	if cfg.Auth.Method != AuthVisualCode {
		t.Errorf("Auth.Method = %s, want %s", cfg.Auth.Method, AuthVisualCode)
	}
	if cfg.Auth.MaxRetries != 3 {
		t.Errorf("Auth.MaxRetries = %d, want 3", cfg.Auth.MaxRetries)
	}
	if cfg.Auth.CodeTimeout != 60*time.Second {
		t.Errorf("Auth.CodeTimeout = %v, want 60s", cfg.Auth.CodeTimeout)
	}
	if cfg.Reconnect.BaseDelay != 3*time.Second {
		t.Errorf("Reconnect.BaseDelay = %v, want 3s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.Multiplier != 1.5 {
		t.Errorf("Reconnect.Multiplier = %v, want 1.5", cfg.Reconnect.Multiplier)
	}
	if cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("Reconnect.MaxAttempts = %d, want 5", cfg.Reconnect.MaxAttempts)
	}
	if !cfg.Reconnect.Enabled {
		t.Error("Reconnect.Enabled = false, want true")
	}
	if cfg.Requests.Timeout != 60*time.Second {
		t.Errorf("Requests.Timeout = %v, want 60s", cfg.Requests.Timeout)
	}
	if cfg.Requests.SettleDelay != time.Second {
		t.Errorf("Requests.SettleDelay = %v, want 1s", cfg.Requests.SettleDelay)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
client:
  data_dir: "./state"
  log_level: "debug"
  log_format: "json"

endpoint:
  url: "wss://web.example.net/ws"
  origin: "https://web.example.net"
  dial_timeout: 15s

auth:
  method: short-code
  phone: "40712345678"

reconnect:
  base_delay: 2s
  max_attempts: 8

requests:
  timeout: 30s
  settle_delay: 500ms

metrics:
  enabled: true
  address: ":9191"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Client.DataDir != "./state" {
		t.Errorf("DataDir = %s, want ./state", cfg.Client.DataDir)
	}
	if cfg.Endpoint.URL != "wss://web.example.net/ws" {
		t.Errorf("Endpoint.URL = %s", cfg.Endpoint.URL)
	}
	if cfg.Auth.Method != AuthShortCode {
		t.Errorf("Auth.Method = %s, want %s", cfg.Auth.Method, AuthShortCode)
	}
	if cfg.Auth.Phone != "40712345678" {
		t.Errorf("Auth.Phone = %s", cfg.Auth.Phone)
	}
	if cfg.Reconnect.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.MaxAttempts != 8 {
		t.Errorf("MaxAttempts = %d, want 8", cfg.Reconnect.MaxAttempts)
	}
	// Unset fields keep defaults.
	if cfg.Reconnect.Multiplier != 1.5 {
		t.Errorf("Multiplier = %v, want default 1.5", cfg.Reconnect.Multiplier)
	}
	if cfg.Requests.SettleDelay != 500*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 500ms", cfg.Requests.SettleDelay)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("client: [not a map"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing endpoint", func(c *Config) { c.Endpoint.URL = "" }, "endpoint.url is required"},
		{"bad scheme", func(c *Config) { c.Endpoint.URL = "https://example.net" }, "ws:// or wss://"},
		{"bad log level", func(c *Config) { c.Client.LogLevel = "verbose" }, "invalid log_level"},
		{"bad auth method", func(c *Config) { c.Auth.Method = "retina-scan" }, "invalid auth.method"},
		{"short-code without phone", func(c *Config) { c.Auth.Method = AuthShortCode }, "auth.phone is required"},
		{"bad multiplier", func(c *Config) { c.Reconnect.Multiplier = 0.5 }, "multiplier must be at least 1"},
		{"zero attempts", func(c *Config) { c.Reconnect.MaxAttempts = 0 }, "max_attempts must be positive"},
		{"both proxies", func(c *Config) { c.Proxy.URL = "http://p:8080"; c.Proxy.SOCKS = "p:1080" }, "mutually exclusive"},
		{"negative rate", func(c *Config) { c.Requests.RatePerSec = -1 }, "rate_per_sec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Endpoint.URL = "wss://web.example.net/ws"
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("WIRELINK_TEST_PHONE", "40798765432")
	defer os.Unsetenv("WIRELINK_TEST_PHONE")

	yamlConfig := `
client:
  data_dir: "${WIRELINK_TEST_DATADIR:-./fallback}"
endpoint:
  url: "wss://web.example.net/ws"
auth:
  method: short-code
  phone: "${WIRELINK_TEST_PHONE}"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Auth.Phone != "40798765432" {
		t.Errorf("Phone = %s, want expanded env value", cfg.Auth.Phone)
	}
	if cfg.Client.DataDir != "./fallback" {
		t.Errorf("DataDir = %s, want default fallback", cfg.Client.DataDir)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wirelink.yaml")
	content := `
endpoint:
  url: "wss://web.example.net/ws"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint.URL != "wss://web.example.net/ws" {
		t.Errorf("Endpoint.URL = %s", cfg.Endpoint.URL)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Endpoint.URL = "wss://web.example.net/ws"
	cfg.Auth.Phone = "40712345678"
	cfg.Proxy.Password = "hunter2"

	red := cfg.Redacted()
	if red.Auth.Phone != redactedValue {
		t.Errorf("phone not redacted: %s", red.Auth.Phone)
	}
	if red.Proxy.Password != redactedValue {
		t.Errorf("proxy password not redacted: %s", red.Proxy.Password)
	}
	// Original untouched.
	if cfg.Proxy.Password != "hunter2" {
		t.Error("redaction mutated the original config")
	}
	if strings.Contains(cfg.String(), "hunter2") {
		t.Error("String() leaked a secret")
	}
}
