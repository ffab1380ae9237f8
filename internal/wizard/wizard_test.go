package wizard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/postalsys/wirelink/internal/config"
)

func TestNew(t *testing.T) {
	w := New()
	if w == nil {
		t.Fatal("New() returned nil")
	}
	if w.theme == nil {
		t.Error("New() returned wizard without a theme")
	}
}

func TestBuildConfig(t *testing.T) {
	w := New()

	cfg := w.buildConfig(
		"./state",
		"wss://web.example.net/ws",
		"https://web.example.net",
		config.AuthShortCode,
		"+40 712 345 678",
		config.ProxyConfig{SOCKS: "127.0.0.1:1080"},
		"debug",
		true,
	)

	if cfg.Client.DataDir != "./state" {
		t.Errorf("DataDir = %s", cfg.Client.DataDir)
	}
	if cfg.Endpoint.URL != "wss://web.example.net/ws" {
		t.Errorf("Endpoint.URL = %s", cfg.Endpoint.URL)
	}
	if cfg.Auth.Method != config.AuthShortCode {
		t.Errorf("Auth.Method = %s", cfg.Auth.Method)
	}
	if cfg.Auth.Phone != "40712345678" {
		t.Errorf("Auth.Phone = %s, want normalized digits", cfg.Auth.Phone)
	}
	if cfg.Proxy.SOCKS != "127.0.0.1:1080" {
		t.Errorf("Proxy.SOCKS = %s", cfg.Proxy.SOCKS)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Address != ":9090" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("built config does not validate: %v", err)
	}
}

func TestWriteConfig(t *testing.T) {
	w := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "wirelink.yaml")

	cfg := config.Default()
	cfg.Endpoint.URL = "wss://web.example.net/ws"

	if err := w.writeConfig(cfg, path); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(data), "# wirelink Configuration") {
		t.Error("config file missing header comment")
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if loaded.Endpoint.URL != cfg.Endpoint.URL {
		t.Errorf("Endpoint.URL = %s", loaded.Endpoint.URL)
	}
}
