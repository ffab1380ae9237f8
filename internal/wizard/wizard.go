// Package wizard provides an interactive setup wizard for wirelink.
package wizard

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/wirelink/internal/auth"
	"github.com/postalsys/wirelink/internal/config"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	dataDir, configPath, err := w.askBasicSetup()
	if err != nil {
		return nil, err
	}

	endpoint, origin, err := w.askEndpoint()
	if err != nil {
		return nil, err
	}

	method, phone, err := w.askAuthMethod()
	if err != nil {
		return nil, err
	}

	proxy, err := w.askProxy()
	if err != nil {
		return nil, err
	}

	logLevel, metricsEnabled, err := w.askAdvancedOptions()
	if err != nil {
		return nil, err
	}

	cfg := w.buildConfig(dataDir, endpoint, origin, method, phone, proxy, logLevel, metricsEnabled)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := w.writeConfig(cfg, configPath); err != nil {
		return nil, err
	}

	w.printSummary(configPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: configPath,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
 __        ___          _     _       _
 \ \      / (_)_ __ ___| |   (_)_ __ | | __
  \ \ /\ / /| | '__/ _ \ |   | | '_ \| |/ /
   \ V  V / | | | |  __/ |___| | | | |   <
    \_/\_/  |_|_|  \___|_____|_|_| |_|_|\_\
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  Messaging Web Protocol Client - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup() (dataDir, configPath string, err error) {
	dataDir = "./data"
	configPath = "./wirelink.yaml"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Configure the essential paths for your client."),

			huh.NewInput().
				Title("Data Directory").
				Description("Where to store the session state").
				Placeholder("./data").
				Value(&dataDir).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("data directory is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./wirelink.yaml").
				Value(&configPath).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("config path is required")
					}
					if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
						return fmt.Errorf("config file should have .yaml or .yml extension")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askEndpoint() (endpoint, origin string, err error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Service Endpoint").
				Description("Configure where the client connects."),

			huh.NewInput().
				Title("WebSocket URL").
				Description("The service's web socket endpoint").
				Placeholder("wss://web.example.net/ws").
				Value(&endpoint).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "ws://") && !strings.HasPrefix(s, "wss://") {
						return fmt.Errorf("must be a ws:// or wss:// URL")
					}
					if _, err := url.Parse(s); err != nil {
						return fmt.Errorf("invalid URL")
					}
					return nil
				}),

			huh.NewInput().
				Title("Origin Header").
				Description("Origin the service expects on the upgrade (optional)").
				Placeholder("https://web.example.net").
				Value(&origin),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askAuthMethod() (method, phone string, err error) {
	method = config.AuthVisualCode

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Authentication").
				Description("How do you want to link this client to your account?"),

			huh.NewSelect[string]().
				Title("Method").
				Options(
					huh.NewOption("Visual code (scan from your phone)", config.AuthVisualCode),
					huh.NewOption("Short code (type a code on your phone)", config.AuthShortCode),
				).
				Value(&method),
		),
	).WithTheme(w.theme)

	if err = form.Run(); err != nil {
		return
	}

	if method == config.AuthShortCode {
		phoneForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Phone Number").
					Description("International format, digits only").
					Placeholder("40712345678").
					Value(&phone).
					Validate(func(s string) error {
						_, err := auth.FormatPhone(s)
						return err
					}),
			),
		).WithTheme(w.theme)

		if err = phoneForm.Run(); err != nil {
			return
		}
	}

	return
}

func (w *Wizard) askProxy() (config.ProxyConfig, error) {
	var cfg config.ProxyConfig
	var useProxy bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Connect through a proxy?").
				Value(&useProxy),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return cfg, err
	}
	if !useProxy {
		return cfg, nil
	}

	var kind string
	proxyForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Proxy Type").
				Options(
					huh.NewOption("HTTP proxy", "http"),
					huh.NewOption("SOCKS5 proxy", "socks"),
				).
				Value(&kind),
		),
	).WithTheme(w.theme)
	if err := proxyForm.Run(); err != nil {
		return cfg, err
	}

	var addr, username, password string
	detailForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Proxy Address").
				Description("HTTP: full URL; SOCKS5: host:port").
				Value(&addr).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("proxy address is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Username (optional)").
				Value(&username),
			huh.NewInput().
				Title("Password (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&password),
		),
	).WithTheme(w.theme)
	if err := detailForm.Run(); err != nil {
		return cfg, err
	}

	if kind == "http" {
		cfg.URL = addr
	} else {
		cfg.SOCKS = addr
	}
	cfg.Username = username
	cfg.Password = password
	return cfg, nil
}

func (w *Wizard) askAdvancedOptions() (logLevel string, metricsEnabled bool, err error) {
	logLevel = "info"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&logLevel),

			huh.NewConfirm().
				Title("Enable Prometheus metrics endpoint?").
				Value(&metricsEnabled),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) buildConfig(
	dataDir, endpoint, origin, method, phone string,
	proxy config.ProxyConfig,
	logLevel string,
	metricsEnabled bool,
) *config.Config {
	cfg := config.Default()

	cfg.Client.DataDir = dataDir
	cfg.Client.LogLevel = logLevel
	cfg.Client.LogFormat = "text"

	cfg.Endpoint.URL = endpoint
	cfg.Endpoint.Origin = origin

	cfg.Auth.Method = method
	if phone != "" {
		formatted, err := auth.FormatPhone(phone)
		if err == nil {
			phone = formatted
		}
		cfg.Auth.Phone = phone
	}

	cfg.Proxy = proxy

	cfg.Metrics.Enabled = metricsEnabled
	if metricsEnabled {
		cfg.Metrics.Address = ":9090"
	}

	return cfg
}

func (w *Wizard) writeConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# wirelink Configuration
# Generated by setup wizard

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Data dir:     %s\n", cfg.Client.DataDir)
	fmt.Printf("  Endpoint:     %s\n", cfg.Endpoint.URL)
	fmt.Printf("  Auth method:  %s\n", cfg.Auth.Method)

	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:      http://%s/metrics\n", cfg.Metrics.Address)
	}

	fmt.Println()
	fmt.Println("  To link this client:")
	fmt.Printf("    wirelink login -c %s\n", configPath)
	fmt.Println()
}
