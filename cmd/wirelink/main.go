// Package main provides the CLI entry point for the wirelink client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/wirelink/internal/client"
	"github.com/postalsys/wirelink/internal/config"
	"github.com/postalsys/wirelink/internal/events"
	"github.com/postalsys/wirelink/internal/logging"
	"github.com/postalsys/wirelink/internal/session"
	"github.com/postalsys/wirelink/internal/state"
	"github.com/postalsys/wirelink/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

var (
	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wirelink",
		Short: "wirelink - messaging service web protocol client",
		Long: `wirelink maintains a persistent WebSocket session with the messaging
service's web endpoint: it performs the linking handshake (visual code
or short code), persists the resulting session, and keeps the
connection alive with automatic reconnection.`,
		Version: Version,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(pairCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logoutCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive configuration setup",
		Long:  "Run the interactive wizard to create a configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("init is interactive and needs a terminal; write the config file by hand instead")
			}

			_, err := wizard.New().Run()
			return err
		},
	}
}

func loginCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Link this client using a visual code",
		Long:  "Connect to the service and display the visual code payload to scan.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runLink(cfg, "")
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./wirelink.yaml", "Path to configuration file")
	return cmd
}

func pairCmd() *cobra.Command {
	var configPath string
	var phone string

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link this client using a short code",
		Long:  "Request a short pairing code for the given phone and display it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Auth.Method = config.AuthShortCode
			if phone == "" {
				phone = cfg.Auth.Phone
			}
			if phone == "" {
				return fmt.Errorf("a phone number is required: pass --phone or set auth.phone")
			}
			return runLink(cfg, phone)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./wirelink.yaml", "Path to configuration file")
	cmd.Flags().StringVarP(&phone, "phone", "p", "", "Phone number to pair (international format)")
	return cmd
}

// runLink drives one linking attempt: connect, surface codes, wait for the
// session to become ready or the handshake to fail terminally.
func runLink(cfg *config.Config, pairPhone string) error {
	log := logging.NewLogger(cfg.Client.LogLevel, cfg.Client.LogFormat)

	c, err := client.NewWithDeps(cfg, client.Deps{Logger: log})
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
				log.Error("metrics listener failed", logging.KeyError, err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	c.Subscribe(func(e events.Event) {
		switch ev := e.(type) {
		case events.VisualCode:
			fmt.Println()
			fmt.Println(labelStyle.Render("Scan this code payload from your phone:"))
			fmt.Println(codeStyle.Render(fmt.Sprintf("%s,%s,%s", ev.Ref, ev.ClientID, ev.PublicKey)))
			fmt.Println(labelStyle.Render(fmt.Sprintf("Expires in %d seconds", ev.ExpiresInSeconds)))

		case events.VisualCodeExpired:
			fmt.Println(labelStyle.Render(fmt.Sprintf("Code expired, waiting for a fresh one (attempt %d)", ev.Attempt)))

		case events.VisualCodeMaxRetries:
			finish(errors.New("visual code retries exhausted; run login again"))

		case events.PairingCode:
			fmt.Println()
			fmt.Println(labelStyle.Render("Enter this code on your phone:"))
			fmt.Println(codeStyle.Render(ev.Code))

		case events.PairingCodeError:
			finish(fmt.Errorf("pairing failed: %s", ev.Reason))

		case events.Authenticated:
			fmt.Println(okStyle.Render(fmt.Sprintf("✓ Linked as %s", ev.User.ID)))

		case events.Ready:
			finish(nil)

		case events.ReconnectFailed:
			finish(errors.New("connection lost and reconnect attempts exhausted"))

		case events.StateChange:
			if pairPhone != "" && ev.To == state.Authenticating {
				go func() {
					if err := c.RequestPairingCode(context.Background(), pairPhone); err != nil {
						finish(err)
					}
				}()
			}
		}
	})

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	sess := c.Session()
	if sess != nil {
		fmt.Printf("Session stored in %s\n", cfg.Client.DataDir)
	}
	return nil
}

func statusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Long:  "Display the persisted session, if any, without connecting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			sess, err := session.Load(cfg.Client.DataDir)
			if errors.Is(err, session.ErrNotFound) {
				fmt.Println("Not linked. Run `wirelink login` or `wirelink pair`.")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("Linked as:   %s\n", sess.Identity.ID)
			if sess.Identity.Name != "" {
				fmt.Printf("Name:        %s\n", sess.Identity.Name)
			}
			fmt.Printf("Phone:       %s\n", sess.Identity.Phone)
			fmt.Printf("Linked:      %s\n", humanize.Time(sess.CreatedAt))
			fmt.Printf("Data dir:    %s\n", cfg.Client.DataDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./wirelink.yaml", "Path to configuration file")
	return cmd
}

func logoutCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Unlink this client",
		Long:  "Send a goodbye to the service if reachable and delete the stored session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if !session.Exists(cfg.Client.DataDir) {
				fmt.Println("Not linked; nothing to do.")
				return nil
			}

			log := logging.NewLogger(cfg.Client.LogLevel, cfg.Client.LogFormat)
			c, err := client.NewWithDeps(cfg, client.Deps{Logger: log})
			if err != nil {
				return err
			}

			// Best effort goodbye: a short dial window, then the local
			// session is removed either way.
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.Connect(ctx); err == nil {
				if err := c.Logout(ctx); err != nil {
					return err
				}
			} else {
				if err := session.Delete(cfg.Client.DataDir); err != nil {
					return err
				}
			}

			fmt.Println(okStyle.Render("✓ Logged out"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./wirelink.yaml", "Path to configuration file")
	return cmd
}
