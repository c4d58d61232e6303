// ABOUTME: Entry point for the chathub messaging server
// ABOUTME: Dispatches serve, init, adduser, token, health, status, online and events subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/chathub/internal/config"
	"github.com/2389/chathub/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _           _   _           _
   ___| |__   __ _| |_| |__  _   _| |__
  / __| '_ \ / _' | __| '_ \| | | | '_ \
 | (__| | | | (_| | |_| | | | |_| | |_) |
  \___|_| |_|\__,_|\__|_| |_|\__,_|_.__/
`

// getConfigPath returns the path to the server config file.
// Priority: CHATHUB_CONFIG env var > XDG_CONFIG_HOME/chathub/gateway.yaml > ~/.config/chathub/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATHUB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chathub", "gateway.yaml")
}

// getDataPath returns the path to the chathub data directory.
// Priority: XDG_DATA_HOME/chathub > ~/.local/share/chathub
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chathub")
}

func usage() {
	fmt.Println("Usage: chathub <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the server")
	fmt.Println("  init                                Create a new config file interactively")
	fmt.Println("  adduser USERNAME [--known-as NAME]  Register a user and print a token")
	fmt.Println("  token USERNAME [--ttl 720h]         Issue a token for an existing user")
	fmt.Println("  health                              Check server liveness")
	fmt.Println("  status                              Show readiness and live connection count")
	fmt.Println("  online                              List online users from the Redis mirror")
	fmt.Println("  events                              Tail message events from NATS")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "adduser":
		err = runAddUser(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "health":
		err = runHealth(ctx, "/health")
	case "status":
		err = runHealth(ctx, "/health/ready")
	case "online":
		err = runOnline(ctx)
	case "events":
		err = runEvents(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config from the default location.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Presence.Redis.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Presence:  redis %s\n", cfg.Presence.Redis.Addr)
	}
	if cfg.Events.NATS.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Events:    nats %s\n", cfg.Events.NATS.URL)
	}

	fmt.Println()

	logger.Info("starting chathub",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tailscale", cfg.Tailscale.Enabled,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runHealth requests path on the configured server and prints the body.
func runHealth(ctx context.Context, path string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is not set; health checks need a TCP address")
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}
