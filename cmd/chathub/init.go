// ABOUTME: Interactive init subcommand that writes a starter gateway.yaml
// ABOUTME: Generates a random JWT secret so the config validates out of the box

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	HTTPAddr  string
	DBPath    string
	JWTSecret string

	Tailscale   bool
	TSHostname  string
	TSAuthKey   string
	TSEphemeral bool
	TSFunnel    bool

	Redis     bool
	RedisAddr string

	NATS    bool
	NATSURL string

	LogLevel  string
	LogFormat string
}

// generateSecret returns a random base64 secret long enough for HS256.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// renderConfig produces the YAML written by init.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# chathub configuration\n")
	cfg.WriteString("# Generated by chathub init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", a.JWTSecret))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.Tailscale))
	if a.Tailscale {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", a.TSHostname))
		if a.TSAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", a.TSAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", a.TSEphemeral))
		cfg.WriteString("  https: true\n")
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", a.TSFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("hub:\n")
	cfg.WriteString("  max_message_bytes: 65536\n")
	cfg.WriteString("  send_buffer: 64\n")
	cfg.WriteString("  write_timeout: \"10s\"\n")
	cfg.WriteString("  pong_timeout: \"60s\"\n")
	cfg.WriteString("  dedupe_ttl: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("presence:\n")
	cfg.WriteString("  redis:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", a.Redis))
	if a.Redis {
		cfg.WriteString(fmt.Sprintf("    addr: %q\n", a.RedisAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("events:\n")
	cfg.WriteString("  nats:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", a.NATS))
	if a.NATS {
		cfg.WriteString(fmt.Sprintf("    url: %q\n", a.NATSURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))

	return cfg.String()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chathub configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDBPath := filepath.Join(getDataPath(), "chathub.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}
	a := initAnswers{JWTSecret: secret}

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Tailscale Configuration ---")
	a.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, "Tailscale hostname", "chathub")
		a.TSAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.TSEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		a.TSFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Presence and Events ---")
	a.Redis = yes(prompt(reader, "Mirror presence to Redis?", "no"))
	if a.Redis {
		a.RedisAddr = prompt(reader, "Redis address", "localhost:6379")
	}
	a.NATS = yes(prompt(reader, "Publish message events to NATS?", "no"))
	if a.NATS {
		a.NATSURL = prompt(reader, "NATS URL", "nats://localhost:4222")
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the JWT secret
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  chathub adduser alice --known-as Alice")
	fmt.Println("  chathub serve")

	return nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
