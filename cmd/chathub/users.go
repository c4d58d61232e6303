// ABOUTME: User management subcommands: adduser registers a profile, token issues a JWT
// ABOUTME: Both open the configured SQLite store directly, so they work while the server is down

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/config"
	"github.com/2389/chathub/internal/hub"
	"github.com/2389/chathub/internal/store"
)

// defaultTokenTTL is how long issued tokens stay valid unless --ttl is given.
const defaultTokenTTL = 30 * 24 * time.Hour

// userArgs are the parsed arguments of adduser and token.
type userArgs struct {
	username string
	knownAs  string
	ttl      time.Duration
}

// parseUserArgs parses "USERNAME [--known-as NAME] [--ttl DURATION]".
// Flags accept both "--flag value" and "--flag=value".
func parseUserArgs(args []string) (userArgs, error) {
	parsed := userArgs{ttl: defaultTokenTTL}

	value := func(i *int, arg, name string) (string, error) {
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--known-as" || strings.HasPrefix(arg, "--known-as="):
			v, err := value(&i, arg, "--known-as")
			if err != nil {
				return parsed, err
			}
			parsed.knownAs = strings.TrimSpace(v)
		case arg == "--ttl" || strings.HasPrefix(arg, "--ttl="):
			v, err := value(&i, arg, "--ttl")
			if err != nil {
				return parsed, err
			}
			ttl, err := time.ParseDuration(v)
			if err != nil || ttl <= 0 {
				return parsed, fmt.Errorf("--ttl must be a positive duration, got %q", v)
			}
			parsed.ttl = ttl
		case strings.HasPrefix(arg, "-"):
			return parsed, fmt.Errorf("unknown flag: %s", arg)
		case parsed.username == "":
			parsed.username = arg
		default:
			return parsed, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if parsed.username == "" {
		return parsed, errors.New("username is required")
	}
	username, err := hub.NormalizeIdentity(parsed.username)
	if err != nil {
		return parsed, err
	}
	parsed.username = username
	if len(parsed.knownAs) > 100 {
		return parsed, errors.New("--known-as exceeds maximum length of 100 characters")
	}
	return parsed, nil
}

// openStore opens the configured database, honouring CHATHUB_DB_PATH.
func openStore(cfg *config.Config) (*store.SQLiteStore, string, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHATHUB_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, dbPath, fmt.Errorf("opening database: %w", err)
	}
	return s, dbPath, nil
}

func issueToken(cfg *config.Config, username string, ttl time.Duration) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(username, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

// runAddUser registers a user and prints a token for them.
func runAddUser(ctx context.Context, args []string) error {
	parsed, err := parseUserArgs(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	user := &store.User{Username: parsed.username, KnownAs: parsed.knownAs}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return fmt.Errorf("user %q already exists (use 'chathub token %s' for a new token)", parsed.username, parsed.username)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	token, err := issueToken(cfg, user.Username, parsed.ttl)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Printf("  ✓ Database: %s\n", dbPath)
	green.Printf("  ✓ Created user: %s\n", user.Username)
	fmt.Println()
	cyan.Println("  User")
	cyan.Println("  ----")
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  Known as: %s\n", user.DisplayName())
	fmt.Printf("  Expires:  %s\n", time.Now().Add(parsed.ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println()
	fmt.Println(token)
	return nil
}

// runToken issues a fresh token for an existing user.
func runToken(ctx context.Context, args []string) error {
	parsed, err := parseUserArgs(args)
	if err != nil {
		return err
	}
	if parsed.knownAs != "" {
		return errors.New("--known-as only applies to adduser")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.GetUser(ctx, parsed.username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %q does not exist (use 'chathub adduser %s')", parsed.username, parsed.username)
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	token, err := issueToken(cfg, parsed.username, parsed.ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
