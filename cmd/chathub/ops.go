// ABOUTME: Operational subcommands that read the outward presence and event channels
// ABOUTME: online lists the Redis presence set; events tails message events from NATS

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/2389/chathub/internal/events"
	"github.com/2389/chathub/internal/presence"
)

// runOnline prints the identities in the Redis presence set.
func runOnline(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	rc := cfg.Presence.Redis
	if !rc.Enabled {
		return errors.New("presence.redis is not enabled in the config")
	}

	logger := setupLogger(cfg.Logging, os.Stderr)
	mirror, err := presence.NewRedisMirror(ctx, presence.RedisOptions{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		Key:      rc.Key,
	}, logger)
	if err != nil {
		return err
	}
	defer mirror.Close()

	online, err := mirror.Members(ctx)
	if err != nil {
		return err
	}

	if len(online) == 0 {
		color.New(color.FgHiBlack).Println("no users online")
		return nil
	}
	for _, username := range online {
		fmt.Println(username)
	}
	return nil
}

// runEvents prints message events until interrupted.
func runEvents(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	nc := cfg.Events.NATS
	if !nc.Enabled {
		return errors.New("events.nats is not enabled in the config")
	}

	logger := setupLogger(cfg.Logging, os.Stderr)
	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)

	gray.Printf("tailing %s on %s (ctrl-c to stop)\n", events.MessageCreatedSubject(nc.SubjectPrefix), nc.URL)
	return events.Tail(ctx, events.NATSOptions{
		URL:           nc.URL,
		SubjectPrefix: nc.SubjectPrefix,
		Name:          "chathub-events",
	}, logger, func(ev events.MessageCreated) {
		state := "unread"
		if ev.Read {
			state = "read"
		}
		gray.Print(ev.MessageSent.Local().Format("15:04:05") + " ")
		cyan.Printf("%s → %s", ev.SenderUsername, ev.RecipientUsername)
		fmt.Printf(" [%s] %s %s\n", ev.Group, ev.ID, state)
	})
}
