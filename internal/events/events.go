// ABOUTME: Publishes persisted-message events to NATS for downstream consumers
// ABOUTME: Publishing is best-effort; the hub never fails a send because of it

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/chathub/internal/store"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "chathub"

// MessageCreated is the payload published after a message is persisted.
// It carries no message content.
type MessageCreated struct {
	ID                string    `json:"id"`
	SenderUsername    string    `json:"sender_username"`
	RecipientUsername string    `json:"recipient_username"`
	Group             string    `json:"group"`
	MessageSent       time.Time `json:"message_sent"`
	Read              bool      `json:"read"`
}

// Publisher announces domain events.
type Publisher interface {
	MessageCreated(ctx context.Context, msg *store.Message, group string) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) MessageCreated(context.Context, *store.Message, string) error { return nil }
func (NopPublisher) Close() error { return nil }

// natsConn is the subset of *nats.Conn the publisher uses
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSOptions configures a NATS connection
type NATSOptions struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// NATSPublisher publishes events as JSON on "<prefix>.message.created".
type NATSPublisher struct {
	conn    natsConn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to NATS. The connection reconnects forever in
// the background; publishes made while disconnected are buffered by the client.
func NewNATSPublisher(opts NATSOptions, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	conn, err := connect(opts, logger)
	if err != nil {
		return nil, err
	}

	p := newNATSPublisher(conn, opts.SubjectPrefix, logger)
	logger.Info("connected to NATS", "url", opts.URL, "subject", p.subject)
	return p, nil
}

func newNATSPublisher(conn natsConn, prefix string, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		conn:    conn,
		subject: MessageCreatedSubject(prefix),
		logger:  logger,
	}
}

// MessageCreatedSubject returns the subject message events are published on.
func MessageCreatedSubject(prefix string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + ".message.created"
}

// MessageCreated publishes msg.
func (p *NATSPublisher) MessageCreated(ctx context.Context, msg *store.Message, group string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(MessageCreated{
		ID:                msg.ID,
		SenderUsername:    msg.SenderUsername,
		RecipientUsername: msg.RecipientUsername,
		Group:             group,
		MessageSent:       msg.MessageSent.UTC(),
		Read:              msg.DateRead != nil,
	})
	if err != nil {
		return fmt.Errorf("encoding message event: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Tail subscribes to message events and calls fn for each until ctx is done.
func Tail(ctx context.Context, opts NATSOptions, logger *slog.Logger, fn func(MessageCreated)) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	conn, err := connect(opts, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub, err := conn.Subscribe(MessageCreatedSubject(opts.SubjectPrefix), func(m *nats.Msg) {
		var ev MessageCreated
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			logger.Warn("skipping malformed message event", "error", err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	<-ctx.Done()
	return nil
}

func connect(opts NATSOptions, logger *slog.Logger) (*nats.Conn, error) {
	name := opts.Name
	if name == "" {
		name = "chathub"
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", opts.URL, err)
	}
	return conn, nil
}
