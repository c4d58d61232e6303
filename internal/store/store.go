// ABOUTME: Store interfaces and data types for chathub persistence
// ABOUTME: Defines User, Message, Group and Connection plus the user/group/message store contracts

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when creating a user whose username is taken
var ErrDuplicateUser = errors.New("user already exists")

// ErrDuplicateConnection is returned when a connection is already enrolled in a group
var ErrDuplicateConnection = errors.New("connection already belongs to a group")

// ErrDuplicateMessage is returned when a sender reuses a client message id
var ErrDuplicateMessage = errors.New("message already exists")

// ErrNotParticipant is returned when a user acts on a message they neither sent nor received
var ErrNotParticipant = errors.New("user is not a participant of the message")

// User is the minimal profile record used to validate recipients and
// to label notifications.
type User struct {
	Username   string
	KnownAs    string
	CreatedAt  time.Time
	LastActive time.Time
}

// DisplayName returns KnownAs, falling back to the username.
func (u *User) DisplayName() string {
	if u.KnownAs != "" {
		return u.KnownAs
	}
	return u.Username
}

// Message is a single direct message between two users
type Message struct {
	ID                string
	SenderUsername    string
	RecipientUsername string
	Content           string
	ClientMessageID   string // optional sender-chosen idempotency key
	MessageSent       time.Time
	DateRead          *time.Time
	SenderDeleted     bool
	RecipientDeleted  bool
}

// Connection is a group membership record for one live transport connection
type Connection struct {
	ConnectionID string
	Username     string
}

// Group is a conversation group and its currently enrolled connections
type Group struct {
	Name        string
	Connections []Connection
	CreatedAt   time.Time
}

// HasMember reports whether any connection of username is enrolled in the group.
func (g *Group) HasMember(username string) bool {
	if g == nil {
		return false
	}
	return lo.ContainsBy(g.Connections, func(c Connection) bool {
		return c.Username == username
	})
}

// ConnectionIDs returns the ids of all enrolled connections.
func (g *Group) ConnectionIDs() []string {
	if g == nil {
		return nil
	}
	return lo.Map(g.Connections, func(c Connection, _ int) string {
		return c.ConnectionID
	})
}

// Container selects which side of a user's mailbox to list
type Container string

const (
	ContainerInbox  Container = "Inbox"  // received, not deleted by the recipient
	ContainerOutbox Container = "Outbox" // sent, not deleted by the sender
	ContainerUnread Container = "Unread" // received and not yet read
)

// ParseContainer maps a query value onto a Container. Unknown or empty
// values select ContainerUnread.
func ParseContainer(s string) Container {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbox":
		return ContainerInbox
	case "outbox":
		return ContainerOutbox
	default:
		return ContainerUnread
	}
}

// UserStore persists user profiles
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	TouchUser(ctx context.Context, username string, at time.Time) error
}

// GroupStore persists conversation groups and their connection membership
type GroupStore interface {
	// GetOrCreateGroup returns the named group, creating it if needed.
	// Concurrent callers converge on the same group.
	GetOrCreateGroup(ctx context.Context, name string) (*Group, error)
	GetGroup(ctx context.Context, name string) (*Group, error)
	GetGroupForConnection(ctx context.Context, connectionID string) (*Group, error)
	AddConnection(ctx context.Context, groupName string, conn Connection) error
	// RemoveConnection removes the membership record and returns the group
	// that owned it. Returns ErrNotFound if no group owns the connection.
	RemoveConnection(ctx context.Context, connectionID string) (*Group, error)
	// ClearConnections drops every membership record and reports how many were removed.
	ClearConnections(ctx context.Context) (int64, error)
}

// MessageStore persists direct messages and their read/delete state
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// GetMessageThread returns the messages exchanged between viewer and other,
	// oldest first, hiding the ones viewer has deleted.
	GetMessageThread(ctx context.Context, viewer, other string) ([]*Message, error)
	// MarkThreadRead stamps every unread message from sender to recipient.
	MarkThreadRead(ctx context.Context, recipient, sender string, at time.Time) (int64, error)
	ListMessagesForUser(ctx context.Context, username string, container Container, limit int) ([]*Message, error)
	// LatestUnread returns the newest unread message addressed to recipient
	// that was not sent by excludeSender.
	LatestUnread(ctx context.Context, recipient, excludeSender string) (*Message, error)
	// DeleteMessageFor soft deletes the message on username's side and removes
	// it entirely once both sides have deleted it.
	DeleteMessageFor(ctx context.Context, id, username string) (hardDeleted bool, err error)
}

// Store is everything the messaging hub and HTTP API need from persistence
type Store interface {
	UserStore
	GroupStore
	MessageStore

	// Ping checks the underlying storage is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
