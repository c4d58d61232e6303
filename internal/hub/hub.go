// ABOUTME: Messaging hub coordinating presence, conversation groups and message persistence
// ABOUTME: Owns the shared collaborators and the send path used by sessions and the HTTP API

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/chathub/internal/dedupe"
	"github.com/2389/chathub/internal/events"
	"github.com/2389/chathub/internal/notify"
	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/protocol"
	"github.com/2389/chathub/internal/store"
)

// GroupSeparator joins the two identities of a conversation group name.
// Identities may not contain it.
const GroupSeparator = "|"

// Error classes. Specific errors wrap one of these so callers can branch
// with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrPersistence = errors.New("persistence failed")
)

var (
	ErrSelfMessage      = fmt.Errorf("%w: you cannot send messages to yourself", ErrValidation)
	ErrSelfConversation = fmt.Errorf("%w: you cannot open a conversation with yourself", ErrValidation)
	ErrInvalidIdentity  = fmt.Errorf("%w: invalid username", ErrValidation)
	ErrUserNotFound     = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrMessageNotFound  = fmt.Errorf("%w: message not found", ErrNotFound)
	ErrNotParticipant   = fmt.Errorf("%w: not a participant of this message", ErrForbidden)

	// ErrDuplicateMessage means the client message id was already accepted.
	// It is an acknowledgement, not a failure.
	ErrDuplicateMessage = errors.New("duplicate message")

	ErrJoinFailed = errors.New("failed to join group")
	ErrNotJoined  = errors.New("session has not joined a conversation")
)

// NormalizeIdentity lower-cases and trims a username and rejects empty
// values and values containing GroupSeparator.
func NormalizeIdentity(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" || strings.Contains(id, GroupSeparator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	return id, nil
}

// GroupName returns the conversation group name for two normalized
// identities. The result does not depend on argument order.
func GroupName(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + GroupSeparator + b
}

// Options configures a Hub. Store is required; everything else has a default.
type Options struct {
	Store      store.Store
	Registry   *presence.Registry
	Dispatcher *notify.Dispatcher
	Mirror     presence.Mirror
	Publisher  events.Publisher
	Dedupe     *dedupe.Cache // nil disables the in-memory duplicate check
	Logger     *slog.Logger
	Now        func() time.Time
}

// Hub is shared by every session. It holds no per-connection state.
type Hub struct {
	store      store.Store
	registry   *presence.Registry
	dispatcher *notify.Dispatcher
	mirror     presence.Mirror
	publisher  events.Publisher
	dedupe     *dedupe.Cache
	validate   *validator.Validate
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a hub.
func New(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		store:      opts.Store,
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		mirror:     opts.Mirror,
		publisher:  opts.Publisher,
		dedupe:     opts.Dedupe,
		validate:   validator.New(),
		logger:     logger.With("component", "hub"),
		now:        opts.Now,
	}
	if h.registry == nil {
		h.registry = presence.NewRegistry(logger)
	}
	if h.dispatcher == nil {
		h.dispatcher = notify.NewDispatcher(h.registry, logger)
	}
	if h.mirror == nil {
		h.mirror = presence.NopMirror{}
	}
	if h.publisher == nil {
		h.publisher = events.NopPublisher{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Start prepares shared state for a fresh process: membership rows left by
// a previous run are dropped and the presence mirror is reset.
func (h *Hub) Start(ctx context.Context) error {
	n, err := h.store.ClearConnections(ctx)
	if err != nil {
		return fmt.Errorf("clearing stale connections: %w", err)
	}
	if n > 0 {
		h.logger.Info("cleared stale group connections", "count", n)
	}
	if err := h.mirror.Reset(ctx); err != nil {
		h.logger.Warn("failed to reset presence mirror", "error", err)
	}
	return nil
}

// Close releases the hub's outward collaborators.
func (h *Hub) Close() error {
	var errs []error
	if err := h.mirror.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing presence mirror: %w", err))
	}
	if err := h.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing event publisher: %w", err))
	}
	if h.dedupe != nil {
		h.dedupe.Close()
	}
	return errors.Join(errs...)
}

// Registry returns the presence registry.
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// OnlineUsers returns every identity with a live connection, sorted.
func (h *Hub) OnlineUsers() []string {
	return h.registry.OnlineIdentities()
}

// lookupUser resolves a profile, mapping a missing one to ErrUserNotFound.
func (h *Hub) lookupUser(ctx context.Context, username string) (*store.User, error) {
	user, err := h.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: looking up %s: %w", ErrPersistence, username, err)
	}
	return user, nil
}

// send validates, persists and fans out one message from caller. It backs
// both SendMessage invocations and the HTTP API.
func (h *Hub) send(ctx context.Context, caller string, req protocol.SendMessageRequest) (*store.Message, error) {
	if err := h.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	recipientName, err := NormalizeIdentity(req.RecipientUsername)
	if err != nil {
		return nil, err
	}
	if recipientName == caller {
		return nil, ErrSelfMessage
	}

	sender, err := h.lookupUser(ctx, caller)
	if err != nil {
		return nil, err
	}
	recipient, err := h.lookupUser(ctx, recipientName)
	if err != nil {
		return nil, err
	}

	var claim *dedupe.Claim
	if req.ClientMessageID != "" && h.dedupe != nil {
		claim, err = h.claimMessage(ctx, dedupe.Key(sender.Username, req.ClientMessageID))
		if err != nil {
			return nil, err
		}
	}
	release := func() {
		if claim != nil {
			claim.Release()
		}
	}

	now := h.now()
	msg := &store.Message{
		ID:                uuid.New().String(),
		SenderUsername:    sender.Username,
		RecipientUsername: recipient.Username,
		Content:           req.Content,
		ClientMessageID:   req.ClientMessageID,
		MessageSent:       now,
	}

	groupName := GroupName(sender.Username, recipient.Username)
	group, err := h.store.GetGroup(ctx, groupName)
	if errors.Is(err, store.ErrNotFound) {
		group = &store.Group{Name: groupName}
	} else if err != nil {
		release()
		return nil, fmt.Errorf("%w: loading group %s: %w", ErrPersistence, groupName, err)
	}

	// Presence decision: reading the thread right now marks the message
	// read; being connected elsewhere earns a lightweight notification.
	live := h.liveGroup(group)
	var notifyTargets []string
	if live.HasMember(recipient.Username) {
		readAt := now
		msg.DateRead = &readAt
	} else {
		notifyTargets = h.registry.ConnectionsFor(recipient.Username)
	}

	if err := h.store.SaveMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) {
			if claim != nil {
				claim.Commit()
			}
			return nil, ErrDuplicateMessage
		}
		release()
		return nil, fmt.Errorf("%w: saving message: %w", ErrPersistence, err)
	}
	if claim != nil {
		claim.Commit()
	}

	if len(notifyTargets) > 0 {
		h.dispatcher.SendTo(notifyTargets, protocol.Event{
			Type: protocol.TypeNewMessageReceived,
			Payload: protocol.NewMessageReceivedPayload{
				SenderUsername: sender.Username,
				SenderKnownAs:  sender.DisplayName(),
			},
		})
	}

	if members := live.ConnectionIDs(); len(members) > 0 {
		h.dispatcher.SendTo(members, protocol.Event{
			Type:    protocol.TypeNewMessage,
			Payload: protocol.NewMessagePayload{Message: protocol.NewMessageDTO(msg)},
		})
	}

	if err := h.publisher.MessageCreated(ctx, msg, groupName); err != nil {
		h.logger.Warn("failed to publish message event", "id", msg.ID, "error", err)
	}
	if err := h.store.TouchUser(ctx, sender.Username, now); err != nil {
		h.logger.Debug("failed to record sender activity", "username", sender.Username, "error", err)
	}

	h.logger.Info("message sent",
		"id", msg.ID,
		"sender", msg.SenderUsername,
		"recipient", msg.RecipientUsername,
		"read", msg.DateRead != nil,
		"notified", len(notifyTargets))

	return msg, nil
}

// claimMessage takes the idempotency claim for key. While an earlier send
// with the same key is still in flight it waits for that send to settle, so
// a duplicate is only reported once the first copy has been stored.
func (h *Hub) claimMessage(ctx context.Context, key string) (*dedupe.Claim, error) {
	for {
		claim, state := h.dedupe.Claim(key)
		switch state {
		case dedupe.Owned:
			return claim, nil
		case dedupe.Committed:
			return nil, ErrDuplicateMessage
		}
		if err := h.dedupe.Wait(ctx, key); err != nil {
			return nil, fmt.Errorf("%w: waiting for earlier send: %w", ErrPersistence, err)
		}
	}
}

// liveGroup returns a copy of group holding only the connections that are
// still registered to the same identity. Membership rows can outlive a
// connection when removing them failed during disconnect.
func (h *Hub) liveGroup(group *store.Group) *store.Group {
	live := *group
	live.Connections = lo.Filter(group.Connections, func(c store.Connection, _ int) bool {
		identity, ok := h.registry.IdentityFor(c.ConnectionID)
		return ok && identity == c.Username
	})
	return &live
}

// broadcastGroup sends the group's current membership to all its members.
func (h *Hub) broadcastGroup(group *store.Group) {
	h.dispatcher.SendTo(group.ConnectionIDs(), protocol.Event{
		Type:    protocol.TypeUpdatedGroup,
		Payload: protocol.UpdatedGroupPayload{Group: protocol.NewGroupDTO(group)},
	})
}
