// ABOUTME: Per-connection messaging session: join a two-party conversation, send, leave
// ABOUTME: Handlers for one connection run strictly one at a time; teardown is best-effort

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chathub/internal/notify"
	"github.com/2389/chathub/internal/protocol"
	"github.com/2389/chathub/internal/store"
)

// State is the lifecycle position of a session
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// teardownTimeout bounds cleanup after the connection's own context is gone.
const teardownTimeout = 5 * time.Second

// Session is one connection's view of a conversation between its user and
// a counterpart.
type Session struct {
	hub  *Hub
	conn notify.Conn

	rawCounterpart string

	mu          sync.Mutex // serializes Join, SendMessage and Disconnect
	state       State
	caller      string
	counterpart string
	group       string
	registered  bool
	logger      *slog.Logger
}

// NewSession creates a session for conn that will join the conversation
// with counterpart. Nothing is registered until Join.
func (h *Hub) NewSession(conn notify.Conn, counterpart string) *Session {
	return &Session{
		hub:            h,
		conn:           conn,
		rawCounterpart: counterpart,
		state:          StateConnecting,
		logger: h.logger.With(
			"connection_id", conn.ID(),
			"username", conn.Identity(),
		),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GroupName returns the conversation group once joined.
func (s *Session) GroupName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

// Join registers the connection, enrolls it in the conversation group,
// announces the new membership and delivers the thread to this connection.
// Any failure leaves nothing registered and the session Disconnected.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return fmt.Errorf("join in state %s: %w", s.state, ErrJoinFailed)
	}

	err := s.join(ctx)
	if err != nil {
		s.logger.Warn("join failed", "counterpart", s.rawCounterpart, "error", err)
		s.teardownLocked(ctx)
		return err
	}

	s.state = StateJoined
	s.logger.Info("=== SESSION JOINED ===", "group", s.group)
	return nil
}

func (s *Session) join(ctx context.Context) error {
	h := s.hub

	caller, err := NormalizeIdentity(s.conn.Identity())
	if err != nil {
		return err
	}
	counterpart, err := NormalizeIdentity(s.rawCounterpart)
	if err != nil {
		return err
	}
	if caller == counterpart {
		return ErrSelfConversation
	}
	if _, err := h.lookupUser(ctx, caller); err != nil {
		return err
	}
	if _, err := h.lookupUser(ctx, counterpart); err != nil {
		return err
	}

	s.caller = caller
	s.counterpart = counterpart
	s.group = GroupName(caller, counterpart)

	h.dispatcher.Attach(s.conn)
	s.registered = true
	if h.registry.Add(caller, s.conn.ID()) {
		s.announceOnline(ctx)
	}

	if _, err := h.store.GetOrCreateGroup(ctx, s.group); err != nil {
		return fmt.Errorf("%w %s: %w", ErrJoinFailed, s.group, err)
	}
	conn := store.Connection{ConnectionID: s.conn.ID(), Username: caller}
	if err := h.store.AddConnection(ctx, s.group, conn); err != nil {
		return fmt.Errorf("%w %s: %w", ErrJoinFailed, s.group, err)
	}
	group, err := h.store.GetGroup(ctx, s.group)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrJoinFailed, s.group, err)
	}
	h.broadcastGroup(group)

	thread, err := s.loadThread(ctx)
	if err != nil {
		return err
	}
	s.send(protocol.Event{
		Type:    protocol.TypeReceiveMessageThread,
		Payload: protocol.ReceiveMessageThreadPayload{Messages: protocol.NewMessageDTOs(thread)},
	})

	s.notifyOtherUnread(ctx)

	if err := h.store.TouchUser(ctx, caller, h.now()); err != nil {
		s.logger.Debug("failed to record activity", "error", err)
	}
	return nil
}

// loadThread marks the counterpart's unread messages read, then loads the
// thread so the returned messages carry their read stamps.
func (s *Session) loadThread(ctx context.Context) ([]*store.Message, error) {
	return s.hub.Thread(ctx, s.caller, s.counterpart)
}

// notifyOtherUnread tells a user who just connected that someone other than
// the counterpart wrote to them while they were away.
func (s *Session) notifyOtherUnread(ctx context.Context) {
	msg, err := s.hub.store.LatestUnread(ctx, s.caller, s.counterpart)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("failed to check unread messages", "error", err)
		return
	}

	knownAs := msg.SenderUsername
	if sender, err := s.hub.store.GetUser(ctx, msg.SenderUsername); err == nil {
		knownAs = sender.DisplayName()
	}
	s.send(protocol.Event{
		Type: protocol.TypeNewMessageReceived,
		Payload: protocol.NewMessageReceivedPayload{
			SenderUsername: msg.SenderUsername,
			SenderKnownAs:  knownAs,
		},
	})
}

// SendMessage sends a message from this session's user. The recipient
// defaults to the conversation counterpart.
func (s *Session) SendMessage(ctx context.Context, req protocol.SendMessageRequest) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined {
		return nil, ErrNotJoined
	}
	if req.RecipientUsername == "" {
		req.RecipientUsername = s.counterpart
	}
	return s.hub.send(ctx, s.caller, req)
}

// Disconnect leaves the group, announces the new membership and
// unregisters the connection. It is safe in any state and runs at most once.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}
	s.teardownLocked(ctx)
	s.logger.Info("=== SESSION CLOSED ===", "group", s.group)
}

// teardownLocked undoes whatever join managed to do. Each step logs its own
// failure and the remaining steps still run. Caller must hold s.mu.
func (s *Session) teardownLocked(ctx context.Context) {
	s.state = StateDisconnected
	h := s.hub

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	group, err := h.store.RemoveConnection(ctx, s.conn.ID())
	switch {
	case errors.Is(err, store.ErrNotFound):
		// never enrolled
	case err != nil:
		s.logger.Error("failed to leave group", "group", s.group, "error", err)
	default:
		h.broadcastGroup(group)
	}

	if s.registered {
		if h.registry.Remove(s.caller, s.conn.ID()) {
			s.announceOffline(ctx)
		}
		h.dispatcher.Detach(s.conn.ID())
		s.registered = false
	}
}

func (s *Session) announceOnline(ctx context.Context) {
	if err := s.hub.mirror.Online(ctx, s.caller); err != nil {
		s.logger.Warn("failed to mirror online presence", "error", err)
	}
	s.hub.dispatcher.Broadcast(protocol.Event{
		Type:    protocol.TypeUserIsOnline,
		Payload: protocol.PresencePayload{Username: s.caller},
	}, s.caller)
}

func (s *Session) announceOffline(ctx context.Context) {
	if err := s.hub.mirror.Offline(ctx, s.caller); err != nil {
		s.logger.Warn("failed to mirror offline presence", "error", err)
	}
	s.hub.dispatcher.Broadcast(protocol.Event{
		Type:    protocol.TypeUserIsOffline,
		Payload: protocol.PresencePayload{Username: s.caller},
	}, s.caller)
}

// send pushes an event to this connection only.
func (s *Session) send(ev protocol.Event) {
	if err := s.conn.Send(ev); err != nil {
		s.logger.Warn("failed to deliver event", "event", ev.Type, "error", err)
	}
}
