// ABOUTME: Request/response message operations shared by sessions and the HTTP API
// ABOUTME: Thread reads with read receipts, mailbox listings, REST sends and deletion

package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/chathub/internal/protocol"
	"github.com/2389/chathub/internal/store"
)

// Thread marks every unread message from other to viewer as read and then
// returns the thread between them, oldest first. The read stamps are
// persisted before the thread is returned.
func (h *Hub) Thread(ctx context.Context, viewer, other string) ([]*store.Message, error) {
	n, err := h.store.MarkThreadRead(ctx, viewer, other, h.now())
	if err != nil {
		return nil, fmt.Errorf("%w: marking thread read: %w", ErrPersistence, err)
	}
	if n > 0 {
		h.logger.Debug("marked messages read", "reader", viewer, "sender", other, "count", n)
	}

	thread, err := h.store.GetMessageThread(ctx, viewer, other)
	if err != nil {
		return nil, fmt.Errorf("%w: loading thread: %w", ErrPersistence, err)
	}
	return thread, nil
}

// OpenThread normalizes both identities, checks the other user exists and
// returns the thread as Thread does.
func (h *Hub) OpenThread(ctx context.Context, viewer, other string) ([]*store.Message, error) {
	viewer, err := NormalizeIdentity(viewer)
	if err != nil {
		return nil, err
	}
	other, err = NormalizeIdentity(other)
	if err != nil {
		return nil, err
	}
	if _, err := h.lookupUser(ctx, other); err != nil {
		return nil, err
	}
	return h.Thread(ctx, viewer, other)
}

// CreateMessage sends a message on behalf of caller outside any session.
// Live recipients are notified exactly as for a SendMessage invocation.
func (h *Hub) CreateMessage(ctx context.Context, caller string, req protocol.SendMessageRequest) (*store.Message, error) {
	caller, err := NormalizeIdentity(caller)
	if err != nil {
		return nil, err
	}
	if req.RecipientUsername == "" {
		return nil, fmt.Errorf("%w: recipient_username is required", ErrValidation)
	}
	return h.send(ctx, caller, req)
}

// ListMessages lists one of caller's mailbox containers, newest first.
func (h *Hub) ListMessages(ctx context.Context, caller string, container store.Container, limit int) ([]*store.Message, error) {
	caller, err := NormalizeIdentity(caller)
	if err != nil {
		return nil, err
	}
	msgs, err := h.store.ListMessagesForUser(ctx, caller, container, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing messages: %w", ErrPersistence, err)
	}
	return msgs, nil
}

// DeleteMessage hides a message from caller. The message is removed from
// storage once both participants have deleted it.
func (h *Hub) DeleteMessage(ctx context.Context, caller, id string) (hardDeleted bool, err error) {
	caller, err = NormalizeIdentity(caller)
	if err != nil {
		return false, err
	}

	hardDeleted, err = h.store.DeleteMessageFor(ctx, id, caller)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, ErrMessageNotFound
	case errors.Is(err, store.ErrNotParticipant):
		return false, ErrNotParticipant
	case err != nil:
		return false, fmt.Errorf("%w: deleting message: %w", ErrPersistence, err)
	}

	h.logger.Info("message deleted", "id", id, "username", caller, "hard", hardDeleted)
	return hardDeleted, nil
}
