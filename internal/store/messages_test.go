// ABOUTME: Tests for direct message persistence
// ABOUTME: Covers threads, read receipts, mailbox containers, idempotency and two-sided deletion

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveAt(t *testing.T, s Store, from, to, content string, at time.Time) *Message {
	t.Helper()
	msg := &Message{
		SenderUsername:    from,
		RecipientUsername: to,
		Content:           content,
		MessageSent:       at,
	}
	require.NoError(t, s.SaveMessage(context.Background(), msg))
	return msg
}

func TestSaveAndGetMessage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "bob", "lisa")

		readAt := time.Now().UTC().Truncate(time.Millisecond)
		msg := &Message{
			SenderUsername:    "bob",
			RecipientUsername: "lisa",
			Content:           "hi",
			DateRead:          &readAt,
		}
		require.NoError(t, s.SaveMessage(ctx, msg))
		require.NotEmpty(t, msg.ID, "id is assigned on save")
		require.False(t, msg.MessageSent.IsZero(), "send time is assigned on save")

		got, err := s.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", got.SenderUsername)
		assert.Equal(t, "lisa", got.RecipientUsername)
		assert.Equal(t, "hi", got.Content)
		require.NotNil(t, got.DateRead)
		assert.True(t, got.DateRead.Equal(readAt))
		assert.False(t, got.SenderDeleted)
		assert.False(t, got.RecipientDeleted)
	})
}

func TestSaveMessage_UnknownUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedUsers(t, s, "bob")

		err := s.SaveMessage(context.Background(), &Message{
			SenderUsername:    "bob",
			RecipientUsername: "ghost",
			Content:           "anyone?",
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSaveMessage_DuplicateClientMessageID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "bob", "lisa")

		first := &Message{SenderUsername: "bob", RecipientUsername: "lisa", Content: "hi", ClientMessageID: "m-1"}
		require.NoError(t, s.SaveMessage(ctx, first))

		retry := &Message{SenderUsername: "bob", RecipientUsername: "lisa", Content: "hi", ClientMessageID: "m-1"}
		assert.ErrorIs(t, s.SaveMessage(ctx, retry), ErrDuplicateMessage)

		// The same key from a different sender is unrelated.
		other := &Message{SenderUsername: "lisa", RecipientUsername: "bob", Content: "hey", ClientMessageID: "m-1"}
		assert.NoError(t, s.SaveMessage(ctx, other))

		// Messages without a key never collide.
		require.NoError(t, s.SaveMessage(ctx, &Message{SenderUsername: "bob", RecipientUsername: "lisa", Content: "a"}))
		require.NoError(t, s.SaveMessage(ctx, &Message{SenderUsername: "bob", RecipientUsername: "lisa", Content: "b"}))
	})
}

func TestGetMessage_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetMessage(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetMessageThread_SymmetricAndOrdered(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "bob", "lisa", "todd")

		base := time.Now().UTC()
		saveAt(t, s, "bob", "lisa", "one", base)
		saveAt(t, s, "lisa", "bob", "two", base.Add(time.Second))
		saveAt(t, s, "todd", "lisa", "other thread", base.Add(2*time.Second))
		saveAt(t, s, "bob", "todd", "also other", base.Add(3*time.Second))
		saveAt(t, s, "bob", "lisa", "three", base.Add(4*time.Second))

		fromLisa, err := s.GetMessageThread(ctx, "lisa", "bob")
		require.NoError(t, err)
		fromBob, err := s.GetMessageThread(ctx, "bob", "lisa")
		require.NoError(t, err)

		contents := func(msgs []*Message) []string {
			var out []string
			for _, m := range msgs {
				out = append(out, m.Content)
			}
			return out
		}
		assert.Equal(t, []string{"one", "two", "three"}, contents(fromLisa))
		assert.Equal(t, contents(fromLisa), contents(fromBob))
	})
}

func TestGetMessageThread_HidesViewerDeletions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "bob", "lisa")

		base := time.Now().UTC()
		keep := saveAt(t, s, "bob", "lisa", "keep", base)
		gone := saveAt(t, s, "bob", "lisa", "gone for lisa", base.Add(time.Second))

		_, err := s.DeleteMessageFor(ctx, gone.ID, "lisa")
		require.NoError(t, err)

		lisaView, err := s.GetMessageThread(ctx, "lisa", "bob")
		require.NoError(t, err)
		require.Len(t, lisaView, 1)
		assert.Equal(t, keep.ID, lisaView[0].ID)

		bobView, err := s.GetMessageThread(ctx, "bob", "lisa")
		require.NoError(t, err)
		assert.Len(t, bobView, 2, "sender still sees the message")
	})
}

func TestMarkThreadRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "bob", "lisa", "todd")

		base := time.Now().UTC()
		m1 := saveAt(t, s, "bob", "lisa", "one", base)
		m2 := saveAt(t, s, "bob", "lisa", "two", base.Add(time.Second))
		reply := saveAt(t, s, "lisa", "bob", "reply", base.Add(2*time.Second))
		fromTodd := saveAt(t, s, "todd", "lisa", "elsewhere", base.Add(3*time.Second))

		readAt := base.Add(time.Minute).Truncate(time.Millisecond)
		n, err := s.MarkThreadRead(ctx, "lisa", "bob", readAt)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		for _, id := range []string{m1.ID, m2.ID} {
			got, err := s.GetMessage(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, got.DateRead)
			assert.True(t, got.DateRead.Equal(readAt))
		}

		got, err := s.GetMessage(ctx, reply.ID)
		require.NoError(t, err)
		assert.Nil(t, got.DateRead, "messages lisa sent are not marked")

		got, err = s.GetMessage(ctx, fromTodd.ID)
		require.NoError(t, err)
		assert.Nil(t, got.DateRead, "other threads are not marked")

		// A second pass leaves the first stamp alone.
		n, err = s.MarkThreadRead(ctx, "lisa", "bob", readAt.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		got, err = s.GetMessage(ctx, m1.ID)
		require.NoError(t, err)
		assert.True(t, got.DateRead.Equal(readAt))
	})
}

func TestListMessagesForUser_Containers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "bob", "lisa", "todd")

		base := time.Now().UTC()
		saveAt(t, s, "bob", "lisa", "in-1", base)
		saveAt(t, s, "todd", "lisa", "in-2", base.Add(time.Second))
		saveAt(t, s, "lisa", "bob", "out-1", base.Add(2*time.Second))
		_, err := s.MarkThreadRead(ctx, "lisa", "bob", base.Add(3*time.Second))
		require.NoError(t, err)

		inbox, err := s.ListMessagesForUser(ctx, "lisa", ContainerInbox, 0)
		require.NoError(t, err)
		require.Len(t, inbox, 2)
		assert.Equal(t, "in-2", inbox[0].Content, "newest first")
		assert.Equal(t, "in-1", inbox[1].Content)

		outbox, err := s.ListMessagesForUser(ctx, "lisa", ContainerOutbox, 0)
		require.NoError(t, err)
		require.Len(t, outbox, 1)
		assert.Equal(t, "out-1", outbox[0].Content)

		unread, err := s.ListMessagesForUser(ctx, "lisa", ContainerUnread, 0)
		require.NoError(t, err)
		require.Len(t, unread, 1)
		assert.Equal(t, "in-2", unread[0].Content)

		limited, err := s.ListMessagesForUser(ctx, "lisa", ContainerInbox, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestLatestUnread(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "bob", "lisa", "todd")

		_, err := s.LatestUnread(ctx, "lisa", "bob")
		assert.ErrorIs(t, err, ErrNotFound)

		base := time.Now().UTC()
		saveAt(t, s, "todd", "lisa", "older", base)
		newer := saveAt(t, s, "todd", "lisa", "newer", base.Add(time.Second))
		saveAt(t, s, "bob", "lisa", "excluded", base.Add(2*time.Second))

		got, err := s.LatestUnread(ctx, "lisa", "bob")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
	})
}

func TestDeleteMessageFor(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "bob", "lisa", "todd")

		msg := saveAt(t, s, "bob", "lisa", "bye", time.Now().UTC())

		_, err := s.DeleteMessageFor(ctx, msg.ID, "todd")
		assert.ErrorIs(t, err, ErrNotParticipant)

		hard, err := s.DeleteMessageFor(ctx, msg.ID, "bob")
		require.NoError(t, err)
		assert.False(t, hard)

		got, err := s.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.True(t, got.SenderDeleted)
		assert.False(t, got.RecipientDeleted)

		hard, err = s.DeleteMessageFor(ctx, msg.ID, "lisa")
		require.NoError(t, err)
		assert.True(t, hard, "removed once both sides deleted")

		_, err = s.GetMessage(ctx, msg.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.DeleteMessageFor(ctx, msg.ID, "lisa")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
