// ABOUTME: SQLite implementation of MessageStore for direct messages
// ABOUTME: Handles threads, read receipts, mailbox listings and two-sided deletion

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const messageColumns = `id, sender_username, recipient_username, content, client_message_id,
	message_sent, date_read, sender_deleted, recipient_deleted`

// SaveMessage persists a new message. An empty ID is filled in.
// Returns ErrDuplicateMessage if the sender already used ClientMessageID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.MessageSent.IsZero() {
		msg.MessageSent = time.Now()
	}

	var dateRead any
	if msg.DateRead != nil {
		dateRead = formatTime(*msg.DateRead)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SenderUsername,
		msg.RecipientUsername,
		msg.Content,
		nullString(msg.ClientMessageID),
		formatTime(msg.MessageSent),
		dateRead,
		msg.SenderDeleted,
		msg.RecipientDeleted,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMessage
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("inserting message: unknown user: %w", ErrNotFound)
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"sender", msg.SenderUsername,
		"recipient", msg.RecipientUsername,
		"read", msg.DateRead != nil,
	)
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// GetMessageThread returns the conversation between viewer and other in
// send order. Messages viewer deleted on their side are left out.
func (s *SQLiteStore) GetMessageThread(ctx context.Context, viewer, other string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (recipient_username = ? AND sender_username = ? AND recipient_deleted = 0)
		   OR (sender_username = ? AND recipient_username = ? AND sender_deleted = 0)
		ORDER BY message_sent ASC, rowid ASC
	`, viewer, other, viewer, other)
	if err != nil {
		return nil, fmt.Errorf("querying message thread: %w", err)
	}
	return collectMessages(rows)
}

// MarkThreadRead stamps at on every unread message sender sent to recipient
// and reports how many were updated. Already-read messages keep their stamp.
func (s *SQLiteStore) MarkThreadRead(ctx context.Context, recipient, sender string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET date_read = ?
		WHERE recipient_username = ? AND sender_username = ?
		  AND date_read IS NULL AND recipient_deleted = 0
	`, formatTime(at), recipient, sender)
	if err != nil {
		return 0, fmt.Errorf("marking thread read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// ListMessagesForUser lists a mailbox newest first.
// If limit is 0 or negative, a default limit of 50 is used.
func (s *SQLiteStore) ListMessagesForUser(ctx context.Context, username string, container Container, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	var where string
	switch container {
	case ContainerInbox:
		where = `recipient_username = ? AND recipient_deleted = 0`
	case ContainerOutbox:
		where = `sender_username = ? AND sender_deleted = 0`
	default:
		where = `recipient_username = ? AND recipient_deleted = 0 AND date_read IS NULL`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+where+`
		ORDER BY message_sent DESC, rowid DESC
		LIMIT ?
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return collectMessages(rows)
}

// LatestUnread returns the newest unread message for recipient from anyone
// other than excludeSender. Returns ErrNotFound if there is none.
func (s *SQLiteStore) LatestUnread(ctx context.Context, recipient, excludeSender string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE recipient_username = ? AND sender_username != ?
		  AND date_read IS NULL AND recipient_deleted = 0
		ORDER BY message_sent DESC, rowid DESC
		LIMIT 1
	`, recipient, excludeSender)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest unread: %w", err)
	}
	return msg, nil
}

// DeleteMessageFor marks the message deleted on username's side. Once both
// sides have deleted it the row is removed and hardDeleted is true.
// Returns ErrNotFound for unknown ids and ErrNotParticipant when username
// neither sent nor received the message.
func (s *SQLiteStore) DeleteMessageFor(ctx context.Context, id, username string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	msg, err := scanMessage(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying message: %w", err)
	}

	if msg.SenderUsername != username && msg.RecipientUsername != username {
		return false, ErrNotParticipant
	}
	if msg.SenderUsername == username {
		msg.SenderDeleted = true
	}
	if msg.RecipientUsername == username {
		msg.RecipientDeleted = true
	}

	hardDeleted := msg.SenderDeleted && msg.RecipientDeleted
	if hardDeleted {
		_, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET sender_deleted = ?, recipient_deleted = ? WHERE id = ?`,
			msg.SenderDeleted, msg.RecipientDeleted, id)
	}
	if err != nil {
		return false, fmt.Errorf("deleting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("deleted message", "id", id, "username", username, "hard", hardDeleted)
	return hardDeleted, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var clientID, dateRead sql.NullString
	var sentStr string

	if err := row.Scan(
		&msg.ID,
		&msg.SenderUsername,
		&msg.RecipientUsername,
		&msg.Content,
		&clientID,
		&sentStr,
		&dateRead,
		&msg.SenderDeleted,
		&msg.RecipientDeleted,
	); err != nil {
		return nil, err
	}

	msg.ClientMessageID = clientID.String

	var err error
	msg.MessageSent, err = parseTime(sentStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message_sent: %w", err)
	}
	if dateRead.Valid {
		t, err := parseTime(dateRead.String)
		if err != nil {
			return nil, fmt.Errorf("parsing date_read: %w", err)
		}
		msg.DateRead = &t
	}
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
