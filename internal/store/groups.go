// ABOUTME: SQLite implementation of GroupStore for conversation groups
// ABOUTME: Tracks which live connections are enrolled in which two-party group

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetOrCreateGroup returns the named group, creating an empty one if it
// doesn't exist yet. INSERT OR IGNORE makes concurrent creators converge.
func (s *SQLiteStore) GetOrCreateGroup(ctx context.Context, name string) (*Group, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_groups (name, created_at) VALUES (?, ?)`,
		name, formatTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting group: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		s.logger.Debug("created group", "group", name)
	}

	return s.GetGroup(ctx, name)
}

// GetGroup retrieves a group with its current connections.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) GetGroup(ctx context.Context, name string) (*Group, error) {
	return loadGroup(ctx, s.db, name)
}

// GetGroupForConnection retrieves the group the connection is enrolled in.
// Returns ErrNotFound if the connection is not in any group.
func (s *SQLiteStore) GetGroupForConnection(ctx context.Context, connectionID string) (*Group, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT group_name FROM group_connections WHERE connection_id = ?`,
		connectionID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection group: %w", err)
	}

	return s.GetGroup(ctx, name)
}

// AddConnection enrolls a connection in a group.
// Returns ErrNotFound if the group doesn't exist and ErrDuplicateConnection
// if the connection already belongs to a group.
func (s *SQLiteStore) AddConnection(ctx context.Context, groupName string, conn Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_connections (connection_id, group_name, username, joined_at)
		VALUES (?, ?, ?, ?)
	`, conn.ConnectionID, groupName, conn.Username, formatTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConnection
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting group connection: %w", err)
	}

	s.logger.Debug("added connection to group",
		"group", groupName,
		"connection_id", conn.ConnectionID,
		"username", conn.Username,
	)
	return nil
}

// RemoveConnection removes a connection from whichever group owns it and
// returns that group as it stands afterwards.
// Returns ErrNotFound if no group owns the connection.
func (s *SQLiteStore) RemoveConnection(ctx context.Context, connectionID string) (*Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var name string
	err = tx.QueryRowContext(ctx,
		`SELECT group_name FROM group_connections WHERE connection_id = ?`,
		connectionID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection group: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM group_connections WHERE connection_id = ?`, connectionID,
	); err != nil {
		return nil, fmt.Errorf("deleting group connection: %w", err)
	}

	group, err := loadGroup(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("removed connection from group", "group", name, "connection_id", connectionID)
	return group, nil
}

// ClearConnections removes every membership record. Live connections do
// not survive a restart, so the server calls this on startup.
func (s *SQLiteStore) ClearConnections(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM group_connections`)
	if err != nil {
		return 0, fmt.Errorf("clearing group connections: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

func loadGroup(ctx context.Context, q querier, name string) (*Group, error) {
	var createdAtStr string
	err := q.QueryRowContext(ctx,
		`SELECT created_at FROM message_groups WHERE name = ?`, name,
	).Scan(&createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}

	group := &Group{Name: name}
	group.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT connection_id, username
		FROM group_connections
		WHERE group_name = ?
		ORDER BY joined_at, connection_id
	`, name)
	if err != nil {
		return nil, fmt.Errorf("querying group connections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ConnectionID, &c.Username); err != nil {
			return nil, fmt.Errorf("scanning group connection row: %w", err)
		}
		group.Connections = append(group.Connections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group connection rows: %w", err)
	}

	return group, nil
}
