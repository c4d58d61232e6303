// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns the connection, schema, migrations and the user profile table

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps PRAGMAs in effect and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			username    TEXT PRIMARY KEY,
			known_as    TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			last_active TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id                 TEXT PRIMARY KEY,
			sender_username    TEXT NOT NULL REFERENCES users(username),
			recipient_username TEXT NOT NULL REFERENCES users(username),
			content            TEXT NOT NULL,
			message_sent       TEXT NOT NULL,
			date_read          TEXT,
			sender_deleted     INTEGER NOT NULL DEFAULT 0,
			recipient_deleted  INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_messages_pair
			ON messages(sender_username, recipient_username, message_sent);

		CREATE INDEX IF NOT EXISTS idx_messages_recipient_unread
			ON messages(recipient_username, date_read);

		CREATE TABLE IF NOT EXISTS message_groups (
			name       TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS group_connections (
			connection_id TEXT PRIMARY KEY,
			group_name    TEXT NOT NULL REFERENCES message_groups(name) ON DELETE CASCADE,
			username      TEXT NOT NULL,
			joined_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_group_connections_group
			ON group_connections(group_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema changes for databases created by older versions
func (s *SQLiteStore) runMigrations() error {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('messages') WHERE name = 'client_message_id'`).Scan(&exists)
	if err != nil {
		if _, err := s.db.Exec(`ALTER TABLE messages ADD COLUMN client_message_id TEXT`); err != nil {
			return fmt.Errorf("adding client_message_id column to messages: %w", err)
		}
		s.logger.Info("applied migration", "column", "client_message_id", "table", "messages")
	}

	_, err = s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_id
			ON messages(sender_username, client_message_id)
			WHERE client_message_id IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("creating client message id index: %w", err)
	}

	return nil
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY constraint violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString converts empty strings to NULL for optional columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateUser inserts a new user profile.
// Returns ErrDuplicateUser if the username is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastActive.IsZero() {
		user.LastActive = user.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, known_as, created_at, last_active)
		VALUES (?, ?, ?, ?)
	`,
		user.Username,
		user.KnownAs,
		formatTime(user.CreatedAt),
		formatTime(user.LastActive),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "username", user.Username)
	return nil
}

// GetUser retrieves a user by username.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT username, known_as, created_at, last_active
		FROM users
		WHERE username = ?
	`, username)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// ListUsers returns every user ordered by username
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, known_as, created_at, last_active
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// TouchUser records activity for a user.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) TouchUser(ctx context.Context, username string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_active = ? WHERE username = ?`,
		formatTime(at), username,
	)
	if err != nil {
		return fmt.Errorf("updating last_active: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var createdAtStr, lastActiveStr string

	if err := row.Scan(&user.Username, &user.KnownAs, &createdAtStr, &lastActiveStr); err != nil {
		return nil, err
	}

	var err error
	user.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	user.LastActive, err = parseTime(lastActiveStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_active: %w", err)
	}
	return &user, nil
}
