// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject persistence failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	users       map[string]*User       // keyed by username
	messages    map[string]*Message    // keyed by message ID
	order       []string               // message IDs in insertion order
	groups      map[string]time.Time   // group name -> created_at
	connections map[string]groupedConn // keyed by connection ID
	seq         int64                  // join order for connections
	failures    map[string]error       // keyed by method name
}

type groupedConn struct {
	group string
	conn  Connection
	seq   int64
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:       make(map[string]*User),
		messages:    make(map[string]*Message),
		groups:      make(map[string]time.Time),
		connections: make(map[string]groupedConn),
		failures:    make(map[string]error),
	}
}

// FailOn makes the named method (e.g. "SaveMessage") return err until
// cleared with a nil err.
func (m *MockStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *MockStore) failure(method string) error {
	return m.failures[method]
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateUser"); err != nil {
		return err
	}
	if _, ok := m.users[user.Username]; ok {
		return ErrDuplicateUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if user.LastActive.IsZero() {
		user.LastActive = user.CreatedAt
	}

	u := *user
	m.users[u.Username] = &u
	return nil
}

// GetUser retrieves a user by username.
func (m *MockStore) GetUser(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// ListUsers returns all users ordered by username.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// TouchUser updates a user's last activity time.
func (m *MockStore) TouchUser(ctx context.Context, username string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		return ErrNotFound
	}
	u.LastActive = at
	return nil
}

// GetOrCreateGroup returns the named group, creating it if needed.
func (m *MockStore) GetOrCreateGroup(ctx context.Context, name string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("GetOrCreateGroup"); err != nil {
		return nil, err
	}
	if _, ok := m.groups[name]; !ok {
		m.groups[name] = time.Now()
	}
	return m.groupLocked(name), nil
}

// GetGroup retrieves a group by name.
func (m *MockStore) GetGroup(ctx context.Context, name string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetGroup"); err != nil {
		return nil, err
	}
	if _, ok := m.groups[name]; !ok {
		return nil, ErrNotFound
	}
	return m.groupLocked(name), nil
}

// GetGroupForConnection retrieves the group a connection is enrolled in.
func (m *MockStore) GetGroupForConnection(ctx context.Context, connectionID string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gc, ok := m.connections[connectionID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.groupLocked(gc.group), nil
}

// AddConnection enrolls a connection in a group.
func (m *MockStore) AddConnection(ctx context.Context, groupName string, conn Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("AddConnection"); err != nil {
		return err
	}
	if _, ok := m.groups[groupName]; !ok {
		return ErrNotFound
	}
	if _, ok := m.connections[conn.ConnectionID]; ok {
		return ErrDuplicateConnection
	}
	m.seq++
	m.connections[conn.ConnectionID] = groupedConn{group: groupName, conn: conn, seq: m.seq}
	return nil
}

// RemoveConnection removes a connection and returns its former group.
func (m *MockStore) RemoveConnection(ctx context.Context, connectionID string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("RemoveConnection"); err != nil {
		return nil, err
	}
	gc, ok := m.connections[connectionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.connections, connectionID)
	return m.groupLocked(gc.group), nil
}

// ClearConnections drops all membership records.
func (m *MockStore) ClearConnections(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.connections))
	m.connections = make(map[string]groupedConn)
	return n, nil
}

// groupLocked builds a snapshot of a group. Caller must hold m.mu.
func (m *MockStore) groupLocked(name string) *Group {
	var members []groupedConn
	for _, gc := range m.connections {
		if gc.group == name {
			members = append(members, gc)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	group := &Group{Name: name, CreatedAt: m.groups[name]}
	for _, gc := range members {
		group.Connections = append(group.Connections, gc.conn)
	}
	return group
}

// SaveMessage stores a new message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("SaveMessage"); err != nil {
		return err
	}
	if _, ok := m.users[msg.SenderUsername]; !ok {
		return ErrNotFound
	}
	if _, ok := m.users[msg.RecipientUsername]; !ok {
		return ErrNotFound
	}
	if msg.ClientMessageID != "" {
		for _, existing := range m.messages {
			if existing.SenderUsername == msg.SenderUsername && existing.ClientMessageID == msg.ClientMessageID {
				return ErrDuplicateMessage
			}
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.MessageSent.IsZero() {
		msg.MessageSent = time.Now()
	}

	m.messages[msg.ID] = copyMessage(msg)
	m.order = append(m.order, msg.ID)
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// GetMessageThread returns the conversation between viewer and other, oldest first.
func (m *MockStore) GetMessageThread(ctx context.Context, viewer, other string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetMessageThread"); err != nil {
		return nil, err
	}
	return m.filterLocked(func(msg *Message) bool {
		return (msg.RecipientUsername == viewer && msg.SenderUsername == other && !msg.RecipientDeleted) ||
			(msg.SenderUsername == viewer && msg.RecipientUsername == other && !msg.SenderDeleted)
	}, false, 0), nil
}

// MarkThreadRead stamps unread messages from sender to recipient.
func (m *MockStore) MarkThreadRead(ctx context.Context, recipient, sender string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("MarkThreadRead"); err != nil {
		return 0, err
	}
	var n int64
	for _, msg := range m.messages {
		if msg.RecipientUsername == recipient && msg.SenderUsername == sender &&
			msg.DateRead == nil && !msg.RecipientDeleted {
			t := at
			msg.DateRead = &t
			n++
		}
	}
	return n, nil
}

// ListMessagesForUser lists a mailbox newest first.
func (m *MockStore) ListMessagesForUser(ctx context.Context, username string, container Container, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	return m.filterLocked(func(msg *Message) bool {
		switch container {
		case ContainerInbox:
			return msg.RecipientUsername == username && !msg.RecipientDeleted
		case ContainerOutbox:
			return msg.SenderUsername == username && !msg.SenderDeleted
		default:
			return msg.RecipientUsername == username && !msg.RecipientDeleted && msg.DateRead == nil
		}
	}, true, limit), nil
}

// LatestUnread returns the newest unread message for recipient not sent by excludeSender.
func (m *MockStore) LatestUnread(ctx context.Context, recipient, excludeSender string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := m.filterLocked(func(msg *Message) bool {
		return msg.RecipientUsername == recipient && msg.SenderUsername != excludeSender &&
			msg.DateRead == nil && !msg.RecipientDeleted
	}, true, 1)
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found[0], nil
}

// DeleteMessageFor soft deletes a message for one side, hard deleting once both sides have.
func (m *MockStore) DeleteMessageFor(ctx context.Context, id, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return false, ErrNotFound
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
	if msg.SenderDeleted && msg.RecipientDeleted {
		delete(m.messages, id)
		for i, oid := range m.order {
			if oid == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		return true, nil
	}
	return false, nil
}

// filterLocked returns copies of matching messages in send order, or
// newest first when desc is set. Caller must hold m.mu.
func (m *MockStore) filterLocked(match func(*Message) bool, desc bool, limit int) []*Message {
	var result []*Message
	for _, id := range m.order {
		if msg, ok := m.messages[id]; ok && match(msg) {
			result = append(result, copyMessage(msg))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].MessageSent.Before(result[j].MessageSent)
	})
	if desc {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Ping always succeeds unless a failure was injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure("Ping")
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func copyMessage(msg *Message) *Message {
	c := *msg
	if msg.DateRead != nil {
		t := *msg.DateRead
		c.DateRead = &t
	}
	return &c
}
