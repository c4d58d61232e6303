// ABOUTME: Shared fakes and fixtures for hub tests
// ABOUTME: Recording connections, presence mirror and event publisher plus a seeded hub

package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/chathub/internal/dedupe"
	"github.com/2389/chathub/internal/protocol"
	"github.com/2389/chathub/internal/store"
)

type fakeConn struct {
	id       string
	identity string
	fail     error

	mu     sync.Mutex
	events []protocol.Event
}

func newConn(id, identity string) *fakeConn {
	return &fakeConn{id: id, identity: identity}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) Identity() string { return c.identity }

func (c *fakeConn) Send(ev protocol.Event) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

// eventsOf returns received events of one type in arrival order
func (c *fakeConn) eventsOf(typ string) []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// lastGroup returns the member usernames of the latest UpdatedGroup event
func (c *fakeConn) lastGroup(t *testing.T) []string {
	t.Helper()
	evs := c.eventsOf(protocol.TypeUpdatedGroup)
	require.NotEmpty(t, evs, "no UpdatedGroup received by %s", c.id)
	payload := evs[len(evs)-1].Payload.(protocol.UpdatedGroupPayload)
	var names []string
	for _, m := range payload.Group.Members {
		names = append(names, m.Username)
	}
	return names
}

type fakeMirror struct {
	mu     sync.Mutex
	calls  []string
	resets int
	err    error
}

func (m *fakeMirror) Online(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "online:"+identity)
	return m.err
}

func (m *fakeMirror) Offline(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "offline:"+identity)
	return m.err
}

func (m *fakeMirror) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	return nil
}

func (m *fakeMirror) Close() error { return nil }

func (m *fakeMirror) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type fakePublisher struct {
	mu     sync.Mutex
	groups []string
	ids    []string
	err    error
}

func (p *fakePublisher) MessageCreated(_ context.Context, msg *store.Message, group string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, msg.ID)
	p.groups = append(p.groups, group)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

type testHub struct {
	*Hub
	store     *store.MockStore
	mirror    *fakeMirror
	publisher *fakePublisher
	now       time.Time
}

// newTestHub builds a hub over a MockStore seeded with bob, lisa and todd
func newTestHub(t *testing.T) *testHub {
	t.Helper()

	ms := store.NewMockStore()
	for _, u := range []store.User{
		{Username: "bob", KnownAs: "Bob"},
		{Username: "lisa", KnownAs: "Lisa"},
		{Username: "todd", KnownAs: "Todd"},
	} {
		require.NoError(t, ms.CreateUser(context.Background(), &u))
	}

	th := &testHub{
		store:     ms,
		mirror:    &fakeMirror{},
		publisher: &fakePublisher{},
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	cache := dedupe.New(time.Minute, 100)
	th.Hub = New(Options{
		Store:     ms,
		Mirror:    th.mirror,
		Publisher: th.publisher,
		Dedupe:    cache,
		Now:       func() time.Time { return th.now },
	})
	t.Cleanup(func() { _ = th.Close() })
	return th
}

// join creates and joins a session, failing the test on error
func (th *testHub) join(t *testing.T, conn *fakeConn, counterpart string) *Session {
	t.Helper()
	s := th.NewSession(conn, counterpart)
	require.NoError(t, s.Join(context.Background()))
	return s
}

func send(t *testing.T, s *Session, content string) *store.Message {
	t.Helper()
	msg, err := s.SendMessage(context.Background(), protocol.SendMessageRequest{Content: content})
	require.NoError(t, err)
	return msg
}
