// ABOUTME: Fan-out of hub events to live connections by id, by identity or to everyone
// ABOUTME: A failing connection is logged and skipped so other deliveries are never blocked

package notify

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/protocol"
)

// ErrSendBufferFull is returned by Conn implementations whose outbound queue is full
var ErrSendBufferFull = errors.New("send buffer full")

// ErrConnClosed is returned by Conn implementations that are no longer writable
var ErrConnClosed = errors.New("connection closed")

// Conn is one live transport connection. Send must not block on a slow peer.
type Conn interface {
	ID() string
	Identity() string
	Send(ev protocol.Event) error
}

// Dispatcher is the directory of live connections and delivers events to
// them. It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	conns    map[string]Conn // connection id -> transport
	registry *presence.Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher that resolves identities through registry.
// Pass nil logger for default.
func NewDispatcher(registry *presence.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		conns:    make(map[string]Conn),
		registry: registry,
		logger:   logger.With("component", "notify"),
	}
}

// Attach makes conn reachable by its id.
func (d *Dispatcher) Attach(conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[conn.ID()] = conn
}

// Detach removes a connection. Unknown ids are ignored.
func (d *Dispatcher) Detach(connectionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, connectionID)
}

// Len returns the number of attached connections.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}

// Notify delivers ev to every live connection of identity and returns how
// many accepted it. An offline identity is not an error.
func (d *Dispatcher) Notify(identity string, ev protocol.Event) int {
	ids := d.registry.ConnectionsFor(identity)
	if len(ids) == 0 {
		return 0
	}
	return d.SendTo(ids, ev)
}

// SendTo delivers ev to the given connections and returns how many
// accepted it. Ids without an attached connection are skipped.
func (d *Dispatcher) SendTo(connectionIDs []string, ev protocol.Event) int {
	d.mu.RLock()
	targets := make([]Conn, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if conn, ok := d.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	d.mu.RUnlock()

	return d.deliver(targets, ev)
}

// Broadcast delivers ev to every attached connection except those owned by
// exceptIdentity, and returns how many accepted it.
func (d *Dispatcher) Broadcast(ev protocol.Event, exceptIdentity string) int {
	d.mu.RLock()
	targets := make([]Conn, 0, len(d.conns))
	for _, conn := range d.conns {
		if exceptIdentity != "" && conn.Identity() == exceptIdentity {
			continue
		}
		targets = append(targets, conn)
	}
	d.mu.RUnlock()

	return d.deliver(targets, ev)
}

func (d *Dispatcher) deliver(targets []Conn, ev protocol.Event) int {
	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(ev); err != nil {
			d.logger.Warn("dropped event for connection",
				"event", ev.Type,
				"connection_id", conn.ID(),
				"username", conn.Identity(),
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}
