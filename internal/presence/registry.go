// ABOUTME: In-memory presence registry mapping identities to their live connections
// ABOUTME: A user is online while at least one connection id is registered under them

package presence

import (
	"log/slog"
	"slices"
	"sync"
)

// Registry tracks which identities have live connections. It is safe for
// concurrent use. An identity with no connections has no entry at all.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[string]struct{} // identity -> set of connection ids
	owners map[string]string              // connection id -> identity
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]map[string]struct{}),
		owners: make(map[string]string),
		logger: logger.With("component", "presence"),
	}
}

// Add registers connectionID under identity and reports whether it is the
// identity's first live connection. Adding a registered pair again is a
// no-op returning false. A connection id registered under a different
// identity is moved.
func (r *Registry) Add(identity, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[connectionID]; ok {
		if prev == identity {
			return false
		}
		r.removeLocked(prev, connectionID)
	}

	set, ok := r.conns[identity]
	if !ok {
		set = make(map[string]struct{})
		r.conns[identity] = set
	}
	set[connectionID] = struct{}{}
	r.owners[connectionID] = identity

	r.logger.Debug("connection registered",
		"username", identity,
		"connection_id", connectionID,
		"connections", len(set))

	return len(set) == 1
}

// Remove unregisters connectionID from identity and reports whether that
// was the identity's last live connection. Unknown pairs are ignored.
func (r *Registry) Remove(identity, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners[connectionID] != identity {
		return false
	}
	last := r.removeLocked(identity, connectionID)

	r.logger.Debug("connection unregistered",
		"username", identity,
		"connection_id", connectionID,
		"offline", last)

	return last
}

// removeLocked drops one pair and cleans up an emptied identity. Caller must hold r.mu.
func (r *Registry) removeLocked(identity, connectionID string) bool {
	delete(r.owners, connectionID)

	set, ok := r.conns[identity]
	if !ok {
		return false
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.conns, identity)
		return true
	}
	return false
}

// ConnectionsFor returns a sorted snapshot of identity's connection ids.
// It returns nil when the identity is offline.
func (r *Registry) ConnectionsFor(identity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.conns[identity]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IdentityFor returns the identity a connection is registered under.
func (r *Registry) IdentityFor(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.owners[connectionID]
	return identity, ok
}

// IsOnline reports whether identity has any live connection.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[identity]
	return ok
}

// OnlineIdentities returns every online identity, sorted.
func (r *Registry) OnlineIdentities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identities := make([]string, 0, len(r.conns))
	for identity := range r.conns {
		identities = append(identities, identity)
	}
	slices.Sort(identities)
	return identities
}

// Count returns the total number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.owners)
}
