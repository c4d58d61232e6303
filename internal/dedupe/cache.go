// ABOUTME: Thread-safe TTL cache that claims client message ids for idempotent sends
// ABOUTME: Claims stay pending until the guarded send commits or releases them

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// State is the outcome of a claim attempt.
type State int

const (
	// Owned means the caller holds the new claim and must settle it.
	Owned State = iota
	// Pending means another send holds the key and has not settled yet.
	Pending
	// Committed means a send with this key was already persisted.
	Committed
)

func (s State) String() string {
	switch s {
	case Owned:
		return "owned"
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

// cacheEntry stores the claim state and list element for a key.
type cacheEntry struct {
	key       string
	committed bool
	at        time.Time     // commit time; TTL only runs once committed
	settled   chan struct{} // closed on commit or release
	element   *list.Element
}

// Cache is a TTL-bounded, size-limited set of claimed keys. Pending claims
// never expire and are never evicted. Committed claims expire after the TTL
// and the oldest is evicted when the cache is full.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*cacheEntry
	order   *list.List // entries, oldest commit at front among committed ones
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Claim is an owned key. Exactly one of Commit or Release should be called.
type Claim struct {
	cache *Cache
	entry *cacheEntry
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine sweeps expired entries until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop()
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		claims:  make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Key builds the claim key for a sender's client message id.
func Key(sender, clientMessageID string) string {
	return sender + "\x00" + clientMessageID
}

// Claim tries to take key. The returned *Claim is non-nil only when the
// state is Owned.
func (c *Cache) Claim(key string) (*Claim, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.claims[key]; ok {
		switch {
		case !entry.committed:
			return nil, Pending
		case c.live(entry):
			return nil, Committed
		}
		c.removeLocked(entry)
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, settled: make(chan struct{})}
	entry.element = c.order.PushBack(entry)
	c.claims[key] = entry
	return &Claim{cache: c, entry: entry}, Owned
}

// Wait blocks until key is no longer pending or ctx is done.
func (c *Cache) Wait(ctx context.Context, key string) error {
	c.mu.Lock()
	entry, ok := c.claims[key]
	c.mu.Unlock()
	if !ok || entry.committed {
		return nil
	}

	select {
	case <-entry.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commit marks the claim persisted. Later claims report Committed until the
// TTL runs out.
func (cl *Claim) Commit() {
	c := cl.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cl.entry
	if e.committed || c.claims[e.key] != e {
		return
	}
	e.committed = true
	e.at = c.now()
	c.order.MoveToBack(e.element)
	close(e.settled)
}

// Release drops the claim so the key can be claimed again.
func (cl *Claim) Release() {
	c := cl.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cl.entry
	if e.committed || c.claims[e.key] != e {
		return
	}
	c.removeLocked(e)
	close(e.settled)
}

// Seen reports whether key holds a pending or live committed claim.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.claims[key]
	return ok && (!entry.committed || c.live(entry))
}

// Len returns the number of stored claims, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// live reports whether a committed entry is inside the TTL. Must be called
// with mu held.
func (c *Cache) live(e *cacheEntry) bool {
	return c.now().Sub(e.at) < c.ttl
}

func (c *Cache) removeLocked(e *cacheEntry) {
	c.order.Remove(e.element)
	delete(c.claims, e.key)
}

// evictOldest removes the oldest committed claim. Must be called with mu held.
func (c *Cache) evictOldest() {
	for el := c.order.Front(); el != nil; el = el.Next() {
		e, _ := el.Value.(*cacheEntry)
		if e.committed {
			c.removeLocked(e)
			return
		}
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired claims. Committed claims are ordered by commit time
// so it stops at the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e, _ := el.Value.(*cacheEntry)
		if e.committed {
			if c.live(e) {
				return
			}
			c.removeLocked(e)
		}
		el = next
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
