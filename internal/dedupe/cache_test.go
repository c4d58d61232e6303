// ABOUTME: Tests for the idempotency cache that guards message sends
// ABOUTME: Validates pending and committed claims, waiting, TTL expiry, size eviction, sweeping and concurrency

package dedupe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newCache(ttl, maxSize, clock.Now), clock
}

// claim takes key and commits it at once.
func claim(t *testing.T, c *Cache, key string) {
	t.Helper()
	cl, state := c.Claim(key)
	if !assert.Equal(t, Owned, state, "claim %q", key) {
		return
	}
	cl.Commit()
}

func TestCache_ClaimOnce(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 100)

	cl, state := cache.Claim("k")
	assert.Equal(t, Owned, state, "first claim wins")
	assert.NotNil(t, cl)

	again, state := cache.Claim("k")
	assert.Equal(t, Pending, state, "unsettled claim is pending")
	assert.Nil(t, again)

	cl.Commit()
	_, state = cache.Claim("k")
	assert.Equal(t, Committed, state)
	assert.True(t, cache.Seen("k"))
	assert.False(t, cache.Seen("other"))
}

func TestCache_Release(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 100)

	cl, _ := cache.Claim("k")
	assert.True(t, cache.Seen("k"), "pending claims are seen")
	cl.Release()
	assert.False(t, cache.Seen("k"))

	cl2, state := cache.Claim("k")
	assert.Equal(t, Owned, state, "released key can be claimed again")

	cl.Release()
	assert.True(t, cache.Seen("k"), "stale handle does not drop the new claim")
	cl2.Commit()
	cl2.Release()
	assert.True(t, cache.Seen("k"), "release after commit is ignored")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_PendingNeverExpires(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 100)

	cl, _ := cache.Claim("k")
	clock.Advance(time.Hour)
	cache.sweep()

	_, state := cache.Claim("k")
	assert.Equal(t, Pending, state)

	cl.Commit()
	clock.Advance(59 * time.Second)
	_, state = cache.Claim("k")
	assert.Equal(t, Committed, state, "ttl runs from the commit")
}

func TestCache_Expiry(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 100)

	claim(t, cache, "k")
	clock.Advance(59 * time.Second)
	_, state := cache.Claim("k")
	assert.Equal(t, Committed, state, "still inside the window")

	clock.Advance(2 * time.Second)
	assert.False(t, cache.Seen("k"))
	_, state = cache.Claim("k")
	assert.Equal(t, Owned, state, "expired claim can be reclaimed")
}

func TestCache_EvictsOldestCommittedAtCapacity(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 3)

	pending, _ := cache.Claim("p")
	claim(t, cache, "a")
	claim(t, cache, "b")
	claim(t, cache, "c")

	assert.Equal(t, 3, cache.Len())
	assert.True(t, cache.Seen("p"), "pending claim is never evicted")
	assert.False(t, cache.Seen("a"), "oldest committed claim evicted")
	assert.True(t, cache.Seen("b"))
	assert.True(t, cache.Seen("c"))
	pending.Release()
}

func TestCache_Sweep(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 100)

	claim(t, cache, "old-1")
	claim(t, cache, "old-2")
	inflight, _ := cache.Claim("inflight")
	clock.Advance(30 * time.Second)
	claim(t, cache, "fresh")
	clock.Advance(45 * time.Second)

	cache.sweep()
	assert.Equal(t, 2, cache.Len())
	assert.True(t, cache.Seen("fresh"))
	assert.True(t, cache.Seen("inflight"))
	inflight.Release()
}

func TestCache_WaitReturnsWhenSettled(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 100)

	assert.NoError(t, cache.Wait(context.Background(), "absent"))

	cl, _ := cache.Claim("k")
	waited := make(chan error, 1)
	go func() { waited <- cache.Wait(context.Background(), "k") }()

	select {
	case <-waited:
		t.Fatal("Wait returned while the claim was pending")
	case <-time.After(20 * time.Millisecond):
	}

	cl.Release()
	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after release")
	}
}

func TestCache_WaitHonoursContext(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 100)

	cl, _ := cache.Claim("k")
	defer cl.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cache.Wait(ctx, "k"), context.DeadlineExceeded)
}

func TestCache_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 1000)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, state := cache.Claim("same"); state == Owned {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCache_ConcurrentDistinctKeys(t *testing.T) {
	cache := New(time.Minute, 10000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			cl, state := cache.Claim(key)
			if assert.Equal(t, Owned, state) {
				cl.Commit()
			}
			assert.True(t, cache.Seen(key))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, cache.Len())
}

func TestKey(t *testing.T) {
	assert.NotEqual(t, Key("bob", "1"), Key("lisa", "1"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"), "sender and id cannot run together")
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}
