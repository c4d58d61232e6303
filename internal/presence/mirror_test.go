// ABOUTME: Tests for presence mirrors
// ABOUTME: Uses an in-memory fake for the Redis commands and an optional live Redis

package presence

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements redisClient over an in-memory set map
type fakeRedis struct {
	mu     sync.Mutex
	sets   map[string]map[string]struct{}
	err    error
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: make(map[string]map[string]struct{})}
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	var added int64
	for _, m := range members {
		s := m.(string)
		if _, exists := set[s]; !exists {
			set[s] = struct{}{}
			added++
		}
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var removed int64
	for _, m := range members {
		s := m.(string)
		if _, exists := f.sets[key][s]; exists {
			delete(f.sets[key], s)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []string
	for m := range f.sets[key] {
		members = append(members, m)
	}
	return redis.NewStringSliceResult(members, f.err)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisMirror_OnlineOffline(t *testing.T) {
	fake := newFakeRedis()
	m := newRedisMirror(fake, "", nil)
	ctx := context.Background()

	require.NoError(t, m.Online(ctx, "lisa"))
	require.NoError(t, m.Online(ctx, "bob"))

	members, err := m.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "lisa"}, members)
	assert.Contains(t, fake.sets, DefaultRedisKey, "default key is used when none is configured")

	require.NoError(t, m.Offline(ctx, "lisa"))
	members, err = m.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)

	require.NoError(t, m.Reset(ctx))
	members, err = m.Members(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, m.Close())
	assert.True(t, fake.closed)
}

func TestRedisMirror_CustomKey(t *testing.T) {
	fake := newFakeRedis()
	m := newRedisMirror(fake, "test:online", nil)

	require.NoError(t, m.Online(context.Background(), "lisa"))
	assert.Contains(t, fake.sets, "test:online")
}

func TestRedisMirror_WrapsErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	m := newRedisMirror(fake, "k", nil)
	ctx := context.Background()

	err := m.Online(ctx, "lisa")
	require.Error(t, err)
	assert.ErrorIs(t, err, fake.err)
	assert.Contains(t, err.Error(), "lisa")

	assert.ErrorIs(t, m.Offline(ctx, "lisa"), fake.err)
	assert.ErrorIs(t, m.Reset(ctx), fake.err)

	_, err = m.Members(ctx)
	assert.ErrorIs(t, err, fake.err)
}

func TestNopMirror(t *testing.T) {
	var m Mirror = NopMirror{}
	ctx := context.Background()

	assert.NoError(t, m.Online(ctx, "lisa"))
	assert.NoError(t, m.Offline(ctx, "lisa"))
	assert.NoError(t, m.Reset(ctx))
	assert.NoError(t, m.Close())
}

// TestRedisMirror_Live runs against a real Redis when CHATHUB_TEST_REDIS_ADDR is set.
func TestRedisMirror_Live(t *testing.T) {
	addr := os.Getenv("CHATHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHATHUB_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	m, err := NewRedisMirror(ctx, RedisOptions{Addr: addr, Key: "chathub:test:online"}, nil)
	require.NoError(t, err)
	defer m.Close()
	defer m.Reset(ctx)

	require.NoError(t, m.Reset(ctx))
	require.NoError(t, m.Online(ctx, "lisa"))

	members, err := m.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lisa"}, members)
}

func TestNewRedisMirror_Unreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRedisMirror(ctx, RedisOptions{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
