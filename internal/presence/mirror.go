// ABOUTME: Outward mirrors of the presence registry for out-of-process readers
// ABOUTME: RedisMirror keeps a Redis set of online identities using go-redis

package presence

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the Redis set holding online identities.
const DefaultRedisKey = "chathub:presence:online"

// Mirror receives online/offline transitions from the registry owner.
// Mirrors are write-only from the gateway's point of view; the in-memory
// Registry stays the source of truth.
type Mirror interface {
	Online(ctx context.Context, identity string) error
	Offline(ctx context.Context, identity string) error
	// Reset clears mirrored state, used at startup before any connection exists.
	Reset(ctx context.Context) error
	Close() error
}

// NopMirror discards every transition.
type NopMirror struct{}

func (NopMirror) Online(context.Context, string) error { return nil }
func (NopMirror) Offline(context.Context, string) error { return nil }
func (NopMirror) Reset(context.Context) error { return nil }
func (NopMirror) Close() error { return nil }

// redisClient is the subset of *redis.Client the mirror uses
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisOptions configures a RedisMirror
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisMirror mirrors online identities into a Redis set so dashboards and
// other processes can read presence without talking to the gateway.
type RedisMirror struct {
	client redisClient
	key    string
	logger *slog.Logger
}

// NewRedisMirror connects to Redis and verifies the connection with PING.
func NewRedisMirror(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return newRedisMirror(client, opts.Key, logger), nil
}

func newRedisMirror(client redisClient, key string, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisMirror{
		client: client,
		key:    key,
		logger: logger.With("component", "presence-mirror"),
	}
}

// Online adds identity to the online set.
func (m *RedisMirror) Online(ctx context.Context, identity string) error {
	if err := m.client.SAdd(ctx, m.key, identity).Err(); err != nil {
		return fmt.Errorf("adding %s to %s: %w", identity, m.key, err)
	}
	m.logger.Debug("mirrored online", "username", identity)
	return nil
}

// Offline removes identity from the online set.
func (m *RedisMirror) Offline(ctx context.Context, identity string) error {
	if err := m.client.SRem(ctx, m.key, identity).Err(); err != nil {
		return fmt.Errorf("removing %s from %s: %w", identity, m.key, err)
	}
	m.logger.Debug("mirrored offline", "username", identity)
	return nil
}

// Reset deletes the online set.
func (m *RedisMirror) Reset(ctx context.Context) error {
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("resetting %s: %w", m.key, err)
	}
	return nil
}

// Members returns the mirrored online identities, sorted.
func (m *RedisMirror) Members(ctx context.Context) ([]string, error) {
	members, err := m.client.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.key, err)
	}
	slices.Sort(members)
	return members, nil
}

// Close closes the Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
