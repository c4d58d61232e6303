// ABOUTME: Tests for conversation group persistence
// ABOUTME: Runs against both SQLiteStore and MockStore so the two stay in step

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachStore runs fn once against a fresh SQLite store and once against a MockStore
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		s := newTestStore(t)
		defer s.Close()
		fn(t, s)
	})
	t.Run("mock", func(t *testing.T) {
		fn(t, NewMockStore())
	})
}

func TestGetOrCreateGroup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		g1, err := s.GetOrCreateGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		assert.Equal(t, "bob|lisa", g1.Name)
		assert.Empty(t, g1.Connections)

		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c1", Username: "bob"}))

		g2, err := s.GetOrCreateGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		require.Len(t, g2.Connections, 1, "existing group is returned, not recreated")
		assert.Equal(t, "c1", g2.Connections[0].ConnectionID)
	})
}

func TestGetOrCreateGroup_ConcurrentCreatorsConverge(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := s.GetOrCreateGroup(ctx, "bob|lisa"); err != nil {
					errs <- err
					return
				}
				errs <- s.AddConnection(ctx, "bob|lisa", Connection{
					ConnectionID: fmt.Sprintf("c%d", i),
					Username:     "bob",
				})
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		group, err := s.GetGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		assert.Len(t, group.Connections, 20, "every connection landed in the one group")
	})
}

func TestGetGroup_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetGroup(context.Background(), "nobody|none")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAddConnection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetOrCreateGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c1", Username: "lisa"}))
		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c2", Username: "bob"}))

		group, err := s.GetGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2"}, group.ConnectionIDs())
		assert.True(t, group.HasMember("bob"))
		assert.True(t, group.HasMember("lisa"))
		assert.False(t, group.HasMember("todd"))
	})
}

func TestAddConnection_AlreadyInGroup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetOrCreateGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		_, err = s.GetOrCreateGroup(ctx, "lisa|todd")
		require.NoError(t, err)

		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c1", Username: "lisa"}))
		err = s.AddConnection(ctx, "lisa|todd", Connection{ConnectionID: "c1", Username: "lisa"})
		assert.ErrorIs(t, err, ErrDuplicateConnection, "a connection belongs to exactly one group")
	})
}

func TestAddConnection_UnknownGroup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.AddConnection(context.Background(), "ghost|group", Connection{ConnectionID: "c1", Username: "bob"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRemoveConnection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetOrCreateGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c1", Username: "lisa"}))
		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c2", Username: "bob"}))

		group, err := s.RemoveConnection(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "bob|lisa", group.Name)
		assert.Equal(t, []string{"c2"}, group.ConnectionIDs())

		group, err = s.RemoveConnection(ctx, "c2")
		require.NoError(t, err)
		assert.Empty(t, group.Connections, "the emptied group is still returned")

		_, err = s.GetGroup(ctx, "bob|lisa")
		assert.NoError(t, err, "groups outlive their connections")
	})
}

func TestRemoveConnection_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.RemoveConnection(context.Background(), "never-joined")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetGroupForConnection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetOrCreateGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c1", Username: "lisa"}))

		group, err := s.GetGroupForConnection(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "bob|lisa", group.Name)

		_, err = s.GetGroupForConnection(ctx, "c2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClearConnections(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetOrCreateGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c1", Username: "lisa"}))
		require.NoError(t, s.AddConnection(ctx, "bob|lisa", Connection{ConnectionID: "c2", Username: "bob"}))

		n, err := s.ClearConnections(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		group, err := s.GetGroup(ctx, "bob|lisa")
		require.NoError(t, err)
		assert.Empty(t, group.Connections)
	})
}

func TestGroupHelpers_NilGroup(t *testing.T) {
	var g *Group
	assert.False(t, g.HasMember("bob"))
	assert.Nil(t, g.ConnectionIDs())
}
