// ABOUTME: Tests for the presence registry
// ABOUTME: Covers multi-device presence, transitions, snapshots and concurrent use

package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddRemoveTransitions(t *testing.T) {
	r := NewRegistry(nil)

	assert.True(t, r.Add("lisa", "phone"), "first connection brings lisa online")
	assert.False(t, r.Add("lisa", "laptop"), "second device is not a transition")
	assert.False(t, r.Add("lisa", "laptop"), "re-adding is a no-op")

	assert.Equal(t, []string{"laptop", "phone"}, r.ConnectionsFor("lisa"))
	assert.True(t, r.IsOnline("lisa"))
	assert.Equal(t, 2, r.Count())

	assert.False(t, r.Remove("lisa", "phone"), "laptop still connected")
	assert.True(t, r.IsOnline("lisa"))

	assert.True(t, r.Remove("lisa", "laptop"), "last connection takes lisa offline")
	assert.False(t, r.IsOnline("lisa"))
	assert.Empty(t, r.ConnectionsFor("lisa"))
	assert.Empty(t, r.OnlineIdentities())
	assert.Zero(t, r.Count())
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry(nil)

	assert.False(t, r.Remove("ghost", "c1"))

	r.Add("lisa", "c1")
	assert.False(t, r.Remove("bob", "c1"), "pair must match")
	assert.False(t, r.Remove("lisa", "c2"))
	assert.Equal(t, []string{"c1"}, r.ConnectionsFor("lisa"))
}

func TestRegistry_ConnectionBelongsToOneIdentity(t *testing.T) {
	r := NewRegistry(nil)

	r.Add("lisa", "c1")
	assert.True(t, r.Add("bob", "c1"), "moving the id makes it bob's first connection")

	assert.False(t, r.IsOnline("lisa"), "lisa's only connection moved away")
	assert.Equal(t, []string{"c1"}, r.ConnectionsFor("bob"))

	identity, ok := r.IdentityFor("c1")
	require.True(t, ok)
	assert.Equal(t, "bob", identity)
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("lisa", "c1")

	snapshot := r.ConnectionsFor("lisa")
	r.Add("lisa", "c2")
	r.Remove("lisa", "c1")

	assert.Equal(t, []string{"c1"}, snapshot)
	assert.Equal(t, []string{"c2"}, r.ConnectionsFor("lisa"))
}

func TestRegistry_OnlineIdentitiesSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("todd", "c1")
	r.Add("bob", "c2")
	r.Add("lisa", "c3")
	r.Add("bob", "c4")

	assert.Equal(t, []string{"bob", "lisa", "todd"}, r.OnlineIdentities())
}

func TestRegistry_ConcurrentLifecycles(t *testing.T) {
	r := NewRegistry(nil)
	identities := []string{"bob", "lisa", "todd"}

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := identities[i%len(identities)]
			connID := fmt.Sprintf("conn-%d", i)
			r.Add(identity, connID)
			_ = r.ConnectionsFor(identity)
			_ = r.OnlineIdentities()
			r.Remove(identity, connID)
		}(i)
	}
	wg.Wait()

	for _, identity := range identities {
		assert.Empty(t, r.ConnectionsFor(identity), "no leaked connections for %s", identity)
	}
	assert.Zero(t, r.Count())
}

// The registry must agree with a trivially correct model after any sequence
// of adds and removes.
func TestRegistry_MatchesModel(t *testing.T) {
	r := NewRegistry(nil)
	model := map[string]string{} // conn -> identity
	rng := rand.New(rand.NewSource(42))
	identities := []string{"a", "b", "c"}

	for step := 0; step < 2000; step++ {
		identity := identities[rng.Intn(len(identities))]
		connID := fmt.Sprintf("c%d", rng.Intn(10))
		if rng.Intn(2) == 0 {
			r.Add(identity, connID)
			model[connID] = identity
		} else {
			r.Remove(identity, connID)
			if model[connID] == identity {
				delete(model, connID)
			}
		}

		for _, id := range identities {
			var want []string
			for c, owner := range model {
				if owner == id {
					want = append(want, c)
				}
			}
			got := r.ConnectionsFor(id)
			assert.ElementsMatch(t, want, got, "step %d identity %s", step, id)
			assert.Equal(t, len(want) > 0, r.IsOnline(id))
		}
	}
}
