package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedSession(name string) *Session {
	return &Session{ID: name + "-id", username: name}
}

func TestRegistryRegisterAndList(t *testing.T) {
	r := NewRegistry()
	alice, bob, carol := namedSession("alice"), namedSession("bob"), namedSession("carol")

	require.NoError(t, r.Register(alice, 0))
	require.NoError(t, r.Register(bob, 0))
	require.NoError(t, r.Register(carol, 0))

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.List())
	assert.Equal(t, 3, r.Len())
	assert.True(t, alice.registered.Load())

	got, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Same(t, bob, got)

	_, ok = r.Lookup("dave")
	assert.False(t, ok)
}

func TestRegistryTakenBeforeFull(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(namedSession("alice"), 1))

	assert.ErrorIs(t, r.Register(namedSession("alice"), 1), ErrNameTaken)
	assert.ErrorIs(t, r.Register(namedSession("bob"), 1), ErrServerFull)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryUnregisterOnlyOwnEntry(t *testing.T) {
	r := NewRegistry()
	old := namedSession("bob")
	require.NoError(t, r.Register(old, 0))
	require.True(t, r.Unregister(old))

	replacement := namedSession("bob")
	require.NoError(t, r.Register(replacement, 0))

	// A stale session must not evict the new owner of the name
	assert.False(t, r.Unregister(old))
	got, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestRegistryUnregisterKeepsOrder(t *testing.T) {
	r := NewRegistry()
	sessions := make([]*Session, 0, 4)
	for _, name := range []string{"a", "b", "c", "d"} {
		sess := namedSession(name)
		sessions = append(sessions, sess)
		require.NoError(t, r.Register(sess, 0))
	}

	require.True(t, r.Unregister(sessions[1]))
	assert.Equal(t, []string{"a", "c", "d"}, r.List())

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Same(t, sessions[2], snapshot[1])
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(namedSession("a"), 0))
	require.NoError(t, r.Register(namedSession("b"), 0))

	cleared := r.Clear()
	assert.Len(t, cleared, 2)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.List())
	require.NoError(t, r.Register(namedSession("a"), 0))
}

func TestRegistryConcurrentSameName(t *testing.T) {
	r := NewRegistry()
	const attempts = 64

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Register(namedSession("alice"), 0) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryConcurrentCapacity(t *testing.T) {
	r := NewRegistry()
	const maxClients = 5

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(namedSession(fmt.Sprintf("user%d", i)), maxClients)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, maxClients, r.Len())
}
