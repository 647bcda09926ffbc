package relay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata(name string) Metadata {
	return Metadata{Name: name, Genre: "Custom", CreatedAt: time.Now()}
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()

	b, err := r.Create("st1", testMetadata("Station One"))
	require.NoError(t, err)
	assert.Equal(t, "st1", b.ID())
	assert.Equal(t, "Station One", b.Metadata().Name)

	got, ok := r.Get("st1")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Get("absent")
	assert.False(t, ok)
}

func TestRegistryDuplicateCreate(t *testing.T) {
	r := NewRegistry()

	first, err := r.Create("st1", testMetadata("first"))
	require.NoError(t, err)

	_, err = r.Create("st1", testMetadata("second"))
	assert.ErrorIs(t, err, ErrAlreadyLive)

	// The first broadcast is unaffected by the failed create.
	got, ok := r.Get("st1")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, "first", got.Metadata().Name)
}

func TestRegistryConcurrentCreateSingleWinner(t *testing.T) {
	r := NewRegistry()

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Create("st1", testMetadata(fmt.Sprintf("racer-%d", i))); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
}

func TestRegistryListenerMembership(t *testing.T) {
	r := NewRegistry()

	b, err := r.Create("st1", testMetadata("station"))
	require.NoError(t, err)

	s1 := NewSink(1)
	s2 := NewSink(1)

	require.NoError(t, r.AddListener("st1", s1))
	require.NoError(t, r.AddListener("st1", s2))
	assert.Equal(t, 2, b.ListenerCount())

	r.RemoveListener("st1", s1)
	assert.Equal(t, 1, b.ListenerCount())

	// Removing again, or removing from an unknown id, is a no-op.
	r.RemoveListener("st1", s1)
	r.RemoveListener("absent", s1)
	assert.Equal(t, 1, b.ListenerCount())

	assert.ErrorIs(t, r.AddListener("absent", NewSink(1)), ErrNotFound)
}

func TestRegistryDestroyReturnsListeners(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("st1", testMetadata("station"))
	require.NoError(t, err)

	s1 := NewSink(1)
	s2 := NewSink(1)
	require.NoError(t, r.AddListener("st1", s1))
	require.NoError(t, r.AddListener("st1", s2))

	sinks, ok := r.Destroy("st1")
	require.True(t, ok)
	assert.Len(t, sinks, 2)

	_, ok = r.Get("st1")
	assert.False(t, ok)

	// The id is immediately free for a fresh broadcast.
	_, err = r.Create("st1", testMetadata("again"))
	assert.NoError(t, err)
}

func TestRegistryDestroyAbsent(t *testing.T) {
	r := NewRegistry()

	sinks, ok := r.Destroy("absent")
	assert.False(t, ok)
	assert.Empty(t, sinks)
}

func TestRegistryDestroyEntryIgnoresSuccessor(t *testing.T) {
	r := NewRegistry()

	old, err := r.Create("st1", testMetadata("old"))
	require.NoError(t, err)

	_, ok := r.Destroy("st1")
	require.True(t, ok)

	// A new broadcast reuses the id; a stale teardown of the old entry
	// must not touch it.
	fresh, err := r.Create("st1", testMetadata("fresh"))
	require.NoError(t, err)

	sinks, ok := r.DestroyEntry(old)
	assert.False(t, ok)
	assert.Empty(t, sinks)

	got, stillLive := r.Get("st1")
	require.True(t, stillLive)
	assert.Same(t, fresh, got)
}

func TestRegistryNoResurrectionAfterDestroy(t *testing.T) {
	r := NewRegistry()

	b, err := r.Create("st1", testMetadata("station"))
	require.NoError(t, err)

	s := NewSink(1)
	require.NoError(t, r.AddListener("st1", s))

	_, ok := r.Destroy("st1")
	require.True(t, ok)

	// A remove racing after destroy must not panic or resurrect the entry.
	r.RemoveListener("st1", s)

	// Adding against the dead entry handle fails even while a new entry
	// with the same id does not exist yet.
	assert.ErrorIs(t, r.AddListener("st1", NewSink(1)), ErrNotFound)

	select {
	case <-b.Done():
	default:
		t.Fatal("expected done channel to be closed after destroy")
	}
}
