package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrAlreadyLive = errors.New("broadcast already active for this station ID")
	ErrNotFound    = errors.New("broadcast not found")
)

// Metadata is the immutable description captured when a broadcast starts. A
// broadcaster wanting different metadata stops and starts a new broadcast.
type Metadata struct {
	Name        string
	Genre       string
	Description string
	CreatedAt   time.Time
}

// Broadcast is one live entry in the registry. Listener membership is only
// ever changed through the Registry so that fan-out, connects, disconnects
// and teardown stay consistent under concurrency.
type Broadcast struct {
	id   string
	meta Metadata

	mu        sync.Mutex
	listeners map[*Sink]struct{}
	dead      bool

	done         chan struct{}
	lastActivity atomic.Int64 // unix nanos of the most recent ingested chunk
}

func (b *Broadcast) ID() string         { return b.id }
func (b *Broadcast) Metadata() Metadata { return b.meta }

// Done is closed when the broadcast is destroyed.
func (b *Broadcast) Done() <-chan struct{} { return b.done }

func (b *Broadcast) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// snapshot returns the membership at a point in time so fan-out can iterate
// without holding the lock while writing to sinks.
func (b *Broadcast) snapshot() []*Sink {
	b.mu.Lock()
	defer b.mu.Unlock()

	sinks := make([]*Sink, 0, len(b.listeners))
	for s := range b.listeners {
		sinks = append(sinks, s)
	}
	return sinks
}

func (b *Broadcast) touch() {
	b.lastActivity.Store(time.Now().UnixNano())
}

func (b *Broadcast) idleSince() time.Time {
	return time.Unix(0, b.lastActivity.Load())
}

// Registry is the process-wide directory of live broadcasts. The directory
// map has its own lock; listener membership is guarded per entry, so
// listener churn on one station never contends with another station.
type Registry struct {
	mu         sync.RWMutex
	broadcasts map[string]*Broadcast
}

func NewRegistry() *Registry {
	return &Registry{
		broadcasts: make(map[string]*Broadcast),
	}
}

// Create atomically checks for absence and inserts a new entry.
func (r *Registry) Create(id string, meta Metadata) (*Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.broadcasts[id]; ok {
		return nil, ErrAlreadyLive
	}

	b := &Broadcast{
		id:        id,
		meta:      meta,
		listeners: make(map[*Sink]struct{}),
		done:      make(chan struct{}),
	}
	b.touch()

	r.broadcasts[id] = b

	return b, nil
}

func (r *Registry) Get(id string) (*Broadcast, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.broadcasts[id]
	return b, ok
}

// AddListener registers a sink against a live broadcast. A destroyed entry
// cannot be resurrected; racing with Destroy yields ErrNotFound.
func (r *Registry) AddListener(id string, s *Sink) error {
	r.mu.RLock()
	b, ok := r.broadcasts[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dead {
		return ErrNotFound
	}
	b.listeners[s] = struct{}{}

	return nil
}

// RemoveListener removes a sink if present. Idempotent.
func (r *Registry) RemoveListener(id string, s *Sink) {
	r.mu.RLock()
	b, ok := r.broadcasts[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	b.mu.Lock()
	delete(b.listeners, s)
	b.mu.Unlock()
}

// Destroy removes the entry and returns its final listener set so the caller
// can close the sinks. Absent ids report ok=false with no sinks.
func (r *Registry) Destroy(id string) ([]*Sink, bool) {
	r.mu.Lock()
	b, ok := r.broadcasts[id]
	if ok {
		delete(r.broadcasts, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}

	return b.kill(), true
}

// DestroyEntry removes b only if it is still the live entry for its id, so a
// stale teardown (late ingest exit, idle watchdog) cannot take down a
// successor broadcast that reused the id.
func (r *Registry) DestroyEntry(b *Broadcast) ([]*Sink, bool) {
	r.mu.Lock()
	cur, ok := r.broadcasts[b.id]
	if !ok || cur != b {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.broadcasts, b.id)
	r.mu.Unlock()

	return b.kill(), true
}

func (b *Broadcast) kill() []*Sink {
	b.mu.Lock()
	b.dead = true
	sinks := make([]*Sink, 0, len(b.listeners))
	for s := range b.listeners {
		sinks = append(sinks, s)
	}
	b.listeners = nil
	b.mu.Unlock()

	close(b.done)

	return sinks
}

// IDs returns the ids of all live broadcasts.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.broadcasts))
	for id := range r.broadcasts {
		ids = append(ids, id)
	}
	return ids
}
