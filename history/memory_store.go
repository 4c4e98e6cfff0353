package history

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store backed by go-cache. Each peer's list
// expires TTL after its last update and is capped at maxPerPeer entries.
type MemoryStore struct {
	mu         sync.Mutex
	cache      *cache.Cache
	ttl        time.Duration
	maxPerPeer int
}

// NewMemoryStore creates a MemoryStore.
//
// Parameters:
//   - ttl: How long a peer's history survives without new sessions
//   - maxPerPeer: Entries kept per peer; values <= 0 mean unbounded
//
// Returns:
//   - A new MemoryStore
func NewMemoryStore(ttl time.Duration, maxPerPeer int) *MemoryStore {
	return &MemoryStore{
		cache:      cache.New(ttl, 2*ttl),
		ttl:        ttl,
		maxPerPeer: maxPerPeer,
	}
}

// Record implements Store.
func (m *MemoryStore) Record(ctx context.Context, peer string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []Entry
	if v, found := m.cache.Get(peer); found {
		entries = v.([]Entry)
	}

	entries = append([]Entry{e}, entries...)
	if m.maxPerPeer > 0 && len(entries) > m.maxPerPeer {
		entries = entries[:m.maxPerPeer]
	}

	m.cache.Set(peer, entries, m.ttl)
	return nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(ctx context.Context, peer string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, found := m.cache.Get(peer)
	if !found {
		return nil, nil
	}

	return slices.Clone(v.([]Entry)), nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Flush()
	return nil
}

// PeerCount returns the number of peers with unexpired history.
func (m *MemoryStore) PeerCount() int {
	return m.cache.ItemCount()
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
