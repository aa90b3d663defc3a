package certcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/interceptproxy/internal/certauthority"
	"github.com/relayforge/interceptproxy/internal/logging"
)

// DefaultMaxEntries is the default entry cap for a MemoryStore.
const DefaultMaxEntries = 1000

type memoryEntry struct {
	cert      *certauthority.Certificate
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStore is the mandatory in-memory backend. A single exclusive
// lock guards the map; contention is low because certificates are
// minted once per host and reads dominate.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get returns the cached certificate for host if present and not
// expired. Expired entries are deleted opportunistically here, on get.
func (m *MemoryStore) Get(_ context.Context, host string) (*certauthority.Certificate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[host]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, host)
		return nil, false
	}
	return entry.cert, true
}

// Put inserts cert for host. If the map would exceed maxEntries, the
// entries with the smallest createdAt are evicted until size is back
// within bound.
func (m *MemoryStore) Put(_ context.Context, host string, cert *certauthority.Certificate, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.entries[host] = memoryEntry{
		cert:      cert,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	for len(m.entries) > m.maxEntries {
		m.evictOldestLocked()
	}
	return nil
}

// evictOldestLocked removes the entry with the smallest createdAt. The
// map is small and puts are rare (one per new host), so an O(n) scan
// under the lock is fine; it is never on the hot read path.
func (m *MemoryStore) evictOldestLocked() {
	var oldestHost string
	var oldestAt time.Time
	first := true
	for host, entry := range m.entries {
		if first || entry.createdAt.Before(oldestAt) {
			oldestHost = host
			oldestAt = entry.createdAt
			first = false
		}
	}
	if !first {
		delete(m.entries, oldestHost)
	}
}

func (m *MemoryStore) Remove(_ context.Context, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, host)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

func (m *MemoryStore) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{Backend: "memory", Size: len(m.entries)}
}

// warnOnBackendError is shared by backends whose I/O is fail-open: the
// cache reports a miss and the request still proceeds.
func warnOnBackendError(op, host string, err error) {
	logging.Log().Warn("certificate cache backend error",
		zap.String("op", op),
		zap.String("host", host),
		zap.Error(err),
	)
}
