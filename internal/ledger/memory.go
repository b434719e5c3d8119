package ledger

import (
	"context"
	"sync"
)

// MemoryBackend keeps entries in process memory. Used for tests and for
// running without a database.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]Entry)}
}

func (m *MemoryBackend) AppendEntry(_ context.Context, e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.entries[e.Owner]
	if n := len(existing); n > 0 {
		if err := ConflictError(existing[n-1], e); err != nil {
			return Entry{}, err
		}
	}
	m.entries[e.Owner] = append(existing, e)
	return e, nil
}

func (m *MemoryBackend) QueryEntries(_ context.Context, owner string, q Query) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries[owner] {
		if !q.Matches(e.Timestamp) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryBackend) LatestEntry(_ context.Context, owner string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing := m.entries[owner]
	if len(existing) == 0 {
		return Entry{}, false, nil
	}
	return existing[len(existing)-1], true, nil
}

// Len returns the number of entries stored for owner.
func (m *MemoryBackend) Len(owner string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[owner])
}
