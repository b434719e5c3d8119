// Package dedup drops chat events that a transport delivers more than once.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/clock"
)

// DefaultTTL is how long an event id is remembered.
const DefaultTTL = 24 * time.Hour

// Guard remembers event ids. Seen records key and reports whether it had
// already been recorded within the TTL. Forget drops a recorded key so a
// redelivery of an event that failed is processed again.
type Guard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Memory is an in-process Guard.
type Memory struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	expires map[string]time.Time
	pruned  time.Time
}

func NewMemory(ttl time.Duration, clk clock.Clock) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		clock:   clk,
		expires: make(map[string]time.Time),
	}
}

func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.pruned) >= m.ttl {
		for k, exp := range m.expires {
			if !now.Before(exp) {
				delete(m.expires, k)
			}
		}
		m.pruned = now
	}

	if exp, ok := m.expires[key]; ok && now.Before(exp) {
		return true, nil
	}
	m.expires[key] = now.Add(m.ttl)
	return false, nil
}

func (m *Memory) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.expires, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of remembered keys, expired ones included until
// the next prune.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}
