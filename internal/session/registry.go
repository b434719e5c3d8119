// Package session keeps the active conversation of every owner and
// serializes access to it.
//
// Callers for the same owner are admitted one at a time in the order they
// called Acquire. Callers for different owners never wait on each other:
// the registry-wide mutex only guards slot lookup and bookkeeping.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/clock"
	"github.com/MikeSquared-Agency/tenere/internal/conversation"
)

// Registry maps owners to their conversation.
type Registry struct {
	idle   time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

// slot is the per-owner queue head and conversation. conv is written under
// Registry.mu by the lease holder only.
type slot struct {
	tail    chan struct{} // closed when the most recent arrival releases
	queue   int           // holders plus waiters
	conv    *conversation.Conversation
	expired bool // conv was swept; reported by the next Acquire
}

func NewRegistry(idle time.Duration, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		idle:   idle,
		clock:  clk,
		logger: logger,
		slots:  make(map[string]*slot),
	}
}

// IdleTimeout returns the configured inactivity limit.
func (r *Registry) IdleTimeout() time.Duration { return r.idle }

// Acquire waits for exclusive access to owner's conversation. Waiting ends
// early with ctx.Err() if ctx is cancelled; the queue position is then
// handed on without ever being held.
func (r *Registry) Acquire(ctx context.Context, owner string) (*Lease, error) {
	r.mu.Lock()
	s, ok := r.slots[owner]
	if !ok {
		s = &slot{}
		r.slots[owner] = s
	}
	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.queue++
	r.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				r.release(owner, s, done)
			}()
			return nil, ctx.Err()
		}
	}

	l := &Lease{registry: r, owner: owner, slot: s, done: done, now: r.clock.Now()}

	r.mu.Lock()
	if s.conv != nil && s.conv.Expired(l.now, r.idle) {
		r.logger.Info("conversation expired",
			"owner", owner,
			"state", s.conv.State.String(),
			"idle", l.now.Sub(s.conv.LastActivityAt).String(),
		)
		l.expired = true
		s.conv = nil
	}
	if s.expired {
		l.expired = true
		s.expired = false
	}
	r.mu.Unlock()

	return l, nil
}

func (r *Registry) release(owner string, s *slot, done chan struct{}) {
	r.mu.Lock()
	s.queue--
	if s.queue == 0 && s.conv == nil && !s.expired && r.slots[owner] == s {
		delete(r.slots, owner)
	}
	close(done)
	r.mu.Unlock()
}

// Active returns the number of owners with a live conversation.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s.conv != nil {
			n++
		}
	}
	return n
}

// Queued returns how many callers hold or wait for owner's lease.
func (r *Registry) Queued(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[owner]; ok {
		return s.queue
	}
	return 0
}

// Sweep drops expired conversations of owners nobody is currently
// serving and returns how many were removed. The slot stays behind as a
// marker so the owner's next Acquire still reports the expiry.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for owner, s := range r.slots {
		if s.queue > 0 || s.conv == nil {
			continue
		}
		if s.conv.Expired(now, r.idle) {
			r.logger.Info("conversation expired",
				"owner", owner,
				"state", s.conv.State.String(),
				"idle", now.Sub(s.conv.LastActivityAt).String(),
			)
			s.conv = nil
			s.expired = true
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("swept expired conversations", "removed", removed)
	}
	return removed
}

// Lease is exclusive access to one owner's conversation. It must be
// released exactly once; further Release calls are no-ops.
type Lease struct {
	registry *Registry
	owner    string
	slot     *slot
	done     chan struct{}
	now      time.Time
	expired  bool
	once     sync.Once
}

// Owner returns the owner this lease belongs to.
func (l *Lease) Owner() string { return l.owner }

// Now is the time the lease was granted. It is the processing time for
// everything done under the lease.
func (l *Lease) Now() time.Time { return l.now }

// Expired reports whether a previous conversation timed out and was
// dropped when this lease was granted.
func (l *Lease) Expired() bool { return l.expired }

// Current returns the live conversation, if any.
func (l *Lease) Current() (conversation.Conversation, bool) {
	l.registry.mu.Lock()
	defer l.registry.mu.Unlock()
	if l.slot.conv == nil {
		return conversation.Conversation{}, false
	}
	return *l.slot.conv, true
}

// GetOrCreate returns the live conversation or starts a new one waiting
// for the odometer reading.
func (l *Lease) GetOrCreate() (conversation.Conversation, bool) {
	if c, ok := l.Current(); ok {
		return c, false
	}
	c := conversation.New(l.owner, l.now)
	l.Store(c)
	return c, true
}

// Store saves c as the owner's conversation. Terminal conversations are
// removed instead.
func (l *Lease) Store(c conversation.Conversation) {
	if c.State.Terminal() {
		l.Remove()
		return
	}
	l.registry.mu.Lock()
	l.slot.conv = &c
	l.registry.mu.Unlock()
}

// Remove discards the owner's conversation.
func (l *Lease) Remove() {
	l.registry.mu.Lock()
	l.slot.conv = nil
	l.registry.mu.Unlock()
}

// Release hands access to the next caller for this owner.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.release(l.owner, l.slot, l.done)
	})
}
