package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one committed fuel/odometer record. Entries are immutable once
// stored.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Owner      string    `json:"owner"`
	Timestamp  time.Time `json:"timestamp"`
	Odometer   float64   `json:"odometer"`
	FuelVolume float64   `json:"fuel_volume"`
	FuelCost   *float64  `json:"fuel_cost,omitempty"` // nil means unknown, never zero
	FullTank   bool      `json:"full_tank"`
	CreatedAt  time.Time `json:"created_at"`
}

// Candidate is an entry that has not been validated or stored yet.
// Timestamp is stored in UTC truncated to TimestampPrecision.
type Candidate struct {
	Timestamp  time.Time
	Odometer   float64
	FuelVolume float64
	FuelCost   *float64
	FullTank   bool
}

// Range selects entries with From <= timestamp < To. A zero bound is open.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Query is a single page request against a Backend. After is a cursor:
// only entries strictly after it are returned. Limit <= 0 means no limit.
type Query struct {
	Range Range
	After time.Time
	Limit int
}

// Matches reports whether an entry timestamp satisfies the query filters.
func (q Query) Matches(t time.Time) bool {
	if !q.After.IsZero() && !t.After(q.After) {
		return false
	}
	return q.Range.Contains(t)
}

// Cost returns the fuel cost and whether it is known.
func (e Entry) Cost() (float64, bool) {
	if e.FuelCost == nil {
		return 0, false
	}
	return *e.FuelCost, true
}
