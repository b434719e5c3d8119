// Package conversation implements the per-user dialog that collects one
// ledger entry over several chat messages.
//
// Transitions are pure functions over Conversation values. The only side
// effect, committing the finished entry, is performed by Machine.
package conversation

import (
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

// State is the position of a conversation in the entry dialog.
type State int

const (
	StateIdle State = iota
	StateAwaitingOdometer
	StateAwaitingFuelVolume
	StateAwaitingFuelCost
	StateAwaitingFullTank
	StateConfirming
	StateCommitted
	StateCancelled
	StateExpired
)

var stateNames = map[State]string{
	StateIdle:               "IDLE",
	StateAwaitingOdometer:   "AWAITING_ODOMETER",
	StateAwaitingFuelVolume: "AWAITING_FUEL_VOLUME",
	StateAwaitingFuelCost:   "AWAITING_FUEL_COST",
	StateAwaitingFullTank:   "AWAITING_FULL_TANK_FLAG",
	StateConfirming:         "CONFIRMING",
	StateCommitted:          "COMMITTED",
	StateCancelled:          "CANCELLED",
	StateExpired:            "EXPIRED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further input is accepted.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateCancelled || s == StateExpired
}

// Fields are the provisionally parsed values of the entry being built.
type Fields struct {
	Odometer    *float64 `json:"odometer,omitempty"`
	FuelVolume  *float64 `json:"fuel_volume,omitempty"`
	FuelCost    *float64 `json:"fuel_cost,omitempty"`
	CostSkipped bool     `json:"cost_skipped,omitempty"`
	FullTank    *bool    `json:"full_tank,omitempty"`
}

// Complete reports whether every required field has been collected.
func (f Fields) Complete() bool {
	return f.Odometer != nil && f.FuelVolume != nil &&
		(f.FuelCost != nil || f.CostSkipped) && f.FullTank != nil
}

// Candidate builds a ledger candidate stamped with ts.
func (f Fields) Candidate(ts time.Time) (ledger.Candidate, bool) {
	if !f.Complete() {
		return ledger.Candidate{}, false
	}
	c := ledger.Candidate{
		Timestamp:  ts,
		Odometer:   *f.Odometer,
		FuelVolume: *f.FuelVolume,
		FullTank:   *f.FullTank,
	}
	if f.FuelCost != nil {
		cost := *f.FuelCost
		c.FuelCost = &cost
	}
	return c, true
}

// Conversation is the dialog state of one owner.
type Conversation struct {
	Owner          string    `json:"owner"`
	State          State     `json:"state"`
	Fields         Fields    `json:"partial_fields"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// New starts a conversation waiting for the odometer reading.
func New(owner string, now time.Time) Conversation {
	return Conversation{
		Owner:          owner,
		State:          StateAwaitingOdometer,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Expired reports whether the conversation has been idle longer than idle.
// A non-positive idle disables expiry.
func (c Conversation) Expired(now time.Time, idle time.Duration) bool {
	if idle <= 0 {
		return false
	}
	return now.Sub(c.LastActivityAt) > idle
}
