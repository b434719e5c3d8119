package ledger

import (
	"fmt"
	"math"
	"time"
)

// TimestampPrecision is the resolution entries are stored with. Every
// backend keeps at least millisecond precision.
const TimestampPrecision = time.Millisecond

// Validate checks the field-level invariants of a candidate.
func (c Candidate) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "missing"}
	}
	if math.IsNaN(c.Odometer) || math.IsInf(c.Odometer, 0) {
		return &ValidationError{Field: "odometer", Reason: "not a number"}
	}
	if c.Odometer < 0 {
		return &ValidationError{Field: "odometer", Reason: "must not be negative"}
	}
	if math.IsNaN(c.FuelVolume) || math.IsInf(c.FuelVolume, 0) {
		return &ValidationError{Field: "fuel_volume", Reason: "not a number"}
	}
	if c.FuelVolume <= 0 {
		return &ValidationError{Field: "fuel_volume", Reason: "must be greater than zero"}
	}
	if c.FuelCost != nil {
		cost := *c.FuelCost
		if math.IsNaN(cost) || math.IsInf(cost, 0) {
			return &ValidationError{Field: "fuel_cost", Reason: "not a number"}
		}
		if cost < 0 {
			return &ValidationError{Field: "fuel_cost", Reason: "must not be negative"}
		}
	}
	return nil
}

// CheckOrder verifies that next may follow prev for the same owner.
// Backends call it again inside their write transaction.
func CheckOrder(prev, next Entry) error {
	if next.Odometer < prev.Odometer {
		return &ValidationError{
			Field:  "odometer",
			Reason: fmt.Sprintf("%.1f is below the previous reading %.1f", next.Odometer, prev.Odometer),
		}
	}
	if !next.Timestamp.After(prev.Timestamp) {
		return &ValidationError{
			Field:  "timestamp",
			Reason: fmt.Sprintf("%s is not after the previous entry at %s", next.Timestamp.Format(time.RFC3339), prev.Timestamp.Format(time.RFC3339)),
		}
	}
	return nil
}

// ConflictError wraps an ordering violation detected by a Backend so that
// it matches both ErrConflict and *ValidationError.
func ConflictError(prev, next Entry) error {
	if err := CheckOrder(prev, next); err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return nil
}
