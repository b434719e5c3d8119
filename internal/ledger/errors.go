package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned by a Backend when an append would break the
	// per-owner ordering of timestamps or odometer readings.
	ErrConflict = errors.New("ledger: ordering conflict")

	// ErrTimeout marks a persistence call that exceeded its time bound.
	// The write may be retried.
	ErrTimeout = errors.New("ledger: store timeout")

	// ErrStorage marks a persistence failure unrelated to validation.
	ErrStorage = errors.New("ledger: storage fault")
)

// ValidationError reports a semantically invalid candidate entry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsTransient reports whether err is a timeout or storage fault, i.e. a
// failure after which the same candidate may be submitted again.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrStorage)
}
