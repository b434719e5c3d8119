package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultPageSize = 100
)

// Backend is the persistence engine behind a Ledger. AppendEntry must
// re-check the ordering against the owner's latest entry atomically with
// the write and return an error wrapping ErrConflict on violation.
type Backend interface {
	AppendEntry(ctx context.Context, e Entry) (Entry, error)
	QueryEntries(ctx context.Context, owner string, q Query) ([]Entry, error)
	LatestEntry(ctx context.Context, owner string) (Entry, bool, error)
}

// Options tunes a Ledger. Zero values fall back to defaults.
type Options struct {
	Timeout  time.Duration
	PageSize int
}

// Ledger validates candidates and is the single write path for entries.
type Ledger struct {
	backend  Backend
	timeout  time.Duration
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

func New(b Backend, opts Options, logger *slog.Logger) *Ledger {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Ledger{
		backend:  b,
		timeout:  opts.Timeout,
		pageSize: opts.PageSize,
		logger:   logger,
		now:      time.Now,
	}
}

// Append validates the candidate against the owner's latest entry and
// stores it. Validation failures are returned as *ValidationError; other
// failures wrap ErrTimeout or ErrStorage.
func (l *Ledger) Append(ctx context.Context, owner string, c Candidate) (Entry, error) {
	if owner == "" {
		return Entry{}, &ValidationError{Field: "owner", Reason: "missing"}
	}
	if err := c.Validate(); err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:         uuid.New(),
		Owner:      owner,
		Timestamp:  c.Timestamp.UTC().Truncate(TimestampPrecision),
		Odometer:   c.Odometer,
		FuelVolume: c.FuelVolume,
		FuelCost:   c.FuelCost,
		FullTank:   c.FullTank,
		CreatedAt:  l.now().UTC().Truncate(TimestampPrecision),
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	latest, ok, err := l.backend.LatestEntry(ctx, owner)
	if err != nil {
		return Entry{}, classify("latest entry", err)
	}
	if ok {
		if err := CheckOrder(latest, e); err != nil {
			return Entry{}, err
		}
	}

	stored, err := l.backend.AppendEntry(ctx, e)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return Entry{}, verr
		}
		if errors.Is(err, ErrConflict) {
			return Entry{}, &ValidationError{Field: "odometer", Reason: "conflicts with a newer entry"}
		}
		return Entry{}, classify("append entry", err)
	}

	l.logger.Info("ledger entry stored",
		"owner", owner,
		"entry_id", stored.ID,
		"odometer", stored.Odometer,
		"fuel_volume", stored.FuelVolume,
		"full_tank", stored.FullTank,
	)
	return stored, nil
}

// Latest returns the owner's most recent entry.
func (l *Ledger) Latest(ctx context.Context, owner string) (Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	e, ok, err := l.backend.LatestEntry(ctx, owner)
	if err != nil {
		return Entry{}, false, classify("latest entry", err)
	}
	return e, ok, nil
}

// List yields the owner's entries inside r in ascending timestamp order.
// Pages are fetched from the backend only as the caller consumes them.
func (l *Ledger) List(ctx context.Context, owner string, r Range) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var after time.Time
		for {
			qctx, cancel := context.WithTimeout(ctx, l.timeout)
			page, err := l.backend.QueryEntries(qctx, owner, Query{Range: r, After: after, Limit: l.pageSize})
			cancel()
			if err != nil {
				yield(Entry{}, classify("query entries", err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
			after = page[len(page)-1].Timestamp
		}
	}
}

// Entries collects List into a slice.
func (l *Ledger) Entries(ctx context.Context, owner string, r Range) ([]Entry, error) {
	var out []Entry
	for e, err := range l.List(ctx, owner, r) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Economy computes fuel economy over the full-tank-bounded run in r.
func (l *Ledger) Economy(ctx context.Context, owner string, r Range) (EconomyResult, error) {
	entries, err := l.Entries(ctx, owner, r)
	if err != nil {
		return EconomyResult{}, err
	}
	return ComputeEconomy(entries), nil
}

func classify(op string, err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
