package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

const uniqueViolation = "23505"

const entryColumns = `id, owner, ts, odometer, fuel_volume, fuel_cost, full_tank, created_at`

// AppendEntry stores e after checking it against the owner's latest entry.
// Appends for one owner are serialized by a transaction-scoped advisory
// lock, so the check and the insert see the same latest entry.
func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.Owner); err != nil {
		return ledger.Entry{}, fmt.Errorf("lock owner: %w", err)
	}

	prev, ok, err := latest(ctx, tx, e.Owner)
	if err != nil {
		return ledger.Entry{}, err
	}
	if ok {
		if err := ledger.ConflictError(prev, e); err != nil {
			return ledger.Entry{}, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, owner, ts, odometer, fuel_volume, fuel_cost, full_tank, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Owner, e.Timestamp, e.Odometer, e.FuelVolume, e.FuelCost, e.FullTank, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ledger.Entry{}, fmt.Errorf("%w: %w", ledger.ErrConflict,
				&ledger.ValidationError{Field: "timestamp", Reason: "an entry with this timestamp already exists"})
		}
		return ledger.Entry{}, fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Entry{}, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

// QueryEntries returns one page of the owner's entries in timestamp order.
func (s *Store) QueryEntries(ctx context.Context, owner string, q ledger.Query) ([]ledger.Entry, error) {
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE owner = $1
		  AND ($2::timestamptz IS NULL OR ts > $2)
		  AND ($3::timestamptz IS NULL OR ts >= $3)
		  AND ($4::timestamptz IS NULL OR ts < $4)
		ORDER BY ts
		LIMIT $5`,
		owner, nullTime(q.After), nullTime(q.Range.From), nullTime(q.Range.To), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func (s *Store) LatestEntry(ctx context.Context, owner string) (ledger.Entry, bool, error) {
	return latest(ctx, s.pool, owner)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latest(ctx context.Context, q querier, owner string) (ledger.Entry, bool, error) {
	row := q.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE owner = $1
		ORDER BY ts DESC LIMIT 1`, owner)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var e ledger.Entry
	err := row.Scan(&e.ID, &e.Owner, &e.Timestamp, &e.Odometer, &e.FuelVolume, &e.FuelCost, &e.FullTank, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Entry{}, err
		}
		return ledger.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
