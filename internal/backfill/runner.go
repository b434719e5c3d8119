// Package backfill imports fill history exported from the original bot
// into the ledger.
package backfill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

// Config holds the backfill command configuration.
type Config struct {
	File           string
	Owner          string
	Since          time.Time
	Until          time.Time
	DryRun         bool
	AssumeFullTank bool // used for records without a full_tank field
}

// Appender stores one validated entry.
type Appender interface {
	Append(ctx context.Context, owner string, c ledger.Candidate) (ledger.Entry, error)
}

// Summary counts what a run did with each record.
type Summary struct {
	Read     int
	Imported int
	Skipped  int // rejected by the ledger, e.g. already imported
	Invalid  int // unreadable lines
}

// Runner orchestrates the backfill process.
type Runner struct {
	cfg    Config
	ledger Appender
	logger *slog.Logger
}

func NewRunner(cfg Config, l Appender, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, ledger: l, logger: logger}
}

// Run imports the file in date order. Records the ledger rejects are
// skipped, so running the same file twice imports nothing new. Any other
// ledger error stops the run.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if r.cfg.Owner == "" {
		return sum, fmt.Errorf("backfill: owner is required")
	}

	records, bad, err := ParseHistoryFile(r.cfg.File)
	if err != nil {
		return sum, fmt.Errorf("parse %s: %w", r.cfg.File, err)
	}
	for line, err := range bad {
		r.logger.Warn("unreadable record", "line", line, "error", err)
	}
	sum.Invalid = len(bad)

	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	for _, rec := range records {
		select {
		case <-ctx.Done():
			r.logger.Info("backfill interrupted", "imported", sum.Imported)
			return sum, ctx.Err()
		default:
		}

		if !r.inDateRange(rec.Date) {
			continue
		}
		sum.Read++

		cand := r.candidate(rec)
		if r.cfg.DryRun {
			if err := cand.Validate(); err != nil {
				r.logger.Info("record would be skipped", "line", rec.Line, "error", err)
				sum.Skipped++
				continue
			}
			sum.Imported++
			continue
		}

		entry, err := r.ledger.Append(ctx, r.cfg.Owner, cand)
		if ledger.IsValidation(err) {
			r.logger.Info("record skipped", "line", rec.Line, "date", rec.Date, "error", err)
			sum.Skipped++
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("append line %d: %w", rec.Line, err)
		}
		sum.Imported++
		r.logger.Debug("record imported", "line", rec.Line, "entry_id", entry.ID)
	}

	r.logger.Info("backfill complete",
		"owner", r.cfg.Owner,
		"read", sum.Read,
		"imported", sum.Imported,
		"skipped", sum.Skipped,
		"invalid", sum.Invalid,
		"dry_run", r.cfg.DryRun,
	)
	return sum, nil
}

func (r *Runner) candidate(rec Record) ledger.Candidate {
	full := r.cfg.AssumeFullTank
	if rec.FullTank != nil {
		full = *rec.FullTank
	}
	return ledger.Candidate{
		Timestamp:  rec.Date,
		Odometer:   rec.Odometer,
		FuelVolume: rec.FuelVolume,
		FuelCost:   rec.FuelCost,
		FullTank:   full,
	}
}

func (r *Runner) inDateRange(t time.Time) bool {
	if !r.cfg.Since.IsZero() && t.Before(r.cfg.Since) {
		return false
	}
	if !r.cfg.Until.IsZero() && t.After(r.cfg.Until) {
		return false
	}
	return true
}

// PrintSummary writes a human-readable summary of a run.
func PrintSummary(w io.Writer, sum Summary, dryRun bool) {
	fmt.Fprintf(w, "\n=== Backfill Summary ===\n")
	fmt.Fprintf(w, "Records read: %d\n", sum.Read)
	fmt.Fprintf(w, "Imported: %d\n", sum.Imported)
	fmt.Fprintf(w, "Skipped: %d\n", sum.Skipped)
	fmt.Fprintf(w, "Unreadable: %d\n", sum.Invalid)
	if dryRun {
		fmt.Fprintf(w, "Mode: DRY RUN (no ledger writes)\n")
	}
}
