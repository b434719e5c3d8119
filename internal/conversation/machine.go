package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

// Appender is the write side of the ledger.
type Appender interface {
	Append(ctx context.Context, owner string, c ledger.Candidate) (ledger.Entry, error)
}

// Input is one inbound text together with its timing. Timestamp is the
// event time stored on a committed entry; Now is the processing time used
// for idle tracking.
type Input struct {
	Text      string
	Timestamp time.Time
	Now       time.Time
}

// Result is the state after Advance.
type Result struct {
	Conversation Conversation

	// Entry is set when the conversation committed.
	Entry *ledger.Entry

	// Err is a *ParseError (same state, fields kept), a
	// *ledger.ValidationError (fields discarded, back to the odometer) or
	// a transient ledger error (still confirming, fields kept).
	Err error
}

// Machine advances conversations and commits finished entries.
type Machine struct {
	ledger Appender
	logger *slog.Logger
}

func NewMachine(l Appender, logger *slog.Logger) *Machine {
	return &Machine{ledger: l, logger: logger}
}

// Advance applies in to c. The ledger is only called when the user
// accepts the confirmation.
func (m *Machine) Advance(ctx context.Context, c Conversation, in Input) Result {
	next, out := Step(c, in.Text, in.Now)
	if out.Err != nil || !out.Commit {
		return Result{Conversation: next, Err: out.Err}
	}

	cand, ok := next.Fields.Candidate(in.Timestamp)
	if !ok {
		// Confirming without complete fields cannot be reached through Step.
		return Result{Conversation: Reset(next), Err: &ledger.ValidationError{Field: "entry", Reason: "incomplete"}}
	}

	entry, err := m.ledger.Append(ctx, next.Owner, cand)
	if err != nil {
		var verr *ledger.ValidationError
		if errors.As(err, &verr) {
			m.logger.Info("entry rejected", "owner", next.Owner, "field", verr.Field, "reason", verr.Reason)
			return Result{Conversation: Reset(next), Err: err}
		}
		m.logger.Warn("entry commit failed, keeping draft", "owner", next.Owner, "error", err)
		return Result{Conversation: next, Err: err}
	}

	next.State = StateCommitted
	return Result{Conversation: next, Entry: &entry}
}
