// Package dispatcher routes inbound chat events to the owner's
// conversation and turns the result into an outbound instruction.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/conversation"
	"github.com/MikeSquared-Agency/tenere/internal/ledger"
	"github.com/MikeSquared-Agency/tenere/internal/session"
)

// ErrNoOwner is returned for events without an owner id.
var ErrNoOwner = errors.New("dispatcher: event has no owner")

const (
	defaultHistory = 5
	maxHistory     = 50
)

// Reporter is the read side of the ledger used for queries.
type Reporter interface {
	Economy(ctx context.Context, owner string, r ledger.Range) (ledger.EconomyResult, error)
	List(ctx context.Context, owner string, r ledger.Range) iter.Seq2[ledger.Entry, error]
}

// Emitter receives every instruction while the owner's session is still
// held, so instructions for one owner are emitted in event order.
type Emitter func(ctx context.Context, in Instruction)

type Dispatcher struct {
	registry *session.Registry
	machine  *conversation.Machine
	reports  Reporter
	emit     Emitter
	logger   *slog.Logger
}

func New(reg *session.Registry, m *conversation.Machine, reports Reporter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		machine:  m,
		reports:  reports,
		logger:   logger,
	}
}

// OnEmit installs the emitter. It must be called before Handle is used.
func (d *Dispatcher) OnEmit(fn Emitter) {
	d.emit = fn
}

// Handle processes one event. Calls for the same owner are applied one at
// a time in the order they arrive; calls for different owners run in
// parallel.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (Instruction, error) {
	if ev.OwnerID == "" {
		return Instruction{}, ErrNoOwner
	}

	lease, err := d.registry.Acquire(ctx, ev.OwnerID)
	if err != nil {
		return Instruction{}, fmt.Errorf("acquire session %s: %w", ev.OwnerID, err)
	}
	defer lease.Release()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = lease.Now()
	}
	ev.Timestamp = ev.Timestamp.UTC().Truncate(ledger.TimestampPrecision)
	if lease.Expired() {
		lease.GetOrCreate()
	}

	in := d.route(ctx, lease, ev)
	in.TargetOwnerID = ev.OwnerID
	in.ChatID = ev.ChatID
	in.Channel = ev.Channel
	in.EventID = ev.ID
	in.Expired = lease.Expired()

	d.logger.Debug("event handled",
		"owner", ev.OwnerID,
		"event_id", ev.ID,
		"kind", string(in.Kind),
		"clarify", in.Clarify,
	)

	if d.emit != nil {
		d.emit(ctx, in)
	}
	return in, nil
}

func (d *Dispatcher) route(ctx context.Context, lease *session.Lease, ev Event) Instruction {
	text := strings.TrimSpace(ev.Text)
	cmd, arg := splitCommand(text)

	switch cmd {
	case "":
		return d.advance(ctx, lease, ev, text)
	case "/start", "/help", "/apua":
		return Instruction{Kind: KindHelp}
	case "/fill", "/new", "/tankkaus":
		lease.Store(conversation.New(ev.OwnerID, lease.Now()))
		return Instruction{Kind: KindAskOdometer}
	case "/cancel", "/peru":
		if _, ok := lease.Current(); !ok {
			return Instruction{Kind: KindCancelled, Reason: "nothing to cancel"}
		}
		return d.advance(ctx, lease, ev, cmd)
	case "/skip":
		return d.advance(ctx, lease, ev, cmd)
	case "/economy", "/kulutus":
		return d.economy(ctx, ev, arg)
	case "/history", "/historia":
		return d.history(ctx, ev, arg)
	}
	return Instruction{Kind: KindHelp, Clarify: true, Reason: fmt.Sprintf("unknown command %s", cmd)}
}

func (d *Dispatcher) advance(ctx context.Context, lease *session.Lease, ev Event, text string) Instruction {
	c, _ := lease.GetOrCreate()
	res := d.machine.Advance(ctx, c, conversation.Input{
		Text:      text,
		Timestamp: ev.Timestamp,
		Now:       lease.Now(),
	})
	lease.Store(res.Conversation)

	state := res.Conversation.State
	in := Instruction{Kind: promptFor(state)}
	if state == conversation.StateConfirming {
		draft := res.Conversation.Fields
		in.Draft = &draft
	}

	var perr *conversation.ParseError
	var verr *ledger.ValidationError
	switch {
	case res.Entry != nil:
		in.Entry = res.Entry
	case res.Err == nil:
	case errors.As(res.Err, &perr):
		in.Clarify = true
		in.Reason = perr.Reason
	case errors.As(res.Err, &verr):
		in.Kind = KindRejected
		in.Reason = fmt.Sprintf("%s %s", verr.Field, verr.Reason)
	default:
		d.logger.Warn("commit failed", "owner", ev.OwnerID, "event_id", ev.ID, "error", res.Err)
		in.Kind = KindFailed
		in.Retryable = ledger.IsTransient(res.Err)
		in.Reason = "the ledger is unavailable, confirm again to retry"
	}
	return in
}

func (d *Dispatcher) economy(ctx context.Context, ev Event, arg string) Instruction {
	r, err := windowFromArg(ev.Timestamp, arg)
	if err != nil {
		return Instruction{Kind: KindHelp, Clarify: true, Reason: err.Error()}
	}
	res, err := d.reports.Economy(ctx, ev.OwnerID, r)
	if err != nil {
		d.logger.Error("economy query failed", "owner", ev.OwnerID, "error", err)
		return Instruction{Kind: KindFailed, Retryable: true, Reason: "could not read the ledger"}
	}
	return Instruction{Kind: KindEconomy, Economy: &res}
}

func (d *Dispatcher) history(ctx context.Context, ev Event, arg string) Instruction {
	n := defaultHistory
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return Instruction{Kind: KindHelp, Clarify: true, Reason: fmt.Sprintf("%q is not a positive count", arg)}
		}
		n = min(v, maxHistory)
	}

	// Keep only the newest n entries while streaming.
	ring := make([]ledger.Entry, 0, n)
	for e, err := range d.reports.List(ctx, ev.OwnerID, ledger.Range{}) {
		if err != nil {
			d.logger.Error("history query failed", "owner", ev.OwnerID, "error", err)
			return Instruction{Kind: KindFailed, Retryable: true, Reason: "could not read the ledger"}
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, e)
	}
	return Instruction{Kind: KindHistory, History: ring}
}

// windowFromArg turns an optional day count into a range ending at ts.
func windowFromArg(ts time.Time, arg string) (ledger.Range, error) {
	if arg == "" {
		return ledger.Range{}, nil
	}
	days, err := strconv.Atoi(arg)
	if err != nil || days <= 0 {
		return ledger.Range{}, fmt.Errorf("%q is not a positive number of days", arg)
	}
	return ledger.Range{From: ts.AddDate(0, 0, -days)}, nil
}

// splitCommand returns the lower-cased command without any "@bot" suffix
// and its argument. Plain text yields an empty command.
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd, arg, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}
