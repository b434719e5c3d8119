// Package processor ties inbound transports to the dispatcher and sends
// the resulting replies.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/dedup"
	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
	"github.com/MikeSquared-Agency/tenere/internal/hermes"
	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

const forgetTimeout = 2 * time.Second

// Publisher is the part of the bus client the processor uses.
type Publisher interface {
	Publish(subject string, data any) error
	PublishCommitted(eventID string, e ledger.Entry) error
}

// Processor runs tenere's event pipeline: dedup, dispatch, reply.
type Processor struct {
	dispatcher *dispatcher.Dispatcher
	guard      dedup.Guard
	outbox     *Outbox
	hermes     Publisher
	logger     *slog.Logger
}

// New builds a processor and installs it as d's emitter. guard and h may
// be nil.
func New(d *dispatcher.Dispatcher, guard dedup.Guard, outbox *Outbox, h Publisher, logger *slog.Logger) *Processor {
	p := &Processor{
		dispatcher: d,
		guard:      guard,
		outbox:     outbox,
		hermes:     h,
		logger:     logger,
	}
	d.OnEmit(p.emit)
	return p
}

// Process handles one event. duplicate is true when the event id was
// already processed and nothing was done.
func (p *Processor) Process(ctx context.Context, ev dispatcher.Event) (in dispatcher.Instruction, duplicate bool, err error) {
	if p.guard != nil && ev.ID != "" {
		seen, err := p.guard.Seen(ctx, ev.ID)
		if err != nil {
			p.logger.Warn("dedup check failed", "event_id", ev.ID, "error", err)
		} else if seen {
			p.logger.Info("duplicate event dropped", "event_id", ev.ID, "owner", ev.OwnerID)
			return dispatcher.Instruction{}, true, nil
		}
	}

	in, err = p.dispatcher.Handle(ctx, ev)
	if err != nil {
		p.forget(ctx, ev.ID)
		return dispatcher.Instruction{}, false, err
	}
	return in, false, nil
}

// forget releases the dedup key of an event that was not applied, so the
// transport's redelivery is processed.
func (p *Processor) forget(ctx context.Context, id string) {
	if p.guard == nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forgetTimeout)
	defer cancel()
	if err := p.guard.Forget(ctx, id); err != nil {
		p.logger.Error("failed to release dedup key", "event_id", id, "error", err)
	}
}

// HandleInbound is the NATS handler for tenere.chat.inbound.
func (p *Processor) HandleInbound(subject string, data []byte) {
	var ev dispatcher.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		p.logger.Error("failed to parse inbound event", "subject", subject, "error", err)
		return
	}
	if ev.Channel == "" {
		ev.Channel = dispatcher.ChannelNATS
	}

	if _, _, err := p.Process(context.Background(), ev); err != nil {
		p.logger.Error("inbound event failed", "event_id", ev.ID, "owner", ev.OwnerID, "error", err)
	}
}

// emit runs while the owner's session is held.
func (p *Processor) emit(ctx context.Context, in dispatcher.Instruction) {
	if in.Kind == dispatcher.KindCommitted && in.Entry != nil && p.hermes != nil {
		if err := p.hermes.PublishCommitted(in.EventID, *in.Entry); err != nil {
			p.logger.Error("failed to publish committed entry", "entry_id", in.Entry.ID, "error", err)
		}
	}

	// API callers get the instruction in the HTTP response.
	if in.Channel == dispatcher.ChannelAPI || in.Channel == "" || p.outbox == nil {
		return
	}
	if err := p.outbox.Enqueue(ctx, in); err != nil {
		p.logger.Error("failed to queue reply", "owner", in.TargetOwnerID, "error", err)
	}
}

// NATSSink publishes instructions on tenere.chat.outbound for external
// chat gateways.
func NATSSink(pub Publisher) Sink {
	return func(_ context.Context, in dispatcher.Instruction) error {
		if err := pub.Publish(hermes.SubjectOutbound, in); err != nil {
			return fmt.Errorf("publish reply: %w", err)
		}
		return nil
	}
}
