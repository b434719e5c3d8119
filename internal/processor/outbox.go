package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
)

const (
	DefaultShards = 8
	DefaultDepth  = 256

	sendTimeout  = 15 * time.Second
	sendAttempts = 3
)

// Sink delivers one instruction to a chat transport.
type Sink func(ctx context.Context, in dispatcher.Instruction) error

// Outbox delivers instructions in the background. Instructions for one
// owner always land on the same shard and are sent one after another, so
// replies keep the order the dispatcher produced them in.
type Outbox struct {
	shards  []chan dispatcher.Instruction
	sinks   map[string]Sink
	backoff time.Duration
	logger  *slog.Logger
}

func NewOutbox(shards, depth int, logger *slog.Logger) *Outbox {
	if shards <= 0 {
		shards = DefaultShards
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	o := &Outbox{
		shards:  make([]chan dispatcher.Instruction, shards),
		sinks:   make(map[string]Sink),
		backoff: 500 * time.Millisecond,
		logger:  logger,
	}
	for i := range o.shards {
		o.shards[i] = make(chan dispatcher.Instruction, depth)
	}
	return o
}

// Route registers the sink for a channel. It must be called before Run.
func (o *Outbox) Route(channel string, s Sink) {
	o.sinks[channel] = s
}

// Enqueue queues in for delivery. It blocks while the owner's shard is
// full.
func (o *Outbox) Enqueue(ctx context.Context, in dispatcher.Instruction) error {
	shard := o.shards[xxhash.Sum64String(in.TargetOwnerID)%uint64(len(o.shards))]
	select {
	case shard <- in:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue reply for %s: %w", in.TargetOwnerID, ctx.Err())
	}
}

// Run delivers queued instructions until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, shard := range o.shards {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					if n := len(shard); n > 0 {
						o.logger.Warn("outbox stopped with undelivered replies", "shard", i, "pending", n)
					}
					return nil
				case in := <-shard:
					o.deliver(ctx, in)
				}
			}
		})
	}
	return g.Wait()
}

func (o *Outbox) deliver(ctx context.Context, in dispatcher.Instruction) {
	sink, ok := o.sinks[in.Channel]
	if !ok {
		o.logger.Warn("no sink for channel, reply dropped", "channel", in.Channel, "owner", in.TargetOwnerID)
		return
	}

	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = sink(sendCtx, in)
		cancel()
		if err == nil {
			return
		}
		o.logger.Warn("reply delivery failed",
			"channel", in.Channel,
			"owner", in.TargetOwnerID,
			"event_id", in.EventID,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.backoff * time.Duration(attempt)):
		}
	}
	o.logger.Error("reply dropped after retries", "owner", in.TargetOwnerID, "event_id", in.EventID, "error", err)
}
