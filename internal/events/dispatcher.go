package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/courtpulse/bookingsync/internal/store"
)

// Outbox is the store surface the dispatcher drains.
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]store.OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// Dispatcher moves committed outbox entries to NATS. Publish failures
// are retried with backoff; the entry stays in the outbox until acked.
type Dispatcher struct {
	publisher *Publisher
	outbox    Outbox
	logger    *slog.Logger
}

// NewDispatcher creates an outbox dispatcher.
func NewDispatcher(publisher *Publisher, outbox Outbox, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, outbox: outbox, logger: logger}
}

// Run drains the outbox until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := d.outbox.DequeueOutbox(ctx, 100)
		if err != nil {
			d.logger.Error("failed to dequeue outbox", "error", err)
			time.Sleep(time.Second)
			continue
		}

		if len(messages) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, msg := range messages {
			if err := d.publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				d.logger.Error("failed to publish event", "outbox_id", msg.ID, "error", err)
				_ = d.outbox.MarkOutboxRetry(ctx, msg.ID, 10*time.Second)
				continue
			}

			if err := d.outbox.MarkPublished(ctx, msg.ID); err != nil {
				d.logger.Error("failed to mark event published", "outbox_id", msg.ID, "error", err)
			}
		}
	}
}
