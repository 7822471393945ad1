// Package events buffers notifications raised inside a store transaction
// and hands them to a publisher once the transaction has committed.
package events

import (
	"context"

	"github.com/charmbracelet/log"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
)

type pending struct {
	topic string
	event any
}

// Outbox collects events for one operation. Build a fresh one per
// operation and Flush it only after WithTx returned nil.
type Outbox struct {
	items []pending
}

func (o *Outbox) Add(topic string, event any) {
	o.items = append(o.items, pending{topic: topic, event: event})
}

func (o *Outbox) Len() int { return len(o.items) }

// Flush publishes every buffered event. Delivery is fire-and-forget:
// failures are logged and never returned.
func (o *Outbox) Flush(ctx context.Context, pub interfaces.EventPublisher, logger *log.Logger) {
	if pub == nil {
		o.items = nil
		return
	}
	for _, it := range o.items {
		if err := pub.Publish(ctx, it.topic, it.event); err != nil && logger != nil {
			logger.Warn("notification dropped", "topic", it.topic, "err", err)
		}
	}
	o.items = nil
}

// LogPublisher writes notifications to the log. It is the publisher used
// when no broker is configured.
type LogPublisher struct {
	Logger *log.Logger
}

func (p LogPublisher) Publish(_ context.Context, topic string, event any) error {
	if p.Logger != nil {
		p.Logger.Info("notification", "topic", topic, "event", event)
	}
	return nil
}

var _ interfaces.EventPublisher = LogPublisher{}
