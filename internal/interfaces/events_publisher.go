package interfaces

import (
	"context"
	"time"
)

// EventPublisher delivers notifications. Callers fire after commit and do
// not wait on delivery for correctness.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// Clock is the current-time source.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
