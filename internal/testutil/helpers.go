// Package testutil provides fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Published is one recorded notification.
type Published struct {
	Topic string
	Event any
}

// Publisher records every notification it is handed.
type Publisher struct {
	mu     sync.Mutex
	events []Published
	Err    error // returned from every Publish when set
}

func (p *Publisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Published{Topic: topic, Event: event})
	return p.Err
}

func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.events...)
}

// Topics returns the topic of every recorded event in order.
func (p *Publisher) Topics() []string {
	var out []string
	for _, e := range p.Events() {
		out = append(out, e.Topic)
	}
	return out
}
