package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/kafka-go"

	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
)

const (
	queueSize    = 1024
	maxBatch     = 100
	writeTimeout = 10 * time.Second
)

var (
	errQueueFull = errors.New("kafka publisher queue is full")
	errClosed    = errors.New("kafka publisher is closed")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes each notification as JSON to the topic it names. Messages
// are keyed by task instance so one task's events stay ordered. Publish only
// queues; a single goroutine talks to the brokers and logs failed writes.
type Publisher struct {
	writer messageWriter
	logger *log.Logger
	queue  chan kafka.Message
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, logger *log.Logger) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}, logger, queueSize)
}

func newPublisher(w messageWriter, logger *log.Logger, size int) *Publisher {
	p := &Publisher{
		writer: w,
		logger: logger,
		queue:  make(chan kafka.Message, size),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(messageKey(event)),
		Value: data,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return errQueueFull
	}
}

// Close stops accepting events, writes what is queued and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.writer.Close()
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		batch := []kafka.Message{msg}
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		p.write(batch)
	}
}

func (p *Publisher) write(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := p.writer.WriteMessages(ctx, batch...)
	if err == nil || p.logger == nil {
		return
	}
	for _, m := range batch {
		p.logger.Warn("notification dropped", "topic", m.Topic, "key", string(m.Key), "err", err)
	}
}

type keyed interface {
	Key() string
}

func messageKey(event any) string {
	if k, ok := event.(keyed); ok {
		return k.Key()
	}
	return ""
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
