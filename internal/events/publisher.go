// Package events publishes reservation lifecycle changes to Kafka for
// downstream consumers (dashboards, audit). Publishing is best-effort and
// asynchronous; the reservation path never blocks or fails on it.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	publishTimeout = 5 * time.Second
	queueDepth     = 256
)

type Event struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	TenantID      string    `json:"tenant_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	ResourceID    string    `json:"resource_id,omitempty"`
	SessionID     string    `json:"session_id"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	At            time.Time `json:"at"`
}

// messageWriter is the slice of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher ships events through a single writer goroutine fed by a bounded
// queue. When the broker is down the queue fills and further events are
// dropped with a log line, so a dead broker costs at most queueDepth pending
// messages and never piles up goroutines behind it.
type Publisher struct {
	writer messageWriter
	logger *log.Logger
	queue  chan kafka.Message
	done   chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewPublisher(brokers []string, topic string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // hash by slot key so per-slot events stay ordered
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger:  kafka.LoggerFunc(logger.Printf),
	}
	return newPublisher(writer, logger)
}

func newPublisher(writer messageWriter, logger *log.Logger) *Publisher {
	p := &Publisher{
		writer: writer,
		logger: logger,
		queue:  make(chan kafka.Message, queueDepth),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.logger.Printf("publish reservation event %s: %v", msg.Key, err)
		}
	}
}

// ReservationChanged implements app.LifecycleNotifier. Enqueueing never
// blocks: if the queue is full the event is dropped and logged.
func (p *Publisher) ReservationChanged(_ context.Context, r domain.Reservation, event string) {
	ev := Event{
		Type:          event,
		ReservationID: r.ID,
		TenantID:      r.Slot.TenantID,
		Date:          r.Slot.Date,
		Time:          r.Slot.Time,
		ResourceID:    r.Slot.ResourceID,
		SessionID:     r.SessionID,
		Status:        string(r.Status),
		ExpiresAt:     r.ExpiresAt,
		At:            r.UpdatedAt,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Printf("marshal reservation event: %v", err)
		return
	}

	if p.closed.Load() {
		return
	}
	select {
	case p.queue <- kafka.Message{Key: []byte(r.Slot.String()), Value: payload}:
	default:
		p.logger.Printf("drop reservation event %s for %s: publish queue full", event, r.ID)
	}
}

// Close stops accepting events, waits for the queued ones to drain and shuts
// the writer down.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.queue)
	})
	<-p.done
	return p.writer.Close()
}
