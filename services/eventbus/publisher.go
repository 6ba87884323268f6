package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"peerescrow/core/events"
	"peerescrow/core/types"
)

const (
	defaultBuffer       = 256
	defaultBatchSize    = 64
	defaultWriteTimeout = 10 * time.Second
)

// Message is the JSON payload published for every escrow event.
type Message struct {
	Type       string            `json:"type"`
	OrderID    string            `json:"orderId,omitempty"`
	Seller     string            `json:"seller,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  time.Time         `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards committed escrow events to a Kafka topic. Messages are
// keyed by seller and order id so one order's events stay on one partition.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time

	queue   chan *types.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewPublisher builds a publisher writing to the given brokers and topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("eventbus: at least one broker required")
	}
	if topic == "" {
		return nil, errors.New("eventbus: topic required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newPublisher(writer, logger), nil
}

func newPublisher(writer messageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		writer: writer,
		logger: logger,
		now:    time.Now,
		queue:  make(chan *types.Event, defaultBuffer),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Emit implements events.Emitter. It never blocks; events are dropped when
// the queue is full.
func (p *Publisher) Emit(evt events.Event) {
	materialized := events.Materialize(evt)
	if materialized == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- materialized:
	default:
		p.dropped.Add(1)
		p.logger.Warn("eventbus: queue full, dropping event", "type", materialized.Type)
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	batch := make([]*types.Event, 0, defaultBatchSize)
	for evt := range p.queue {
		batch = append(batch[:0], evt)
	drain:
		for len(batch) < defaultBatchSize {
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
		if err := p.publish(batch); err != nil {
			p.failed.Add(uint64(len(batch)))
			p.logger.Error("eventbus: publish failed", "count", len(batch), "error", err)
		}
	}
}

func (p *Publisher) publish(batch []*types.Event) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, evt := range batch {
		msg, err := p.encode(evt)
		if err != nil {
			p.logger.Warn("eventbus: encode event failed", "type", evt.Type, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	return nil
}

func (p *Publisher) encode(evt *types.Event) (kafka.Message, error) {
	now := p.now().UTC()
	payload := Message{
		Type:       evt.Type,
		OrderID:    evt.Attributes["orderId"],
		Seller:     evt.Attributes["seller"],
		Attributes: evt.Attributes,
		Timestamp:  now,
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, err
	}
	key := evt.Type
	if payload.OrderID != "" {
		key = payload.Seller + "/" + payload.OrderID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	}, nil
}

// Stats reports dropped and failed message counts.
func (p *Publisher) Stats() (dropped, failed uint64) {
	return p.dropped.Load(), p.failed.Load()
}

// Close flushes queued events and closes the underlying writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
	return p.writer.Close()
}
