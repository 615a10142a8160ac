// Package events publishes alert lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tripguard/internal/alert"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events keyed by alert ID so a single alert's history
// stays ordered within one partition.
type Publisher struct {
	w messageWriter
}

// NewPublisher returns an asynchronous publisher for topic. Delivery
// failures surface through logger rather than the caller.
func NewPublisher(brokers []string, topic string, logger log.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error(context.Background(), err, "kafka event delivery failed", "topic", topic, "messages", len(msgs))
			}
		},
	}
	return &Publisher{w: w}
}

// Publish enqueues e.
func (p *Publisher) Publish(ctx context.Context, e alert.Event) error {
	msg, err := buildMessage(e)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func buildMessage(e alert.Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.AlertID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}, nil
}

var _ alert.EventPublisher = (*Publisher)(nil)
