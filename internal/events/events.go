// Package events publishes batch outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JonMunkholm/letters/internal/core"
)

// DefaultTopic receives batch outcome events when none is configured.
const DefaultTopic = "letters.batch.finished"

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per batch, keyed by batch id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

var _ core.BatchNotifier = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
	}
}

// Topic returns the destination topic.
func (p *KafkaPublisher) Topic() string { return p.topic }

// Notify publishes s.
func (p *KafkaPublisher) Notify(ctx context.Context, s core.BatchSummary) error {
	value, err := Encode(s)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.ID),
		Value: value,
		Time:  s.FinishedAt,
	}); err != nil {
		return fmt.Errorf("write batch event to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode renders the event payload for s.
func Encode(s core.BatchSummary) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode batch event: %w", err)
	}
	return b, nil
}

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Notify(context.Context, core.BatchSummary) error { return nil }

func (Nop) Close() error { return nil }
