// Package events publishes dataset row events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bartoncreek/pdf2dataset/internal/models"
)

// Publisher announces appended rows.
type Publisher interface {
	PublishRecord(ctx context.Context, ev models.RecordEvent) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used by Kafka.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON messages keyed by dataset path, so rows of one
// dataset stay ordered within a partition.
type Kafka struct {
	w MessageWriter
}

// New returns a Kafka publisher, or a no-op one when no brokers are configured.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafka(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	})
}

// NewKafka wraps an existing writer.
func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{w: w}
}

// PublishRecord writes ev to the topic.
func (k *Kafka) PublishRecord(ctx context.Context, ev models.RecordEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.DatasetPath),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "row", Value: []byte(fmt.Sprintf("%d", ev.Row))},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) PublishRecord(context.Context, models.RecordEvent) error { return nil }
func (Nop) Close() error                                            { return nil }

// DecodeRecord parses a message value produced by Kafka.PublishRecord.
func DecodeRecord(value []byte) (models.RecordEvent, error) {
	var ev models.RecordEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return models.RecordEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
