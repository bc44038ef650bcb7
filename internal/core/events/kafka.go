package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// KafkaForwarder copies bus events onto a Kafka topic for audit consumers.
type KafkaForwarder struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewKafkaForwarder(writer MessageWriter, logger *slog.Logger) *KafkaForwarder {
	return &KafkaForwarder{writer: writer, logger: logger}
}

// Register subscribes the forwarder to the given event types.
func (f *KafkaForwarder) Register(bus *EventBus, types ...string) {
	for _, t := range types {
		bus.Subscribe(t, f.Forward)
	}
}

// Forward writes one event keyed by its payment id so per-payment order holds
// within a partition.
func (f *KafkaForwarder) Forward(ctx context.Context, event Event) error {
	value, err := json.Marshal(envelope{
		ID:         event.EventID(),
		Type:       event.EventType(),
		OccurredAt: event.OccurredAt(),
		Data:       event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID(), err)
	}

	msg := kafka.Message{
		Key:   []byte(partitionKey(event)),
		Value: value,
		Time:  event.OccurredAt(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
		},
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("forward event %s: %w", event.EventID(), err)
	}

	f.logger.Debug("event forwarded", "event_type", event.EventType(), "event_id", event.EventID())
	return nil
}

func partitionKey(event Event) string {
	if data, ok := event.Payload().(map[string]interface{}); ok {
		if id, ok := data["payment_id"].(string); ok && id != "" {
			return id
		}
	}
	return event.EventID()
}
