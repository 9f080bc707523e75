package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
	topic  string
}

// Event is one keyed message; Value is JSON encoded.
type Event struct {
	Key     string
	Value   any
	Headers map[string]string
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		topic: topic,
	}
}

// NewProducerWithWriter wraps an existing writer. Primarily useful for testing.
func NewProducerWithWriter(writer MessageWriter, topic string) *Producer {
	return &Producer{writer: writer, topic: topic}
}

// PublishEvents writes all events in one batch. The hash balancer keeps every
// key on the same partition, so compaction retains one message per key.
func (p *Producer) PublishEvents(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event.Value)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.Key, err)
		}

		msg := kafka.Message{
			Key:   []byte(event.Key),
			Value: payload,
		}
		for k, v := range event.Headers {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write %d messages: %w", len(msgs), err)
	}
	return nil
}

func (p *Producer) Topic() string {
	return p.topic
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
