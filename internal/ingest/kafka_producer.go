// Package ingest carries document change events over Kafka so trigger
// handlers can run in a separate consumer process.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements storage.ChangeSink. Messages are keyed by
// collection/docId so changes to one document keep their order.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaPublisher) Publish(ctx context.Context, c models.Change) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change %s: %w", c.EventID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(messageKey(c)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "eventId", Value: []byte(c.EventID)},
			{Key: "kind", Value: []byte(c.Kind)},
		},
	})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func messageKey(c models.Change) string { return c.Collection + "/" + c.DocID }

// DecodeChange parses a message written by KafkaPublisher.
func DecodeChange(m kafka.Message) (models.Change, error) {
	var c models.Change
	if err := json.Unmarshal(m.Value, &c); err != nil {
		return models.Change{}, fmt.Errorf("decode change at offset %d: %w", m.Offset, err)
	}
	if c.Collection == "" || c.DocID == "" || c.Kind == "" {
		return models.Change{}, fmt.Errorf("decode change at offset %d: missing collection, docId or kind", m.Offset)
	}
	return c, nil
}
