// Package kafka mirrors order domain events onto a Kafka topic for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the mirror needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a writer keyed by hash so events of one order stay ordered on a partition.
func NewWriter(brokers []string, topic string) (*kafka.Writer, error) {
	cleaned := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cleaned...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, nil
}

// Mirror writes JSON encoded events keyed by aggregate id.
type Mirror struct {
	writer MessageWriter
	clock  func() time.Time
}

// NewMirror wraps writer.
func NewMirror(writer MessageWriter) (*Mirror, error) {
	if writer == nil {
		return nil, errors.New("kafka: writer is required")
	}
	return &Mirror{writer: writer, clock: time.Now}, nil
}

// Publish writes one event. The event type travels in the "event-type" header.
func (m *Mirror) Publish(ctx context.Context, key, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", eventType, err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  m.clock().UTC(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}
	if err := m.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", eventType, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (m *Mirror) Close() error {
	return m.writer.Close()
}
