// Package kafka publishes session lifecycle notifications to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher wraps a Kafka writer. Messages carry their own topic so one
// writer serves every notification topic.
type Publisher struct {
	writer messageWriter
	seq    atomic.Uint64
}

// New creates a Publisher for the given brokers.
func New(brokers ...string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: false,
		},
	}
}

// NewWithWriter builds a Publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// Publish writes payload as JSON to topic. Payloads carrying a "session" field
// are keyed by it so one session's notifications stay ordered on a partition.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("kafka topic is required")
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   messageKey(payload),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return topic + "-" + strconv.FormatUint(p.seq.Add(1), 10), nil
}

func messageKey(payload any) []byte {
	switch v := payload.(type) {
	case map[string]any:
		if s, ok := v["session"].(string); ok && s != "" {
			return []byte(s)
		}
	case map[string]string:
		if s := v["session"]; s != "" {
			return []byte(s)
		}
	}
	return nil
}
