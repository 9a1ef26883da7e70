// Package consumer provides Kafka consumer functionality for the CRM
// business events topic.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JamshedLatipov/crm-sub001/internal/events"
)

const (
	readTimeout    = 10 * time.Second
	commitInterval = 1 * time.Second
)

// Consumer wraps a Kafka reader and provides a simple interface for
// consuming CRM events.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers,
// topic, and group ID. The consumer is configured for at-least-once
// delivery semantics.
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupID cannot be empty")
	}

	brokerList := ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	// StartOffset only applies when no committed offset exists for the
	// consumer group. FirstOffset ensures all events are read when
	// starting fresh.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokerList,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        readTimeout,
		CommitInterval: commitInterval,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// ReadEvent reads the next message from Kafka and deserializes it as a
// CRMEvent. Returns the raw message alongside so callers can log offsets
// for events that fail to deserialize.
func (c *Consumer) ReadEvent(ctx context.Context) (*events.CRMEvent, *kafka.Message, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	var event events.CRMEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, &msg, fmt.Errorf("failed to unmarshal CRM event: %w", err)
	}

	return &event, &msg, nil
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	return nil
}

// ParseBrokers parses a comma-separated broker list and trims whitespace.
func ParseBrokers(brokers string) []string {
	if brokers == "" {
		return nil
	}
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}
	return brokerList
}
