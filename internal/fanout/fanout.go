// Package fanout carries delivery messages between notifier processes.
// Every process subscribed to the bus receives every published message and
// decides locally which of its own sessions the message concerns.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Message types understood by delivery gateways.
const (
	TypeNotification = "notification"
	TypeUnreadCount  = "unread_count"
	TypeBroadcast    = "broadcast"
)

// Message is the envelope published on the bus. UserID targets a single
// recipient, UserIDs targets a broadcast subset; exactly one of the two is
// set depending on Type.
type Message struct {
	Type    string          `json:"type"`
	UserID  string          `json:"userId,omitempty"`
	UserIDs []string        `json:"userIds,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Handler consumes one bus message. Handlers must not block for long;
// the subscriber processes messages sequentially.
type Handler func(ctx context.Context, msg Message)

// Bus publishes and subscribes delivery messages across processes.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe delivers messages to handler until ctx is cancelled.
	// It blocks; run it on its own goroutine.
	Subscribe(ctx context.Context, handler Handler) error
}

// RedisBus implements Bus on a Redis pub/sub channel.
type RedisBus struct {
	redis   *redis.Client
	channel string
}

// NewRedisBus creates a bus over the given Redis client and channel name.
func NewRedisBus(redisClient *redis.Client, channel string) (*RedisBus, error) {
	if redisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if channel == "" {
		return nil, errors.New("fanout channel cannot be empty")
	}
	return &RedisBus{redis: redisClient, channel: channel}, nil
}

// Publish sends one message to every subscribed process.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal fanout message: %w", err)
	}
	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish fanout message: %w", err)
	}
	return nil
}

// Subscribe reads messages from the channel and hands them to handler.
// Malformed messages are logged and skipped so one bad publisher cannot
// stall delivery for everyone.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Fail fast if the subscription itself cannot be established.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to fanout channel %s: %w", b.channel, err)
	}

	slog.Info("Subscribed to fanout channel", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return fmt.Errorf("fanout subscription to %s closed", b.channel)
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				slog.Warn("Skipping malformed fanout message",
					"channel", b.channel,
					"error", err,
				)
				continue
			}
			handler(ctx, msg)
		}
	}
}
