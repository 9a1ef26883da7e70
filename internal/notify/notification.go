// Package notify provides the notification model, its lifecycle state
// machine, message templating, and persistence.
package notify

import (
	"fmt"
	"time"
)

// Status is a notification's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// MaxRetries caps retry attempts for failed notifications.
const MaxRetries = 3

// statusRank orders the forward progression of the lifecycle. Transitions
// may only move to a strictly higher rank; failed and expired sit outside
// the progression and are handled explicitly.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a notification may move from one status to
// another. The progression pending -> sent -> delivered -> read is
// monotonic; any pre-read state may move to failed; failed never moves back
// to pending (each retry is a fresh delivery attempt of the failed row,
// counted via retry_count, and a successful one moves the row forward to
// sent); any non-terminal state may expire.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusFailed:
		return from == StatusPending || from == StatusSent || from == StatusDelivered
	case StatusExpired:
		return from != StatusRead && from != StatusExpired
	}
	if from == StatusFailed {
		return to == StatusSent
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Notification represents one channel-specific notification for one recipient.
type Notification struct {
	ID            string                 `json:"notification_id"`
	Type          string                 `json:"type"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	Channel       string                 `json:"channel"`
	Priority      int                    `json:"priority"`
	RecipientID   string                 `json:"recipient_id"`
	Status        Status                 `json:"status"`
	Data          map[string]interface{} `json:"data,omitempty"`
	RuleID        string                 `json:"rule_id,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	ScheduledAt   *time.Time             `json:"scheduled_at,omitempty"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// CanRetry reports whether a failed notification is eligible for another
// delivery attempt.
func (n *Notification) CanRetry() bool {
	return n.Status == StatusFailed && n.RetryCount < MaxRetries
}

// Due reports whether the notification may be delivered at the given
// instant: not scheduled for the future and not past its expiry.
func (n *Notification) Due(now time.Time) bool {
	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		return false
	}
	return !n.Expired(now)
}

// Expired reports whether the notification is past its expiry time.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// Transition validates and applies a status change in memory.
func (n *Notification) Transition(to Status) error {
	if !CanTransition(n.Status, to) {
		return fmt.Errorf("invalid notification transition: %s -> %s", n.Status, to)
	}
	n.Status = to
	return nil
}
