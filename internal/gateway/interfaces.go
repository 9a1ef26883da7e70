// Package gateway delivers notifications to connected users over WebSocket
// and exposes the session-facing notification API.
package gateway

import (
	"context"

	"github.com/JamshedLatipov/crm-sub001/internal/fanout"
	"github.com/JamshedLatipov/crm-sub001/internal/notify"
)

// NotificationStore is the slice of notification persistence the gateway
// needs for session reads and delivery acknowledgements.
type NotificationStore interface {
	ListForRecipient(ctx context.Context, recipientID string, filter notify.ListFilter) ([]*notify.Notification, int64, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, notificationID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	MarkDelivered(ctx context.Context, notificationID string) error
}

// SessionDirectory is the cross-process view of who is online.
type SessionDirectory interface {
	Register(ctx context.Context, userID, sessionHandle, ownerProcess string) error
	Unregister(ctx context.Context, userID, sessionHandle string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Touch(ctx context.Context, userID string) error
}

// Publisher sends delivery messages to every notifier process.
type Publisher interface {
	Publish(ctx context.Context, msg fanout.Message) error
}
