// Package sched runs the periodic maintenance passes over the notification
// store: dispatching due notifications, retrying failed deliveries, and
// expiring stale rows.
package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/JamshedLatipov/crm-sub001/internal/notify"
)

// dispatchBatchSize caps how many rows one sweep pass pulls per query.
const dispatchBatchSize = 200

// DispatchStore is the persistence slice the sweeper needs.
type DispatchStore interface {
	ListDue(ctx context.Context, limit int) ([]*notify.Notification, error)
	ListRetryable(ctx context.Context, limit int) ([]*notify.Notification, error)
	MarkSent(ctx context.Context, notificationID string) error
	MarkFailed(ctx context.Context, notificationID, reason string) error
	SweepExpired(ctx context.Context) (int64, error)
}

// SocketDeliverer pushes a notification to the recipient's live sessions.
type SocketDeliverer interface {
	SendNotificationToUser(ctx context.Context, n *notify.Notification) (bool, error)
}

// ChannelSender delivers a notification over an external channel, such as
// a webhook endpoint.
type ChannelSender interface {
	Send(ctx context.Context, n *notify.Notification) error
}

// Sweeper periodically drains due notifications and maintains the store.
type Sweeper struct {
	store    DispatchStore
	sockets  SocketDeliverer
	webhooks ChannelSender
	interval time.Duration
}

// NewSweeper creates a sweeper. The webhook sender may be nil when no
// webhook channel is configured; webhook notifications then fail with a
// configuration reason instead of sitting pending forever.
func NewSweeper(store DispatchStore, sockets SocketDeliverer, webhooks ChannelSender, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		sockets:  sockets,
		webhooks: webhooks,
		interval: interval,
	}
}

// Start runs the sweep loop in a background goroutine until ctx is
// cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("Starting notification sweeper", "interval", s.interval)
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Notification sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance pass. Each stage is independent;
// a failure in one never blocks the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if swept, err := s.store.SweepExpired(ctx); err != nil {
		slog.Error("Failed to sweep expired notifications", "error", err)
	} else if swept > 0 {
		slog.Info("Expired notifications swept", "count", swept)
	}

	s.retryFailed(ctx)
	s.dispatchDue(ctx)
}

// retryFailed runs another delivery attempt for each retryable failed
// notification. The row never leaves failed except forward: a successful
// attempt marks it sent, another failure increments retry_count through
// MarkFailed until the cap drops it out of ListRetryable.
func (s *Sweeper) retryFailed(ctx context.Context) {
	retryable, err := s.store.ListRetryable(ctx, dispatchBatchSize)
	if err != nil {
		slog.Error("Failed to list retryable notifications", "error", err)
		return
	}
	for _, n := range retryable {
		if !n.CanRetry() {
			continue
		}
		slog.Info("Retrying failed notification",
			"notification_id", n.ID,
			"retry_count", n.RetryCount,
		)
		s.dispatch(ctx, n)
	}
}

// dispatchDue delivers every due pending notification over its channel.
func (s *Sweeper) dispatchDue(ctx context.Context) {
	due, err := s.store.ListDue(ctx, dispatchBatchSize)
	if err != nil {
		slog.Error("Failed to list due notifications", "error", err)
		return
	}
	for _, n := range due {
		s.dispatch(ctx, n)
	}
}

// dispatch runs one delivery attempt over the notification's channel.
// Transient socket failures and offline recipients leave the row in its
// current status for a later pass; channel failures go through MarkFailed.
func (s *Sweeper) dispatch(ctx context.Context, n *notify.Notification) {
	switch n.Channel {
	case "websocket":
		delivered, err := s.sockets.SendNotificationToUser(ctx, n)
		if err != nil {
			slog.Warn("Socket delivery failed",
				"notification_id", n.ID,
				"error", err,
			)
			return
		}
		if !delivered {
			// Recipient offline: try again on a later pass.
			return
		}
		s.markSent(ctx, n.ID)
	case "webhook":
		if s.webhooks == nil {
			s.markFailed(ctx, n.ID, "no webhook sender configured")
			return
		}
		if err := s.webhooks.Send(ctx, n); err != nil {
			slog.Warn("Webhook delivery failed",
				"notification_id", n.ID,
				"error", err,
			)
			s.markFailed(ctx, n.ID, err.Error())
			return
		}
		s.markSent(ctx, n.ID)
	default:
		s.markFailed(ctx, n.ID, "unsupported channel: "+n.Channel)
	}
}

func (s *Sweeper) markSent(ctx context.Context, notificationID string) {
	if err := s.store.MarkSent(ctx, notificationID); err != nil {
		slog.Warn("Failed to mark notification sent",
			"notification_id", notificationID,
			"error", err,
		)
	}
}

func (s *Sweeper) markFailed(ctx context.Context, notificationID, reason string) {
	if err := s.store.MarkFailed(ctx, notificationID, reason); err != nil {
		slog.Warn("Failed to mark notification failed",
			"notification_id", notificationID,
			"error", err,
		)
	}
}
