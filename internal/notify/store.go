package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// ListFilter narrows notification listings for a recipient.
type ListFilter struct {
	Status     Status
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Store wraps a database connection and provides notification operations.
// Every read that feeds delivery or the user-facing list is expiry-aware:
// a row past its expires_at is invisible regardless of status.
type Store struct {
	conn *sql.DB
}

// NewStore creates a new notification store over an existing connection.
// The connection is shared with the rule store; the caller owns its lifecycle.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

const notificationColumns = `notification_id, type, title, message, channel, priority, recipient_id,
		status, data, rule_id, failure_reason, scheduled_at, expires_at, retry_count, created_at, updated_at`

// notVisibleExpired excludes rows past their expiry from delivery and reads.
const notExpiredClause = `(expires_at IS NULL OR expires_at > NOW())`

// unreadStatuses are the statuses counted as unread for a recipient.
const unreadStatuses = `('pending', 'sent', 'delivered')`

// Insert persists a new notification row.
func (s *Store) Insert(ctx context.Context, n *Notification) error {
	dataJSON, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal notification data: %w", err)
	}

	query := `
		INSERT INTO notifications
			(notification_id, type, title, message, channel, priority, recipient_id,
			 status, data, rule_id, scheduled_at, expires_at, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`
	_, err = s.conn.ExecContext(ctx, query,
		n.ID, n.Type, n.Title, n.Message, n.Channel, n.Priority, n.RecipientID,
		string(n.Status), string(dataJSON), nullIfEmpty(n.RuleID), n.ScheduledAt, n.ExpiresAt, n.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// Get retrieves a notification by ID.
func (s *Store) Get(ctx context.Context, notificationID string) (*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE notification_id = $1
	`
	n, err := scanNotification(s.conn.QueryRowContext(ctx, query, notificationID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification not found: %s", notificationID)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ListForRecipient retrieves a page of visible notifications for a recipient
// plus the total count matching the filter.
func (s *Store) ListForRecipient(ctx context.Context, recipientID string, filter ListFilter) ([]*Notification, int64, error) {
	where := `recipient_id = $1 AND ` + notExpiredClause
	args := []interface{}{recipientID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	} else if filter.UnreadOnly {
		where += ` AND status IN ` + unreadStatuses
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM notifications WHERE ` + where
	if err := s.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE ` + where + `
		ORDER BY created_at DESC
	` + fmt.Sprintf("LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var list []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, n)
	}
	return list, total, rows.Err()
}

// UnreadCount returns the number of visible unread notifications for a recipient.
func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND status IN ` + unreadStatuses + ` AND ` + notExpiredClause
	var count int64
	if err := s.conn.QueryRowContext(ctx, query, recipientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkSent moves a notification to sent: from pending on first delivery,
// or from failed when a retry attempt succeeds.
func (s *Store) MarkSent(ctx context.Context, notificationID string) error {
	return s.advance(ctx, notificationID, StatusSent, []Status{StatusPending, StatusFailed})
}

// MarkDelivered moves a pending or sent notification to delivered.
func (s *Store) MarkDelivered(ctx context.Context, notificationID string) error {
	return s.advance(ctx, notificationID, StatusDelivered, []Status{StatusPending, StatusSent})
}

// MarkRead moves a notification to read. Marking an already-read row again
// is a no-op; the transition guard in the WHERE clause makes regressions
// impossible rather than merely unlikely.
func (s *Store) MarkRead(ctx context.Context, notificationID string) error {
	return s.advance(ctx, notificationID, StatusRead, []Status{StatusPending, StatusSent, StatusDelivered})
}

// MarkAllRead marks every visible unread notification for a recipient as
// read and returns the number of rows affected.
func (s *Store) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'read', updated_at = NOW()
		WHERE recipient_id = $1 AND status IN `+unreadStatuses+` AND `+notExpiredClause,
		recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check mark-all-read result: %w", err)
	}
	return affected, nil
}

// MarkFailed records a channel delivery failure, incrementing retry_count.
// A read notification cannot fail.
func (s *Store) MarkFailed(ctx context.Context, notificationID, reason string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'failed', failure_reason = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE notification_id = $1 AND status IN ('pending', 'sent', 'delivered', 'failed')
	`, notificationID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// ListDue returns pending notifications whose scheduled time has passed,
// oldest first, for the dispatch sweep.
func (s *Store) ListDue(ctx context.Context, limit int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending'
		  AND (scheduled_at IS NULL OR scheduled_at <= NOW())
		  AND ` + notExpiredClause + `
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	defer rows.Close()

	var list []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// ListRetryable returns failed notifications still under the retry cap.
func (s *Store) ListRetryable(ctx context.Context, limit int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'failed' AND retry_count < $1 AND ` + notExpiredClause + `
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := s.conn.QueryContext(ctx, query, MaxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable notifications: %w", err)
	}
	defer rows.Close()

	var list []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// SweepExpired marks rows past their expiry as expired and returns the
// number swept. Idempotent: already-expired and read rows are untouched.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'expired', updated_at = NOW()
		WHERE expires_at IS NOT NULL AND expires_at <= NOW()
		  AND status NOT IN ('read', 'expired')
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired notifications: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check sweep result: %w", err)
	}
	return affected, nil
}

// advance performs a guarded monotonic status transition. Zero rows
// affected means the row was missing, expired, or already at or past
// the target state; none of those is an error.
func (s *Store) advance(ctx context.Context, notificationID string, to Status, from []Status) error {
	placeholders := ""
	args := []interface{}{notificationID, string(to)}
	for i, st := range from {
		if i > 0 {
			placeholders += ", "
		}
		args = append(args, string(st))
		placeholders += fmt.Sprintf("$%d", len(args))
	}

	query := `
		UPDATE notifications
		SET status = $2, updated_at = NOW()
		WHERE notification_id = $1 AND status IN (` + placeholders + `) AND ` + notExpiredClause
	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to advance notification to %s: %w", to, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}
	if affected == 0 {
		slog.Debug("Notification transition skipped",
			"notification_id", notificationID,
			"target_status", string(to),
		)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanNotification.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var status string
	var dataJSON, ruleID, failureReason sql.NullString
	var scheduledAt, expiresAt sql.NullTime

	err := row.Scan(
		&n.ID, &n.Type, &n.Title, &n.Message, &n.Channel, &n.Priority, &n.RecipientID,
		&status, &dataJSON, &ruleID, &failureReason, &scheduledAt, &expiresAt, &n.RetryCount,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}

	n.Status = Status(status)
	n.RuleID = ruleID.String
	n.FailureReason = failureReason.String
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &n.Data); err != nil {
			slog.Warn("Failed to unmarshal notification data",
				"notification_id", n.ID,
				"error", err,
			)
			n.Data = map[string]interface{}{}
		}
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		n.ScheduledAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		n.ExpiresAt = &t
	}
	return &n, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
