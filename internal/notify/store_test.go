// Package notify provides tests for notification persistence.
// These tests use sqlmock to mock database interactions.
package notify

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var notificationColumnNames = []string{
	"notification_id", "type", "title", "message", "channel", "priority", "recipient_id",
	"status", "data", "rule_id", "failure_reason", "scheduled_at", "expires_at", "retry_count",
	"created_at", "updated_at",
}

func sampleNotificationRow(id, recipient, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(notificationColumnNames).AddRow(
		id, "lead", "Lead score threshold reached", "Lead lead-42 reached a score of 85",
		"websocket", 10, recipient, status, `{"leadId":"lead-42"}`, "r-1", nil, nil, nil, 0, now, now,
	)
}

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	return NewStore(db), mock, func() { db.Close() }
}

func TestStore_Insert(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(1, 1))

	n := &Notification{
		ID:          "n-1",
		Type:        "lead",
		Title:       "t",
		Message:     "m",
		Channel:     "websocket",
		RecipientID: "u-1",
		Status:      StatusPending,
		Data:        map[string]interface{}{"leadId": "lead-42"},
		RuleID:      "r-1",
	}
	if err := store.Insert(context.Background(), n); err != nil {
		t.Errorf("Insert() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_Get(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs("n-1").
		WillReturnRows(sampleNotificationRow("n-1", "u-1", "pending"))

	n, err := store.Get(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if n.ID != "n-1" || n.Status != StatusPending || n.RuleID != "r-1" {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.Data["leadId"] != "lead-42" {
		t.Errorf("data not unmarshalled: %+v", n.Data)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs("n-missing").
		WillReturnRows(sqlmock.NewRows(notificationColumnNames))

	if _, err := store.Get(context.Background(), "n-missing"); err == nil {
		t.Error("Get() expected error for missing notification")
	}
}

func TestStore_ListForRecipient(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))
	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs("u-1", 50, 0).
		WillReturnRows(sampleNotificationRow("n-1", "u-1", "sent"))

	list, total, err := store.ListForRecipient(context.Background(), "u-1", ListFilter{})
	if err != nil {
		t.Fatalf("ListForRecipient() error: %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
	if len(list) != 1 || list[0].ID != "n-1" {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestStore_ListForRecipient_StatusFilter(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("u-1", "read").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs("u-1", "read", 10, 0).
		WillReturnRows(sampleNotificationRow("n-2", "u-1", "read"))

	list, total, err := store.ListForRecipient(context.Background(), "u-1", ListFilter{Status: StatusRead, Limit: 10})
	if err != nil {
		t.Fatalf("ListForRecipient() error: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("total = %d, len = %d, want 1/1", total, len(list))
	}
}

func TestStore_UnreadCount(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	count, err := store.UnreadCount(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("UnreadCount() error: %v", err)
	}
	if count != 4 {
		t.Errorf("UnreadCount() = %d, want 4", count)
	}
}

// TestStore_MarkRead_AlreadyRead verifies status monotonicity at the store
// boundary: marking an already-read row matches zero rows and is a no-op.
func TestStore_MarkRead_AlreadyRead(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectExec("UPDATE notifications").
		WithArgs("n-1", "read", "pending", "sent", "delivered").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.MarkRead(context.Background(), "n-1"); err != nil {
		t.Errorf("MarkRead() on already-read row should be a no-op, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestStore_MarkSent verifies the sent transition accepts exactly the
// states the model allows: pending for first delivery and failed for a
// successful retry, never a reset through pending.
func TestStore_MarkSent(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectExec("UPDATE notifications").
		WithArgs("n-1", "sent", "pending", "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkSent(context.Background(), "n-1"); err != nil {
		t.Errorf("MarkSent() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_MarkAllRead(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectExec("UPDATE notifications").
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := store.MarkAllRead(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("MarkAllRead() error: %v", err)
	}
	if affected != 3 {
		t.Errorf("MarkAllRead() affected = %d, want 3", affected)
	}
}

func TestStore_MarkFailed(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectExec("UPDATE notifications").
		WithArgs("n-1", "webhook returned 503").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkFailed(context.Background(), "n-1", "webhook returned 503"); err != nil {
		t.Errorf("MarkFailed() error: %v", err)
	}
}

func TestStore_ListRetryable(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(notificationColumnNames).AddRow(
		"n-1", "lead", "t", "m", "webhook", 10, "u-1", "failed",
		`{}`, "r-1", "webhook returned 503", nil, nil, 2, now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs(MaxRetries, 100).
		WillReturnRows(rows)

	list, err := store.ListRetryable(context.Background(), 100)
	if err != nil {
		t.Fatalf("ListRetryable() error: %v", err)
	}
	if len(list) != 1 || list[0].Status != StatusFailed {
		t.Fatalf("unexpected retryable list: %+v", list)
	}
	if list[0].FailureReason != "webhook returned 503" {
		t.Errorf("FailureReason = %q, want the recorded reason", list[0].FailureReason)
	}
	if !list[0].CanRetry() {
		t.Error("listed row not retryable")
	}
}

func TestStore_ListDue(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs(100).
		WillReturnRows(sampleNotificationRow("n-1", "u-1", "pending"))

	list, err := store.ListDue(context.Background(), 100)
	if err != nil {
		t.Fatalf("ListDue() error: %v", err)
	}
	if len(list) != 1 || list[0].Status != StatusPending {
		t.Errorf("unexpected due list: %+v", list)
	}
}

func TestStore_SweepExpired(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectExec("UPDATE notifications").
		WillReturnResult(sqlmock.NewResult(0, 5))

	swept, err := store.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired() error: %v", err)
	}
	if swept != 5 {
		t.Errorf("SweepExpired() = %d, want 5", swept)
	}
}
