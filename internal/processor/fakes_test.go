package processor

import (
	"context"
	"errors"

	"github.com/JamshedLatipov/crm-sub001/internal/notify"
	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

// FakeEvaluator returns a canned evaluation result.
type FakeEvaluator struct {
	Fired []rules.FiredRule
	Err   error
	Calls int
}

func (f *FakeEvaluator) Evaluate(_ context.Context, _ string, _ rules.EvaluationContext) ([]rules.FiredRule, error) {
	f.Calls++
	return f.Fired, f.Err
}

// FakeWriter records inserted notifications and sent acknowledgements.
type FakeWriter struct {
	Inserted  []*notify.Notification
	Sent      []string
	InsertErr error
}

func (f *FakeWriter) Insert(_ context.Context, n *notify.Notification) error {
	if f.InsertErr != nil {
		return f.InsertErr
	}
	f.Inserted = append(f.Inserted, n)
	return nil
}

func (f *FakeWriter) MarkSent(_ context.Context, notificationID string) error {
	f.Sent = append(f.Sent, notificationID)
	return nil
}

// FakeDeliverer records delivery attempts.
type FakeDeliverer struct {
	Delivered []*notify.Notification
	Offline   bool
	Err       error
}

func (f *FakeDeliverer) SendNotificationToUser(_ context.Context, n *notify.Notification) (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	if f.Offline {
		return false, nil
	}
	f.Delivered = append(f.Delivered, n)
	return true, nil
}

var errUnavailable = errors.New("unavailable")
