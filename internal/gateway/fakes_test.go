package gateway

import (
	"context"
	"errors"

	"github.com/JamshedLatipov/crm-sub001/internal/fanout"
	"github.com/JamshedLatipov/crm-sub001/internal/notify"
)

// FakeStore records notification store calls.
type FakeStore struct {
	UnreadCounts  map[string]int64
	UnreadErr     error
	List          []*notify.Notification
	LastFilter    notify.ListFilter
	Delivered     []string
	ReadIDs       []string
	ReadAllUsers  []string
	ReadAllResult int64
}

func NewFakeStore() *FakeStore {
	return &FakeStore{UnreadCounts: map[string]int64{}}
}

func (f *FakeStore) ListForRecipient(_ context.Context, _ string, filter notify.ListFilter) ([]*notify.Notification, int64, error) {
	f.LastFilter = filter
	return f.List, int64(len(f.List)), nil
}

func (f *FakeStore) UnreadCount(_ context.Context, recipientID string) (int64, error) {
	if f.UnreadErr != nil {
		return 0, f.UnreadErr
	}
	return f.UnreadCounts[recipientID], nil
}

func (f *FakeStore) MarkRead(_ context.Context, notificationID string) error {
	f.ReadIDs = append(f.ReadIDs, notificationID)
	return nil
}

func (f *FakeStore) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	f.ReadAllUsers = append(f.ReadAllUsers, recipientID)
	return f.ReadAllResult, nil
}

func (f *FakeStore) MarkDelivered(_ context.Context, notificationID string) error {
	f.Delivered = append(f.Delivered, notificationID)
	return nil
}

// FakeDirectory is an in-memory session directory.
type FakeDirectory struct {
	Online      map[string]bool
	Failing     bool
	Registered  map[string]string
	Unregisters []string
	Touched     []string
}

func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{Online: map[string]bool{}, Registered: map[string]string{}}
}

func (f *FakeDirectory) Register(_ context.Context, userID, sessionHandle, _ string) error {
	if f.Failing {
		return errors.New("directory unavailable")
	}
	f.Registered[sessionHandle] = userID
	f.Online[userID] = true
	return nil
}

func (f *FakeDirectory) Unregister(_ context.Context, userID, sessionHandle string) error {
	f.Unregisters = append(f.Unregisters, sessionHandle)
	delete(f.Registered, sessionHandle)
	return nil
}

func (f *FakeDirectory) IsOnline(_ context.Context, userID string) (bool, error) {
	if f.Failing {
		return false, errors.New("directory unavailable")
	}
	return f.Online[userID], nil
}

func (f *FakeDirectory) Touch(_ context.Context, userID string) error {
	f.Touched = append(f.Touched, userID)
	return nil
}

// FakeBus records published fanout messages.
type FakeBus struct {
	Published []fanout.Message
	Err       error
}

func (f *FakeBus) Publish(_ context.Context, msg fanout.Message) error {
	if f.Err != nil {
		return f.Err
	}
	f.Published = append(f.Published, msg)
	return nil
}
