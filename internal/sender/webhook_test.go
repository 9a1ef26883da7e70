package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JamshedLatipov/crm-sub001/internal/notify"
)

func sampleNotification() *notify.Notification {
	return &notify.Notification{
		ID:          "n-1",
		Type:        "lead",
		Title:       "Lead score threshold reached",
		Message:     "Lead lead-42 reached a score of 85",
		Channel:     "webhook",
		RecipientID: "u-1",
		Data:        map[string]interface{}{"leadId": "lead-42"},
	}
}

func TestWebhookSender_Send(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewWebhookSender(server.URL)
	if err := s.Send(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if received.NotificationID != "n-1" || received.RecipientID != "u-1" {
		t.Errorf("payload = %+v", received)
	}
	if received.Data["leadId"] != "lead-42" {
		t.Errorf("payload data = %v", received.Data)
	}
}

func TestWebhookSender_EndpointOverride(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewWebhookSender("http://default.invalid.example/hook")
	n := sampleNotification()
	n.Data["webhookUrl"] = server.URL

	if err := s.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if hits != 1 {
		t.Errorf("override endpoint hit %d times, want 1", hits)
	}
}

func TestWebhookSender_NoEndpoint(t *testing.T) {
	s := NewWebhookSender("")
	if err := s.Send(context.Background(), sampleNotification()); err == nil {
		t.Error("Send() expected error with no endpoint")
	}
}

func TestWebhookSender_InvalidURL(t *testing.T) {
	s := NewWebhookSender("ftp://nope")
	if err := s.Send(context.Background(), sampleNotification()); err == nil {
		t.Error("Send() expected error for non-HTTP URL")
	}
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	s := NewWebhookSender(server.URL)
	if err := s.Send(context.Background(), sampleNotification()); err == nil {
		t.Error("Send() expected error for 400 response")
	}
}

func TestWebhookSender_RetriesTransientStatus(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewWebhookSender(server.URL)
	s.retry = RetryConfig{MaxRetries: 2, InitialBackoff: 1, MaxBackoff: 1, BackoffFactor: 1}

	if err := s.Send(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Send() error after retry: %v", err)
	}
	if hits != 2 {
		t.Errorf("endpoint hit %d times, want 2", hits)
	}
}
