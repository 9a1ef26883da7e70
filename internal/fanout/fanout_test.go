package fanout

import (
	"encoding/json"
	"testing"
)

func TestNewRedisBus_Validation(t *testing.T) {
	if _, err := NewRedisBus(nil, "notify:fanout"); err == nil {
		t.Error("NewRedisBus() expected error for nil client")
	}
}

func TestMessage_Roundtrip(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"id": "n-1"})
	msg := Message{Type: TypeNotification, UserID: "u-1", Payload: payload}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got.Type != TypeNotification || got.UserID != "u-1" {
		t.Errorf("unexpected message: %+v", got)
	}
	var inner map[string]string
	if err := json.Unmarshal(got.Payload, &inner); err != nil {
		t.Fatalf("payload unmarshal error: %v", err)
	}
	if inner["id"] != "n-1" {
		t.Errorf("payload id = %q, want n-1", inner["id"])
	}
}

func TestMessage_BroadcastOmitsUserID(t *testing.T) {
	msg := Message{Type: TypeBroadcast, UserIDs: []string{"u-1", "u-2"}, Payload: json.RawMessage(`{}`)}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if _, present := raw["userId"]; present {
		t.Error("broadcast message should omit userId")
	}
	if ids, ok := raw["userIds"].([]interface{}); !ok || len(ids) != 2 {
		t.Errorf("userIds = %v, want two entries", raw["userIds"])
	}
}
