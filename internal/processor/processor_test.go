package processor

import (
	"context"
	"testing"

	"github.com/JamshedLatipov/crm-sub001/internal/events"
	"github.com/JamshedLatipov/crm-sub001/internal/notify"
	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

func scoreEvent() *events.CRMEvent {
	return &events.CRMEvent{
		EventID:    "ev-1",
		Type:       "score_threshold",
		EntityType: "lead",
		EntityID:   "lead-42",
		UserID:     "u-1",
		Contexts: map[string]map[string]interface{}{
			"leadScore": {"totalScore": 85.0},
			"leadData":  {"name": "Acme Corp"},
		},
	}
}

func firedScoreRule(channels ...string) []rules.FiredRule {
	return []rules.FiredRule{{
		Rule: &rules.Rule{
			ID:   "r-1",
			Name: "High lead score",
			Action: rules.Action{
				Channels: channels,
				Template: "lead_score_high",
			},
		},
		Recipient: "u-1",
	}}
}

func newTestProcessor(evaluator *FakeEvaluator, writer *FakeWriter, deliverer *FakeDeliverer) *Processor {
	return NewProcessor(nil, evaluator, notify.NewFactory(), writer, deliverer)
}

func TestHandleEvent_PersistsAndDelivers(t *testing.T) {
	evaluator := &FakeEvaluator{Fired: firedScoreRule("websocket")}
	writer := &FakeWriter{}
	deliverer := &FakeDeliverer{}
	p := newTestProcessor(evaluator, writer, deliverer)

	p.HandleEvent(context.Background(), scoreEvent())

	if len(writer.Inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(writer.Inserted))
	}
	n := writer.Inserted[0]
	if n.RecipientID != "u-1" || n.Channel != "websocket" || n.Status != notify.StatusPending {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.Message != "Lead lead-42 reached a score of 85" {
		t.Errorf("message = %q", n.Message)
	}
	if len(deliverer.Delivered) != 1 {
		t.Fatalf("delivered %d notifications, want 1", len(deliverer.Delivered))
	}
	if len(writer.Sent) != 1 || writer.Sent[0] != n.ID {
		t.Errorf("sent = %v, want [%s]", writer.Sent, n.ID)
	}
}

func TestHandleEvent_MultipleChannels(t *testing.T) {
	evaluator := &FakeEvaluator{Fired: firedScoreRule("websocket", "webhook")}
	writer := &FakeWriter{}
	deliverer := &FakeDeliverer{}
	p := newTestProcessor(evaluator, writer, deliverer)

	p.HandleEvent(context.Background(), scoreEvent())

	if len(writer.Inserted) != 2 {
		t.Fatalf("inserted %d notifications, want 2", len(writer.Inserted))
	}
	// Only the websocket notification goes out immediately; webhook waits
	// for the dispatch sweep.
	if len(deliverer.Delivered) != 1 || deliverer.Delivered[0].Channel != "websocket" {
		t.Errorf("delivered = %+v, want one websocket notification", deliverer.Delivered)
	}
}

func TestHandleEvent_DelayedNotificationNotDeliveredNow(t *testing.T) {
	fired := firedScoreRule("websocket")
	fired[0].Rule.Action.DelaySeconds = 300
	evaluator := &FakeEvaluator{Fired: fired}
	writer := &FakeWriter{}
	deliverer := &FakeDeliverer{}
	p := newTestProcessor(evaluator, writer, deliverer)

	p.HandleEvent(context.Background(), scoreEvent())

	if len(writer.Inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(writer.Inserted))
	}
	if writer.Inserted[0].ScheduledAt == nil {
		t.Error("delayed notification missing ScheduledAt")
	}
	if len(deliverer.Delivered) != 0 {
		t.Errorf("delayed notification delivered immediately: %+v", deliverer.Delivered)
	}
}

func TestHandleEvent_DeliveryFailureLeavesRowPending(t *testing.T) {
	evaluator := &FakeEvaluator{Fired: firedScoreRule("websocket")}
	writer := &FakeWriter{}
	deliverer := &FakeDeliverer{Err: errUnavailable}
	p := newTestProcessor(evaluator, writer, deliverer)

	p.HandleEvent(context.Background(), scoreEvent())

	if len(writer.Inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(writer.Inserted))
	}
	if len(writer.Sent) != 0 {
		t.Errorf("notification marked sent despite delivery failure: %v", writer.Sent)
	}
}

func TestHandleEvent_OfflineRecipientStaysPending(t *testing.T) {
	evaluator := &FakeEvaluator{Fired: firedScoreRule("websocket")}
	writer := &FakeWriter{}
	deliverer := &FakeDeliverer{Offline: true}
	p := newTestProcessor(evaluator, writer, deliverer)

	p.HandleEvent(context.Background(), scoreEvent())

	if len(writer.Inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(writer.Inserted))
	}
	if len(writer.Sent) != 0 {
		t.Errorf("offline recipient marked sent: %v", writer.Sent)
	}
}

func TestHandleEvent_InsertFailureSkipsDelivery(t *testing.T) {
	evaluator := &FakeEvaluator{Fired: firedScoreRule("websocket")}
	writer := &FakeWriter{InsertErr: errUnavailable}
	deliverer := &FakeDeliverer{}
	p := newTestProcessor(evaluator, writer, deliverer)

	p.HandleEvent(context.Background(), scoreEvent())

	if len(deliverer.Delivered) != 0 {
		t.Errorf("delivered despite persistence failure: %+v", deliverer.Delivered)
	}
}

func TestHandleEvent_EvaluationErrorIsContained(t *testing.T) {
	evaluator := &FakeEvaluator{Err: errUnavailable}
	writer := &FakeWriter{}
	deliverer := &FakeDeliverer{}
	p := newTestProcessor(evaluator, writer, deliverer)

	p.HandleEvent(context.Background(), scoreEvent())

	if len(writer.Inserted) != 0 || len(deliverer.Delivered) != 0 {
		t.Error("evaluation failure should produce no notifications")
	}
}

func TestBuildContext(t *testing.T) {
	ec := BuildContext(scoreEvent())

	if got := ec.String("event.type"); got != "score_threshold" {
		t.Errorf("event.type = %q", got)
	}
	if got := ec.String("event.entityId"); got != "lead-42" {
		t.Errorf("event.entityId = %q", got)
	}
	if got := ec.String("event.userId"); got != "u-1" {
		t.Errorf("event.userId = %q", got)
	}
	if v, ok := ec.Lookup("leadScore.totalScore"); !ok || v != 85.0 {
		t.Errorf("leadScore.totalScore = %v, %v", v, ok)
	}
	if _, ok := ec.Lookup("event.assignedTo"); ok {
		t.Error("absent assignedTo should not appear in context")
	}
}

func TestBuildContext_EnvelopeWinsOverProducer(t *testing.T) {
	event := scoreEvent()
	event.Contexts["event"] = map[string]interface{}{
		"type":   "spoofed",
		"source": "import",
	}

	ec := BuildContext(event)
	if got := ec.String("event.type"); got != "score_threshold" {
		t.Errorf("event.type = %q, envelope should win", got)
	}
	// Producer-supplied extras survive the overlay.
	if got := ec.String("event.source"); got != "import" {
		t.Errorf("event.source = %q", got)
	}
}

func TestBuildContext_DoesNotMutateEvent(t *testing.T) {
	event := scoreEvent()
	ec := BuildContext(event)
	ec["leadScore"]["totalScore"] = 1.0

	if event.Contexts["leadScore"]["totalScore"] != 85.0 {
		t.Error("context build aliased the event's maps")
	}
}
