// Package processor provides the event processing orchestration: consuming
// CRM events, evaluating rules, materializing notifications, and handing
// them to delivery.
package processor

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/JamshedLatipov/crm-sub001/internal/events"
	"github.com/JamshedLatipov/crm-sub001/internal/notify"
	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

// EventSource reads the next CRM event from the inbound stream.
type EventSource interface {
	ReadEvent(ctx context.Context) (*events.CRMEvent, *kafka.Message, error)
}

// RuleEvaluator maps an event context to the set of rules that fire.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, eventType string, ec rules.EvaluationContext) ([]rules.FiredRule, error)
}

// NotificationWriter persists materialized notifications.
type NotificationWriter interface {
	Insert(ctx context.Context, n *notify.Notification) error
	MarkSent(ctx context.Context, notificationID string) error
}

// Deliverer pushes a notification towards the recipient's live sessions.
// The returned flag reports whether delivery was actually attempted; an
// offline recipient yields false with no error.
type Deliverer interface {
	SendNotificationToUser(ctx context.Context, n *notify.Notification) (bool, error)
}

// Processor orchestrates the evaluate-materialize-deliver pipeline.
type Processor struct {
	source    EventSource
	evaluator RuleEvaluator
	factory   *notify.Factory
	store     NotificationWriter
	deliverer Deliverer
	metrics   Metrics
}

// NewProcessor creates a new event processor.
func NewProcessor(source EventSource, evaluator RuleEvaluator, factory *notify.Factory, store NotificationWriter, deliverer Deliverer) *Processor {
	return &Processor{
		source:    source,
		evaluator: evaluator,
		factory:   factory,
		store:     store,
		deliverer: deliverer,
		metrics:   NoOpMetrics{},
	}
}

// SetMetrics installs a metrics recorder. Nil restores the no-op recorder.
func (p *Processor) SetMetrics(m Metrics) {
	if m == nil {
		m = NoOpMetrics{}
	}
	p.metrics = m
}

// ProcessEvents continuously reads CRM events, evaluates the active rules
// against them, and persists and delivers the resulting notifications.
// One bad event never stops the loop.
func (p *Processor) ProcessEvents(ctx context.Context) error {
	slog.Info("Starting event processing loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event processing loop stopped")
			return nil
		default:
			event, _, err := p.source.ReadEvent(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("Failed to read CRM event", "error", err)
				continue
			}
			p.metrics.RecordEventReceived()

			p.HandleEvent(ctx, event)
		}
	}
}

// HandleEvent runs the pipeline for one event.
func (p *Processor) HandleEvent(ctx context.Context, event *events.CRMEvent) {
	ec := BuildContext(event)

	fired, err := p.evaluator.Evaluate(ctx, event.Type, ec)
	if err != nil {
		slog.Error("Rule evaluation failed",
			"event_id", event.EventID,
			"event_type", event.Type,
			"error", err,
		)
		return
	}
	if len(fired) == 0 {
		slog.Debug("No rules fired",
			"event_id", event.EventID,
			"event_type", event.Type,
		)
		p.metrics.RecordEventProcessed()
		return
	}

	for _, f := range fired {
		p.metrics.RecordRuleFired()
		for _, n := range p.factory.Materialize(f, event.Type, ec) {
			if err := p.store.Insert(ctx, n); err != nil {
				slog.Error("Failed to persist notification",
					"notification_id", n.ID,
					"rule_id", n.RuleID,
					"error", err,
				)
				continue
			}
			p.metrics.RecordNotificationCreated()

			// Delayed notifications wait for the dispatch sweep; only
			// immediate websocket notifications go out here. Delivery is
			// best effort: a failed push leaves the row pending for the
			// sweep to pick up.
			if n.Channel != "websocket" || n.ScheduledAt != nil {
				continue
			}
			delivered, err := p.deliverer.SendNotificationToUser(ctx, n)
			if err != nil {
				p.metrics.RecordDeliveryError()
				slog.Warn("Failed to deliver notification",
					"notification_id", n.ID,
					"recipient_id", n.RecipientID,
					"error", err,
				)
				continue
			}
			if !delivered {
				// Recipient offline: the row stays pending and remains
				// fetchable through the API.
				continue
			}
			p.metrics.RecordNotificationDelivered()
			if err := p.store.MarkSent(ctx, n.ID); err != nil {
				slog.Warn("Failed to mark notification sent",
					"notification_id", n.ID,
					"error", err,
				)
			}
		}

		slog.Info("Rule fired",
			"rule_id", f.Rule.ID,
			"event_id", event.EventID,
			"recipient_id", f.Recipient,
		)
	}
	p.metrics.RecordEventProcessed()
}

// BuildContext assembles the evaluation context for an event: the producer
// supplied sub-contexts plus the envelope fields under "event". Envelope
// fields win on collision so producers cannot spoof the routing fields.
func BuildContext(event *events.CRMEvent) rules.EvaluationContext {
	ec := rules.EvaluationContext{}
	for name, sub := range event.Contexts {
		copied := make(map[string]interface{}, len(sub))
		for k, v := range sub {
			copied[k] = v
		}
		ec[name] = copied
	}

	envelope, ok := ec["event"]
	if !ok {
		envelope = map[string]interface{}{}
		ec["event"] = envelope
	}
	envelope["type"] = event.Type
	envelope["eventId"] = event.EventID
	if event.EntityType != "" {
		envelope["entityType"] = event.EntityType
	}
	if event.EntityID != "" {
		envelope["entityId"] = event.EntityID
	}
	if event.UserID != "" {
		envelope["userId"] = event.UserID
	}
	if event.AssignedTo != "" {
		envelope["assignedTo"] = event.AssignedTo
	}
	return ec
}
