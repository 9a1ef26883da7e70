package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

// Factory turns fired rules into channel-specific notification records.
type Factory struct {
	now func() time.Time
}

// NewFactory creates a notification factory.
func NewFactory() *Factory {
	return &Factory{now: time.Now}
}

// SetClock overrides the factory's clock. Intended for tests.
func (f *Factory) SetClock(now func() time.Time) {
	f.now = now
}

// Materialize builds one pending notification per channel declared in the
// fired rule's action. Title and message come from the rule's template; an
// unknown template falls back to a generic rendering. A rule action with no
// channels produces no records.
func (f *Factory) Materialize(fired rules.FiredRule, eventType string, ec rules.EvaluationContext) []*Notification {
	rule := fired.Rule
	now := f.now().UTC()

	title, message := Render(rule.Action.Template, rule, eventType, ec)

	entityType := ec.String("event.entityType")
	entityID := ec.String("event.entityId")
	handler := LookupEntityHandler(entityType)

	var scheduledAt *time.Time
	if rule.Action.DelaySeconds > 0 {
		t := now.Add(time.Duration(rule.Action.DelaySeconds) * time.Second)
		scheduledAt = &t
	}

	notifications := make([]*Notification, 0, len(rule.Action.Channels))
	for _, channel := range rule.Action.Channels {
		data := map[string]interface{}{
			"eventType": eventType,
		}
		if entityID != "" {
			handler.ApplyID(data, entityID)
			data["entityTitle"] = handler.Title(ec, entityID)
		}

		notifications = append(notifications, &Notification{
			ID:          uuid.NewString(),
			Type:        handler.NotificationType(),
			Title:       title,
			Message:     message,
			Channel:     channel,
			Priority:    rule.Priority,
			RecipientID: fired.Recipient,
			Status:      StatusPending,
			Data:        data,
			RuleID:      rule.ID,
			ScheduledAt: scheduledAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return notifications
}
