package notify

import (
	"fmt"

	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

// EntityHandler describes how notifications reference one CRM entity type.
// New entity types register a handler instead of growing a switch in the
// factory.
type EntityHandler interface {
	// ApplyID stores the entity reference in the notification payload.
	ApplyID(data map[string]interface{}, entityID string)
	// Title produces a human-readable entity title from the event context.
	Title(ec rules.EvaluationContext, entityID string) string
	// NotificationType is the notification type emitted for this entity.
	NotificationType() string
}

// entityHandlers is the registry of known entity types.
var entityHandlers = map[string]EntityHandler{}

// RegisterEntityHandler adds or replaces the handler for an entity type.
func RegisterEntityHandler(entityType string, h EntityHandler) {
	entityHandlers[entityType] = h
}

// LookupEntityHandler returns the handler for an entity type, or the
// generic handler when the type is unknown.
func LookupEntityHandler(entityType string) EntityHandler {
	if h, ok := entityHandlers[entityType]; ok {
		return h
	}
	return genericHandler{}
}

// crmEntityHandler covers the standard CRM entities; the per-type
// differences are only the payload key, the title context path, and the
// notification type string.
type crmEntityHandler struct {
	idKey     string
	titlePath string
	notifType string
	label     string
}

func (h crmEntityHandler) ApplyID(data map[string]interface{}, entityID string) {
	data[h.idKey] = entityID
}

func (h crmEntityHandler) Title(ec rules.EvaluationContext, entityID string) string {
	if title := ec.String(h.titlePath); title != "" {
		return title
	}
	return fmt.Sprintf("%s %s", h.label, entityID)
}

func (h crmEntityHandler) NotificationType() string {
	return h.notifType
}

// genericHandler is the fallback for unregistered entity types.
type genericHandler struct{}

func (genericHandler) ApplyID(data map[string]interface{}, entityID string) {
	data["entityId"] = entityID
}

func (genericHandler) Title(ec rules.EvaluationContext, entityID string) string {
	return entityID
}

func (genericHandler) NotificationType() string {
	return "generic"
}

func init() {
	RegisterEntityHandler("lead", crmEntityHandler{
		idKey:     "leadId",
		titlePath: "leadData.name",
		notifType: "lead",
		label:     "Lead",
	})
	RegisterEntityHandler("deal", crmEntityHandler{
		idKey:     "dealId",
		titlePath: "dealData.title",
		notifType: "deal",
		label:     "Deal",
	})
	RegisterEntityHandler("task", crmEntityHandler{
		idKey:     "taskId",
		titlePath: "taskData.title",
		notifType: "task",
		label:     "Task",
	})
}
