// Package events defines the event structures consumed from the crm.events topic.
package events

// CRMEvent represents a business event published by the CRM after it commits
// its own state change (lead score updated, deal stage moved, task assigned).
// Sub-context maps carry the event-specific data used for rule evaluation;
// producers include only the contexts relevant to the event type.
type CRMEvent struct {
	EventID       string                            `json:"event_id"`
	SchemaVersion int                               `json:"schema_version"`
	EventTS       int64                             `json:"event_ts"`
	Type          string                            `json:"type"`
	EntityType    string                            `json:"entity_type,omitempty"`
	EntityID      string                            `json:"entity_id,omitempty"`
	UserID        string                            `json:"user_id,omitempty"`
	AssignedTo    string                            `json:"assigned_to,omitempty"`
	Contexts      map[string]map[string]interface{} `json:"contexts,omitempty"`
}
