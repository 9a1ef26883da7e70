package notify

import (
	"fmt"
	"strings"

	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

// Template renders a notification title and message from a fired rule's
// event context.
type Template struct {
	Title   string
	Message string
}

// templates maps action template keys to their render definitions.
// Placeholders of the form {path} are resolved against the evaluation
// context via dotted-path lookup; unresolved placeholders render empty.
var templates = map[string]Template{
	"lead_score_high": {
		Title:   "Lead score threshold reached",
		Message: "Lead {event.entityId} reached a score of {leadScore.totalScore}",
	},
	"lead_assigned": {
		Title:   "Lead assigned to you",
		Message: "Lead {event.entityId} was assigned to you",
	},
	"deal_stage_changed": {
		Title:   "Deal moved to a new stage",
		Message: "Deal {event.entityId} moved to stage {dealData.stage}",
	},
	"deal_won": {
		Title:   "Deal won",
		Message: "Deal {event.entityId} was closed as won",
	},
	"task_due": {
		Title:   "Task due soon",
		Message: "Task {event.entityId} is due at {taskData.dueAt}",
	},
	"task_overdue": {
		Title:   "Task overdue",
		Message: "Task {event.entityId} is overdue",
	},
}

// Render produces the title and message for a rule firing. An unknown
// template key falls back to a generic title/message derived from the rule
// name and event type; it never fails.
func Render(templateKey string, rule *rules.Rule, eventType string, ec rules.EvaluationContext) (title, message string) {
	tpl, ok := templates[templateKey]
	if !ok {
		return rule.Name, fmt.Sprintf("event %s occurred", eventType)
	}
	return interpolate(tpl.Title, ec), interpolate(tpl.Message, ec)
}

// interpolate replaces {dotted.path} placeholders with context values.
func interpolate(s string, ec rules.EvaluationContext) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			b.WriteString(s)
			break
		}
		closing := strings.IndexByte(s[open:], '}')
		if closing < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:open])
		path := s[open+1 : open+closing]
		if v, ok := ec.Lookup(path); ok {
			b.WriteString(valueString(v))
		}
		s = s[open+closing+1:]
	}
	return b.String()
}

func valueString(v interface{}) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		// Trim the ".0" JSON numbers pick up for whole values.
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	default:
		return fmt.Sprintf("%v", v)
	}
}
