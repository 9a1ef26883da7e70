package rules

import (
	"time"
)

// Context paths consulted for recipient resolution and filter matching.
// The processor places event envelope fields under the "event" sub-context.
const (
	PathAssignedTo = "event.assignedTo"
	PathUserID     = "event.userId"
	PathSource     = "event.source"
	PathStatus     = "event.status"
)

// Action describes what a rule does when it fires.
type Action struct {
	Channels        []string `json:"channels"`
	Template        string   `json:"template"`
	DelaySeconds    int      `json:"delay_seconds,omitempty"`
	ThrottleSeconds int      `json:"throttle_seconds,omitempty"`
}

// Filters are optional allow-lists applied before condition evaluation.
// An empty list means "allow all" for that dimension.
type Filters struct {
	Recipients []string `json:"recipients,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`
}

// Match reports whether the resolved recipient and the event context pass
// every configured allow-list.
func (f *Filters) Match(recipient string, ec EvaluationContext) bool {
	if f == nil {
		return true
	}
	if len(f.Recipients) > 0 && !contains(f.Recipients, recipient) {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, ec.String(PathSource)) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, ec.String(PathStatus)) {
		return false
	}
	return true
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Rule represents a notification rule record.
type Rule struct {
	ID              string      `json:"rule_id"`
	Name            string      `json:"name"`
	EventType       string      `json:"event_type"`
	Priority        int         `json:"priority"`
	Conditions      []Condition `json:"conditions"`
	Action          Action      `json:"action"`
	Filters         *Filters    `json:"filters,omitempty"`
	Active          bool        `json:"active"`
	QuietHoursStart string      `json:"quiet_hours_start,omitempty"` // "HH:MM", inclusive
	QuietHoursEnd   string      `json:"quiet_hours_end,omitempty"`   // "HH:MM", exclusive
	Days            []string    `json:"days,omitempty"`              // "Mon".."Sun"; empty = every day
	LastTriggeredAt *time.Time  `json:"last_triggered_at,omitempty"`
	TriggerCount    int64       `json:"trigger_count"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// CanFire reports whether the rule is eligible to fire at the given instant:
// active, outside any configured quiet-hours window, on a configured day,
// and past its throttle window relative to the locally-loaded trigger state.
// The locally-loaded throttle check is a cheap pre-filter; the authoritative
// cross-process check-and-set happens in the ThrottleGate.
func (r *Rule) CanFire(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.inQuietHours(now) {
		return false
	}
	if !r.onConfiguredDay(now) {
		return false
	}
	if r.Action.ThrottleSeconds > 0 && r.LastTriggeredAt != nil {
		window := time.Duration(r.Action.ThrottleSeconds) * time.Second
		if now.Sub(*r.LastTriggeredAt) < window {
			return false
		}
	}
	return true
}

// inQuietHours reports whether now falls in the [start, end) quiet window.
// A window spanning midnight (start > end) is supported. Unparseable bounds
// disable the window rather than blocking the rule.
func (r *Rule) inQuietHours(now time.Time) bool {
	if r.QuietHoursStart == "" || r.QuietHoursEnd == "" {
		return false
	}
	start, err := parseClock(r.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := parseClock(r.QuietHoursEnd)
	if err != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Window spans midnight, e.g. 22:00-06:00.
	return minute >= start || minute < end
}

// onConfiguredDay reports whether now falls on one of the rule's days.
func (r *Rule) onConfiguredDay(now time.Time) bool {
	if len(r.Days) == 0 {
		return true
	}
	day := now.Weekday().String()[:3]
	for _, d := range r.Days {
		if len(d) >= 3 && d[:3] == day {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
