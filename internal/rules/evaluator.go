package rules

import (
	"context"
	"log/slog"
	"time"
)

// FiredRule is an evaluation outcome: a rule that fired plus the recipient
// resolved from the event context.
type FiredRule struct {
	Rule      *Rule
	Recipient string
}

// RuleSource lists active rules ordered by descending priority, then
// ascending creation order.
type RuleSource interface {
	ListActive(ctx context.Context) ([]*Rule, error)
}

// ThrottleGate performs the authoritative cross-process throttle
// check-and-set for a rule. TryAcquire returns true exactly once per
// throttle window regardless of how many processes race on the same rule,
// and records the trigger (lastTriggeredAt, triggerCount) as a side effect.
type ThrottleGate interface {
	TryAcquire(ctx context.Context, rule *Rule, now time.Time) (bool, error)
}

// Evaluator maps a business-event context to the set of rules that fire.
type Evaluator struct {
	source RuleSource
	gate   ThrottleGate
	now    func() time.Time
}

// NewEvaluator creates an evaluator over the given rule source and throttle gate.
func NewEvaluator(source RuleSource, gate ThrottleGate) *Evaluator {
	return &Evaluator{
		source: source,
		gate:   gate,
		now:    time.Now,
	}
}

// SetClock overrides the evaluator's clock. Intended for tests.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate runs every active rule for the given event type against the
// context and returns the rules that fired. One misbehaving rule never
// aborts evaluation of the rest; failures fail closed (the rule does not
// fire) and are logged.
func (e *Evaluator) Evaluate(ctx context.Context, eventType string, ec EvaluationContext) ([]FiredRule, error) {
	ruleList, err := e.source.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()

	var fired []FiredRule
	for _, rule := range ruleList {
		if rule.EventType != eventType && rule.EventType != "*" {
			continue
		}
		if !rule.CanFire(now) {
			continue
		}

		recipient := ResolveRecipient(ec)
		if !rule.Filters.Match(recipient, ec) {
			continue
		}
		if !EvaluateConditions(rule.Conditions, ec) {
			continue
		}
		if recipient == "" {
			// No recipient resolvable: skip silently, side-effect-free.
			slog.Debug("Rule matched but no recipient resolved, skipping",
				"rule_id", rule.ID,
				"event_type", eventType,
			)
			continue
		}

		if e.gate != nil {
			acquired, err := e.gate.TryAcquire(ctx, rule, now)
			if err != nil {
				slog.Error("Throttle gate failed, skipping rule fire",
					"rule_id", rule.ID,
					"error", err,
				)
				continue
			}
			if !acquired {
				slog.Debug("Rule throttled",
					"rule_id", rule.ID,
					"throttle_seconds", rule.Action.ThrottleSeconds,
				)
				continue
			}
		}

		fired = append(fired, FiredRule{Rule: rule, Recipient: recipient})
	}
	return fired, nil
}

// ResolveRecipient resolves the notification recipient from the context.
// Precedence: explicit assignee, then the generic acting user, then none.
func ResolveRecipient(ec EvaluationContext) string {
	if assignee := ec.String(PathAssignedTo); assignee != "" {
		return assignee
	}
	return ec.String(PathUserID)
}
