package rulestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

// throttleKeyPrefix is the Redis key prefix for per-rule throttle state.
const throttleKeyPrefix = "rule:throttle:"

// throttleStateTTL bounds leaked throttle keys for deleted rules. Must be
// comfortably larger than any sane throttle window.
const throttleStateTTL = 7 * 24 * time.Hour

// acquireScript atomically checks the throttle window and, when open,
// records the fire. Doing check and set in one script is what makes two
// processes racing on the same rule produce exactly one fire per window.
//
// KEYS[1] = throttle key, ARGV[1] = now (unix seconds),
// ARGV[2] = window seconds, ARGV[3] = state TTL seconds.
// Returns 1 when the fire was acquired, 0 when throttled.
const acquireScript = `
	local last = redis.call('HGET', KEYS[1], 'last_triggered_at')
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	if last and window > 0 and (now - tonumber(last)) < window then
		return 0
	end
	redis.call('HSET', KEYS[1], 'last_triggered_at', now)
	redis.call('HINCRBY', KEYS[1], 'trigger_count', 1)
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
	return 1
`

// TriggerRecorder persists a rule's fire side effect to durable storage.
type TriggerRecorder interface {
	RecordTrigger(ctx context.Context, ruleID string, firedAt time.Time) error
}

// ThrottleGate implements rules.ThrottleGate on Redis. The Redis hash is the
// single source of truth for throttle state across processes; the Postgres
// write-back through the recorder is best effort.
type ThrottleGate struct {
	redis    *redis.Client
	script   *redis.Script
	recorder TriggerRecorder
}

// NewThrottleGate creates a gate over the given Redis client. recorder may
// be nil when no durable write-back is wanted (tests).
func NewThrottleGate(redisClient *redis.Client, recorder TriggerRecorder) *ThrottleGate {
	return &ThrottleGate{
		redis:    redisClient,
		script:   redis.NewScript(acquireScript),
		recorder: recorder,
	}
}

// ThrottleKey returns the Redis key holding a rule's throttle state.
func ThrottleKey(ruleID string) string {
	return throttleKeyPrefix + ruleID
}

// TryAcquire attempts to claim a fire for the rule at the given instant.
// On success the in-memory rule is updated to match the recorded state and
// the trigger is written back to durable storage best effort.
func (g *ThrottleGate) TryAcquire(ctx context.Context, rule *rules.Rule, now time.Time) (bool, error) {
	result, err := g.script.Run(ctx, g.redis,
		[]string{ThrottleKey(rule.ID)},
		now.Unix(),
		rule.Action.ThrottleSeconds,
		int(throttleStateTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to run throttle script for rule %s: %w", rule.ID, err)
	}
	if result != 1 {
		return false, nil
	}

	firedAt := now
	rule.LastTriggeredAt = &firedAt
	rule.TriggerCount++

	if g.recorder != nil {
		if err := g.recorder.RecordTrigger(ctx, rule.ID, firedAt); err != nil {
			slog.Warn("Failed to write rule trigger back to database",
				"rule_id", rule.ID,
				"error", err,
			)
		}
	}
	return true, nil
}
