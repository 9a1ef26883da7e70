// Package registry provides the cross-process session directory mapping
// users to their active delivery sessions.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix is the Redis key prefix for per-user session sets.
const sessionKeyPrefix = "sessions:"

// DefaultSessionTTL bounds how long a session entry survives without
// refresh. This is a liveness safety net for processes that vanish without
// a clean shutdown, not a correctness requirement.
const DefaultSessionTTL = time.Hour

// Entry is one registered session for a user.
type Entry struct {
	SessionHandle string    `json:"session_handle"`
	OwnerProcess  string    `json:"owner_process"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// Directory is the cross-process session registry. It is the single source
// of truth for "is this user reachable anywhere"; per-process socket caches
// are only hints for local delivery.
type Directory interface {
	// Register upserts a session entry and refreshes the TTL for the
	// user's whole entry set. Idempotent.
	Register(ctx context.Context, userID, sessionHandle, ownerProcess string) error

	// Unregister removes one session entry. Removing a missing entry is a
	// no-op. When the user's last entry goes, the directory entry for that
	// user disappears entirely.
	Unregister(ctx context.Context, userID, sessionHandle string) error

	// IsOnline reports whether at least one non-expired entry exists for
	// the user, on any process.
	IsOnline(ctx context.Context, userID string) (bool, error)

	// SessionCount returns the number of non-expired entries for the user.
	SessionCount(ctx context.Context, userID string) (int, error)

	// Touch refreshes the TTL for the user's entry set without rewriting
	// entries. Called on socket activity so long-lived idle connections do
	// not silently fall out of the directory.
	Touch(ctx context.Context, userID string) error

	// OwnerCleanup removes every entry owned by the given process id.
	// Used on graceful shutdown; after a hard crash, entries are only
	// reclaimed by TTL expiry.
	OwnerCleanup(ctx context.Context, ownerProcess string) (int, error)
}

// RedisDirectory implements Directory on a Redis hash per user.
type RedisDirectory struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDirectory creates a directory over the given Redis client.
// A non-positive ttl falls back to DefaultSessionTTL.
func NewRedisDirectory(redisClient *redis.Client, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisDirectory{redis: redisClient, ttl: ttl}
}

// SessionKey returns the Redis key holding a user's session entries.
func SessionKey(userID string) string {
	return sessionKeyPrefix + userID
}

// Register upserts the session entry and refreshes the key TTL.
func (d *RedisDirectory) Register(ctx context.Context, userID, sessionHandle, ownerProcess string) error {
	entry := Entry{
		SessionHandle: sessionHandle,
		OwnerProcess:  ownerProcess,
		RegisteredAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal session entry: %w", err)
	}

	key := SessionKey(userID)
	pipe := d.redis.TxPipeline()
	pipe.HSet(ctx, key, sessionHandle, data)
	pipe.Expire(ctx, key, d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register session for user %s: %w", userID, err)
	}
	return nil
}

// Unregister removes the session entry. Redis drops the hash key itself
// once its last field is deleted, so no empty placeholder survives.
func (d *RedisDirectory) Unregister(ctx context.Context, userID, sessionHandle string) error {
	if err := d.redis.HDel(ctx, SessionKey(userID), sessionHandle).Err(); err != nil {
		return fmt.Errorf("failed to unregister session for user %s: %w", userID, err)
	}
	return nil
}

// IsOnline reports whether the user has any registered session.
func (d *RedisDirectory) IsOnline(ctx context.Context, userID string) (bool, error) {
	exists, err := d.redis.Exists(ctx, SessionKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check online state for user %s: %w", userID, err)
	}
	return exists > 0, nil
}

// SessionCount returns the user's registered session count.
func (d *RedisDirectory) SessionCount(ctx context.Context, userID string) (int, error) {
	count, err := d.redis.HLen(ctx, SessionKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions for user %s: %w", userID, err)
	}
	return int(count), nil
}

// Touch refreshes the TTL for the user's entry set.
func (d *RedisDirectory) Touch(ctx context.Context, userID string) error {
	if err := d.redis.Expire(ctx, SessionKey(userID), d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh session TTL for user %s: %w", userID, err)
	}
	return nil
}

// OwnerCleanup scans the directory and removes every entry owned by the
// given process. Returns the number of entries removed.
func (d *RedisDirectory) OwnerCleanup(ctx context.Context, ownerProcess string) (int, error) {
	var removed int
	iter := d.redis.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := d.redis.HGetAll(ctx, key).Result()
		if err != nil {
			slog.Warn("Failed to read session entries during owner cleanup",
				"key", key,
				"error", err,
			)
			continue
		}
		for handle, raw := range fields {
			var entry Entry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				slog.Warn("Skipping malformed session entry during owner cleanup",
					"key", key,
					"session_handle", handle,
					"error", err,
				)
				continue
			}
			if entry.OwnerProcess != ownerProcess {
				continue
			}
			if err := d.redis.HDel(ctx, key, handle).Err(); err != nil {
				slog.Warn("Failed to remove session entry during owner cleanup",
					"key", key,
					"session_handle", handle,
					"error", err,
				)
				continue
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan session directory: %w", err)
	}
	return removed, nil
}
