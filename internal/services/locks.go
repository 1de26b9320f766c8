/**
 * @description
 * Redis-backed short-lived locks.
 * Serialize concurrent vote submissions per (user, poll) and keep scheduled sweeps
 * of the same kind from overlapping.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 *
 * @notes
 * - Locks are advisory. Storage-level uniqueness and conditional updates stay authoritative,
 *   so a Redis outage degrades to "no lock" instead of failing requests.
 */

package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/swarmbet/backend/internal/logger"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	redis *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{redis: client}
}

// Acquire tries to take key for ttl. When Redis is absent or failing the lock is
// reported as acquired and release is a no-op.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool) {
	noop := func() {}
	if l == nil || l.redis == nil {
		return noop, true
	}

	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		logger.Warn("Locker: redis unavailable for %s, continuing unlocked: %v", key, err)
		return noop, true
	}
	if !ok {
		return noop, false
	}

	return func() {
		// Release even if the caller's context is already done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.redis, []string{key}, token).Err(); err != nil {
			logger.Warn("Locker: failed to release %s: %v", key, err)
		}
	}, true
}

func voteLockKey(pollID, userID uuid.UUID) string {
	return "vote:lock:" + pollID.String() + ":" + userID.String()
}

func receiptCacheKey(pollID, userID uuid.UUID) string {
	return "vote:receipt:" + pollID.String() + ":" + userID.String()
}

func sweepLockKey(kind string) string {
	return "sweep:lock:" + kind
}
