package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is an optional shared backend keeping each team's window in a
// Redis sorted set scored by unix nanoseconds. The in-memory limiter remains
// the default; this backend is for multi-instance deployments.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLimiter constructs a RedisLimiter against the given address.
func NewRedisLimiter(addr string) *RedisLimiter {
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "tokenrouter:ratelimit:",
		now:    time.Now,
	}
}

// Allow applies the sliding window against the team's sorted set: prune old
// members, count the rest, and add the new attempt only when admitted.
func (r *RedisLimiter) Allow(ctx context.Context, teamID uint64, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	key := r.prefix + strconv.FormatUint(teamID, 10)
	now := r.now()
	cutoff := now.Add(-Window).UnixNano()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		return false, fmt.Errorf("ratelimit: redis window prune: %w", errExec)
	}

	if countCmd.Val() >= int64(limit) {
		return false, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	add := r.client.TxPipeline()
	add.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	add.Expire(ctx, key, Window+time.Second)
	if _, errExec := add.Exec(ctx); errExec != nil {
		return false, fmt.Errorf("ratelimit: redis window append: %w", errExec)
	}
	return true, nil
}

// Close closes the underlying Redis client.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
var _ Limiter = (*MemoryLimiter)(nil)
