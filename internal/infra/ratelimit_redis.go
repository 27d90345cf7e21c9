package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

const (
	redisKeyPrefix   = "dupguard:rl:"
	redisWindow      = time.Minute
	defaultRedisDial = 3 * time.Second
)

// RedisRateLimiter is a fleet-wide sliding window limiter over a sorted set.
// An account may perform PerMinute+Burst actions in any trailing minute.
type RedisRateLimiter struct {
	client goredis.UniversalClient
	now    func() time.Time
}

// NewRedisRateLimiter wraps an existing client.
func NewRedisRateLimiter(client goredis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, now: time.Now}
}

// NewRedisClientFromURL creates a client from a redis:// URL and pings it.
func NewRedisClientFromURL(ctx context.Context, redisURL string) (*goredis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultRedisDial
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Allow records an attempt and reports whether it fits in the window.
// Trim, add and count run in one MULTI/EXEC so concurrent executors see a consistent count.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, policy domain.RateLimitPolicy) (domain.RateDecision, error) {
	if policy.PerMinute <= 0 {
		return domain.RateDecision{Allowed: true}, nil
	}
	limit := int64(policy.PerMinute + max(policy.Burst, 0))

	now := r.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	zkey := redisKeyPrefix + key

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "-inf", strconv.FormatInt(nowMs-redisWindow.Milliseconds(), 10))
	pipe.ZAdd(ctx, zkey, goredis.Z{Score: float64(nowMs), Member: member})
	card := pipe.ZCard(ctx, zkey)
	oldest := pipe.ZRangeWithScores(ctx, zkey, 0, 0)
	pipe.PExpire(ctx, zkey, redisWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.RateDecision{}, fmt.Errorf("%w: %w", domain.ErrRateLimitProviderUnavailable, err)
	}

	count := card.Val()
	if count <= limit {
		return domain.RateDecision{Allowed: true, Remaining: int(limit - count), Token: member}, nil
	}

	// Over the limit: the attempt does not consume a slot.
	if err := r.client.ZRem(ctx, zkey, member).Err(); err != nil {
		return domain.RateDecision{}, fmt.Errorf("%w: %w", domain.ErrRateLimitProviderUnavailable, err)
	}

	wait := 1
	if z := oldest.Val(); len(z) > 0 {
		freeAt := time.UnixMilli(int64(z[0].Score)).Add(redisWindow)
		if secs := int(freeAt.Sub(now).Seconds()) + 1; secs > wait {
			wait = secs
		}
	}
	return domain.RateDecision{Allowed: false, WaitSeconds: wait}, nil
}

// Refund removes the window entry recorded for an allowed decision.
func (r *RedisRateLimiter) Refund(ctx context.Context, key string, decision domain.RateDecision) error {
	if !decision.Allowed || decision.Token == "" {
		return nil
	}
	if err := r.client.ZRem(ctx, redisKeyPrefix+key, decision.Token).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRateLimitProviderUnavailable, err)
	}
	return nil
}

// Ensure RedisRateLimiter implements domain.RateLimitProvider and domain.RateLimitRefunder.
var (
	_ domain.RateLimitProvider = (*RedisRateLimiter)(nil)
	_ domain.RateLimitRefunder = (*RedisRateLimiter)(nil)
)
