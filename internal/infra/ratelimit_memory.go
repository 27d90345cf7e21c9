package infra

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// MemoryRateLimiterConfig configures the in-process rate limiter.
type MemoryRateLimiterConfig struct {
	// CleanupInterval is how often idle buckets are dropped (default: 1 minute).
	CleanupInterval time.Duration
	// IdleTTL is how long a bucket may go unused before cleanup (default: 5 minutes).
	IdleTTL time.Duration
}

// DefaultMemoryRateLimiterConfig returns the default configuration.
func DefaultMemoryRateLimiterConfig() MemoryRateLimiterConfig {
	return MemoryRateLimiterConfig{
		CleanupInterval: time.Minute,
		IdleTTL:         5 * time.Minute,
	}
}

// MemoryRateLimiter is a per-account token bucket.
// Used when no redis is configured; limits are per process.
type MemoryRateLimiter struct {
	config  MemoryRateLimiterConfig
	logger  *zap.Logger
	now     func() time.Time
	buckets sync.Map // map[key]*tokenBucket
	stopCh  chan struct{}
	once    sync.Once
}

type tokenBucket struct {
	mu          sync.Mutex
	tokens      float64
	capacity    float64
	lastUpdate  time.Time
	lastRequest time.Time
}

// NewMemoryRateLimiter creates the limiter and starts its cleanup loop.
func NewMemoryRateLimiter(config MemoryRateLimiterConfig, logger *zap.Logger) *MemoryRateLimiter {
	defaults := DefaultMemoryRateLimiterConfig()
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}

	rl := &MemoryRateLimiter{
		config: config,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop stops the cleanup goroutine.
func (rl *MemoryRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *MemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *MemoryRateLimiter) cleanup() {
	threshold := rl.now().Add(-rl.config.IdleTTL)
	rl.buckets.Range(func(key, value any) bool {
		bucket := value.(*tokenBucket)
		bucket.mu.Lock()
		stale := bucket.lastRequest.Before(threshold)
		bucket.mu.Unlock()
		if stale {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// Allow takes one token from the account's bucket.
// The bucket refills at PerMinute tokens per minute and holds PerMinute+Burst.
func (rl *MemoryRateLimiter) Allow(_ context.Context, key string, policy domain.RateLimitPolicy) (domain.RateDecision, error) {
	if policy.PerMinute <= 0 {
		rl.logger.Warn("Rate limit policy has no per-minute limit, allowing", zap.String("key", key))
		return domain.RateDecision{Allowed: true}, nil
	}
	burst := policy.Burst
	if burst < 0 {
		burst = 0
	}
	maxTokens := float64(policy.PerMinute + burst)
	now := rl.now()

	bucketI, _ := rl.buckets.LoadOrStore(key, &tokenBucket{
		tokens:      maxTokens,
		lastUpdate:  now,
		lastRequest: now,
	})
	bucket := bucketI.(*tokenBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastRequest = now
	bucket.capacity = maxTokens
	elapsed := now.Sub(bucket.lastUpdate).Seconds()
	if elapsed > 0 {
		bucket.tokens += elapsed * float64(policy.PerMinute) / 60.0
		bucket.lastUpdate = now
	}
	if bucket.tokens > maxTokens {
		bucket.tokens = maxTokens
	}

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return domain.RateDecision{Allowed: true, Remaining: int(bucket.tokens)}, nil
	}

	needed := 1.0 - bucket.tokens
	wait := int(needed*60.0/float64(policy.PerMinute)) + 1
	return domain.RateDecision{Allowed: false, WaitSeconds: wait}, nil
}

// Refund puts back the token taken by an allowed decision.
func (rl *MemoryRateLimiter) Refund(_ context.Context, key string, decision domain.RateDecision) error {
	if !decision.Allowed {
		return nil
	}
	bucketI, ok := rl.buckets.Load(key)
	if !ok {
		return nil
	}
	bucket := bucketI.(*tokenBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	bucket.tokens = min(bucket.tokens+1.0, bucket.capacity)
	return nil
}

// Ensure MemoryRateLimiter implements domain.RateLimitProvider and domain.RateLimitRefunder.
var (
	_ domain.RateLimitProvider = (*MemoryRateLimiter)(nil)
	_ domain.RateLimitRefunder = (*MemoryRateLimiter)(nil)
)
