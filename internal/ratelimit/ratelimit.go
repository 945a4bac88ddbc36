package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cipherchat/internal/logging"
)

// Counter increments a windowed counter and returns its new value.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a Counter backed by INCR and EXPIRE. Every hit pushes the
// expiry forward, so a key only resets after a quiet window.
type RedisCounter struct {
	client redis.Cmdable
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit counter: %w", err)
	}
	return incr.Val(), nil
}

// Limiter allows at most limit events per key per window. A nil counter or a
// non-positive limit disables limiting.
type Limiter struct {
	counter Counter
	limit   int64
	window  time.Duration
	logger  *zap.Logger
}

func New(counter Counter, limit int64, window time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{
		counter: counter,
		limit:   limit,
		window:  window,
		logger:  logging.OrNop(logger).Named("ratelimit"),
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.counter != nil && l.limit > 0
}

// Allow reports whether key may proceed. Counter failures fail open.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if !l.Enabled() {
		return true
	}
	n, err := l.counter.Incr(ctx, "rl:"+key, l.window)
	if err != nil {
		l.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	return n <= l.limit
}
