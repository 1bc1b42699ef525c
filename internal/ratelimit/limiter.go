package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rnblock/gateway/internal/clock"
	"github.com/rnblock/gateway/internal/config"
	"go.uber.org/zap"
)

const bucketKeyPrefix = "rate-limit:"

// ErrRateLimited is the terminal per-request rejection; callers must not
// retry the admit within the same request.
var ErrRateLimited = errors.New("rate_limit_exceeded")

// Limiter admits requests against a per-credential token bucket shared
// across all gateway instances.
type Limiter struct {
	bucket *TokenBucket
	clk    clock.Clock
	log    *zap.Logger

	capacity int
	refill   int
	interval time.Duration
	idleTTL  time.Duration
}

// NewLimiter connects to the configured redis and returns the admission
// limiter.
func NewLimiter(cfg config.Config, clk clock.Clock, log *zap.Logger) (*Limiter, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return NewLimiterWithClient(client, cfg, clk, log), nil
}

// NewLimiterWithClient builds a Limiter on an existing redis client.
func NewLimiterWithClient(client *redis.Client, cfg config.Config, clk clock.Clock, log *zap.Logger) *Limiter {
	return &Limiter{
		bucket: NewTokenBucket(client),
		clk:    clk,
		log:    log.Named("ratelimit"),

		capacity: cfg.RateLimitCapacity,
		refill:   cfg.RateLimitRefill,
		interval: cfg.RateLimitInterval,
		idleTTL:  cfg.RateLimitIdleTTL,
	}
}

// Admit consumes one token for the hashed credential. A false return is
// a rate-limit rejection; an error is a store failure and the caller
// must fail closed.
func (l *Limiter) Admit(ctx context.Context, keyHash string) (bool, error) {
	allowed, remaining, err := l.bucket.Take(
		ctx,
		bucketKeyPrefix+keyHash,
		l.clk.Now(),
		l.capacity,
		l.refill,
		l.interval,
		l.idleTTL,
	)
	if err != nil {
		return false, err
	}
	if !allowed {
		l.log.Warn("rate limit exceeded",
			zap.String("key_hash", keyHash),
			zap.Int64("remaining", remaining),
		)
	}
	return allowed, nil
}
