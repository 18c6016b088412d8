package auth

import (
	"log/slog"
	"sync"
	"time"
)

// RateLimitConfig configures rate limiting behavior
type RateLimitConfig struct {
	Enabled   bool `json:"enabled"`
	PerMinute int  `json:"perMinute"` // sustained requests per minute
	BurstSize int  `json:"burstSize"` // token bucket burst
}

// DefaultRateLimitConfig allows a short burst of admin calls per client and
// a slow refill.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:   true,
		PerMinute: 6,
		BurstSize: 3,
	}
}

// staleAfter is how long an idle bucket is kept.
const staleAfter = 10 * time.Minute

// RateLimiter implements token bucket rate limiting per client key
type RateLimiter struct {
	config      RateLimitConfig
	buckets     map[string]*tokenBucket
	mu          sync.Mutex
	logger      *slog.Logger
	now         func() time.Time
	lastCleanup time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 6
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 3
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
		logger:  logger,
		now:     time.Now,
	}
}

// Allow checks if a request is allowed and consumes a token
// Returns: allowed (bool), retryAfter (seconds until next token available)
func (r *RateLimiter) Allow(key string) (bool, int) {
	if !r.config.Enabled {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastCleanup) > staleAfter {
		r.cleanup(now)
		r.lastCleanup = now
	}

	bucket, exists := r.buckets[key]
	if !exists {
		bucket = &tokenBucket{tokens: float64(r.config.BurstSize), lastRefill: now}
		r.buckets[key] = bucket
	}

	perSecond := float64(r.config.PerMinute) / 60.0
	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * perSecond
	bucket.lastRefill = now
	if bucket.tokens > float64(r.config.BurstSize) {
		bucket.tokens = float64(r.config.BurstSize)
	}

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true, 0
	}

	secondsUntilToken := (1.0 - bucket.tokens) / perSecond
	return false, int(secondsUntilToken) + 1
}

// Reset forgets the bucket for key.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, key)
}

// cleanup removes buckets that haven't been used recently
func (r *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-staleAfter)
	removed := 0
	for key, bucket := range r.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(r.buckets, key)
			removed++
		}
	}
	if removed > 0 && r.logger != nil {
		r.logger.Debug("Rate limit cleanup",
			"removed_buckets", removed,
			"remaining", len(r.buckets),
		)
	}
}

// Stats returns rate limiter statistics
func (r *RateLimiter) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]interface{}{
		"enabled":     r.config.Enabled,
		"perMinute":   r.config.PerMinute,
		"burstSize":   r.config.BurstSize,
		"active_keys": len(r.buckets),
	}
}
