package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"link-auditor/pkg/config"
)

// HostRateLimiter spaces requests to each host for politeness. Two
// legs, both optional: a fixed minimum delay between consecutive
// requests to one host, and a token bucket capping the sustained rate.
// A zero delay and a zero bucket make Wait a no-op.
type HostRateLimiter struct {
	delay    time.Duration
	bucket   config.RateLimitConfig
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	log      *logrus.Entry
}

// NewHostRateLimiter creates a limiter enforcing delay between same-host
// requests and, when bucket is non-zero, at most bucket.Requests per
// bucket.Window per host.
func NewHostRateLimiter(delay time.Duration, bucket config.RateLimitConfig, log *logrus.Entry) *HostRateLimiter {
	return &HostRateLimiter{
		delay:    delay,
		bucket:   bucket,
		last:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
		log:      log,
	}
}

// Wait blocks until the host may be contacted again, or ctx is done.
func (l *HostRateLimiter) Wait(ctx context.Context, host string) error {
	if err := l.waitDelay(ctx, host); err != nil {
		return err
	}
	if limiter := l.limiterFor(host); limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

// waitDelay sleeps out the remainder of the fixed inter-request delay,
// with +/- 10% jitter so workers hitting one host desynchronize.
func (l *HostRateLimiter) waitDelay(ctx context.Context, host string) error {
	if l.delay <= 0 {
		return nil
	}

	l.mu.Lock()
	lastReq, exists := l.last[host]
	l.mu.Unlock()
	if !exists {
		return nil
	}

	elapsed := time.Since(lastReq)
	if elapsed >= l.delay {
		return nil
	}
	sleep := l.delay - elapsed

	if jitterRange := int64(sleep) / 5; jitterRange > 0 {
		sleep += time.Duration(rand.Int63n(jitterRange)) - sleep/10
	}
	if sleep <= 0 {
		return nil
	}

	l.log.WithFields(logrus.Fields{"host": host, "sleep": sleep, "required_delay": l.delay, "elapsed": elapsed}).Debug("Politeness delay")

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// limiterFor lazily creates the host's token bucket, or returns nil
// when rate limiting is disabled.
func (l *HostRateLimiter) limiterFor(host string) *rate.Limiter {
	if l.bucket.Requests <= 0 || l.bucket.Window <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		interval := l.bucket.Window / time.Duration(l.bucket.Requests)
		limiter = rate.NewLimiter(rate.Every(interval), l.bucket.Requests)
		l.limiters[host] = limiter
		l.log.WithFields(logrus.Fields{"host": host, "requests": l.bucket.Requests, "window": l.bucket.Window}).Debug("Created host rate limiter")
	}
	return limiter
}

// UpdateLastRequestTime records now as the host's most recent request
// attempt. Call after each attempt so the next Wait measures from it.
func (l *HostRateLimiter) UpdateLastRequestTime(host string) {
	l.mu.Lock()
	l.last[host] = time.Now()
	l.mu.Unlock()
}
