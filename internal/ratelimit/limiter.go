package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a login attempt check
type Decision struct {
	Allowed          bool
	Remaining        int
	LockoutRemaining time.Duration
}

// Limiter throttles failed logins per email+IP pair. Failures are counted in
// a window; reaching the maximum installs a lockout key for a fixed period.
type Limiter struct {
	client          *redis.Client
	window          time.Duration
	maxAttempts     int
	lockoutDuration time.Duration
}

// NewLimiter creates a new rate limiter
func NewLimiter(client *redis.Client, window time.Duration, maxAttempts int, lockoutDuration time.Duration) *Limiter {
	return &Limiter{
		client:          client,
		window:          window,
		maxAttempts:     maxAttempts,
		lockoutDuration: lockoutDuration,
	}
}

func attemptsKey(email, ip string) string { return fmt.Sprintf("ratelimit:login:%s:%s", ip, email) }
func lockoutKey(email, ip string) string  { return fmt.Sprintf("ratelimit:lockout:%s:%s", ip, email) }

// Check reports whether another login attempt is currently allowed
func (l *Limiter) Check(ctx context.Context, email, ip string) (Decision, error) {
	ttl, err := l.client.PTTL(ctx, lockoutKey(email, ip)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("failed to check lockout status: %w", err)
	}
	if ttl > 0 {
		return Decision{LockoutRemaining: ttl}, nil
	}

	count, err := l.client.Get(ctx, attemptsKey(email, ip)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("failed to get attempt count: %w", err)
	}

	return Decision{Allowed: true, Remaining: max(l.maxAttempts-count, 0)}, nil
}

// RecordFailure counts a failed attempt and locks the pair out once the
// maximum is reached inside the window.
func (l *Limiter) RecordFailure(ctx context.Context, email, ip string) error {
	key := attemptsKey(email, ip)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}

	if int(incr.Val()) < l.maxAttempts {
		return nil
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lockoutKey(email, ip), "1", l.lockoutDuration)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set lockout: %w", err)
	}
	return nil
}

// RecordSuccess clears the failure counter after a successful login
func (l *Limiter) RecordSuccess(ctx context.Context, email, ip string) error {
	if err := l.client.Del(ctx, attemptsKey(email, ip)).Err(); err != nil {
		return fmt.Errorf("failed to clear attempt counter: %w", err)
	}
	return nil
}
