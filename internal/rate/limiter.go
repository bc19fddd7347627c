package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds throttle budgets. A window opens on the first counted event
// and closes when its key expires.
type Config struct {
	ThrottleIP          bool
	ThrottleRefresh     bool
	MaxPasswordFailures int
	PasswordWindow      time.Duration
	MaxRefreshes        int
	RefreshWindow       time.Duration
}

// Limiter counts failed password grants per email (and optionally per client
// IP) and refresh grants per session.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

// AllowPasswordGrant reports ErrRateLimited when either the email or the
// client IP has used up its failure budget. It does not count anything.
func (l *Limiter) AllowPasswordGrant(ctx context.Context, email, ip string) error {
	for _, key := range l.passwordKeys(email, ip) {
		if err := l.underBudget(ctx, key, l.config.MaxPasswordFailures); err != nil {
			return err
		}
	}
	return nil
}

// RecordPasswordFailure counts one rejected password grant. The failure
// that crosses the budget already returns ErrRateLimited.
func (l *Limiter) RecordPasswordFailure(ctx context.Context, email, ip string) error {
	var limited bool
	for _, key := range l.passwordKeys(email, ip) {
		count, err := l.hit(ctx, key, l.config.PasswordWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxPasswordFailures) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// ClearPasswordFailures forgets failures after a successful grant.
func (l *Limiter) ClearPasswordFailures(ctx context.Context, email, ip string) error {
	if err := l.redis.Del(ctx, l.passwordKeys(email, ip)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// PasswordFailures returns the failures counted against email in the
// current window. Unknown emails read as zero.
func (l *Limiter) PasswordFailures(ctx context.Context, email string) (int, error) {
	count, err := l.redis.Get(ctx, loginUserKey(email)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	case count < 0:
		return 0, nil
	}
	return int(count), nil
}

// AllowRefresh counts a refresh grant for sessionID and rejects it once the
// window budget is exceeded. Disabled throttling always allows.
func (l *Limiter) AllowRefresh(ctx context.Context, sessionID string) error {
	if !l.config.ThrottleRefresh {
		return nil
	}

	count, err := l.hit(ctx, refreshKey(sessionID), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshes) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) passwordKeys(email, ip string) []string {
	keys := []string{loginUserKey(email)}
	if l.config.ThrottleIP && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	return keys
}

func (l *Limiter) underBudget(ctx context.Context, key string, budget int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(budget) {
		return ErrRateLimited
	}
	return nil
}

// hit increments key and opens its window. EXPIRE NX only sets the TTL on the
// first hit, so later hits never extend the window.
func (l *Limiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), nil
}
