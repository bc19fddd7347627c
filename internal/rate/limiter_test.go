package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestPasswordBudgetExhausts(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxPasswordFailures: 2, PasswordWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordPasswordFailure(ctx, "Alice@Example.com", ""); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	if err := l.AllowPasswordGrant(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("budget not yet exceeded, got %v", err)
	}
	if err := l.RecordPasswordFailure(ctx, "alice@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on third failure, got %v", err)
	}
	if err := l.AllowPasswordGrant(ctx, "ALICE@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected case-insensitive budget, got %v", err)
	}
}

func TestPasswordWindowDoesNotSlide(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxPasswordFailures: 1, PasswordWindow: time.Minute})
	ctx := context.Background()

	_ = l.RecordPasswordFailure(ctx, "bob@example.com", "")
	mr.FastForward(40 * time.Second)
	_ = l.RecordPasswordFailure(ctx, "bob@example.com", "")
	if err := l.AllowPasswordGrant(ctx, "bob@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}

	// The second failure must not have pushed the expiry out.
	mr.FastForward(21 * time.Second)
	if err := l.AllowPasswordGrant(ctx, "bob@example.com", ""); err != nil {
		t.Fatalf("expected window to close after one minute, got %v", err)
	}
}

func TestClearPasswordFailures(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxPasswordFailures: 5, PasswordWindow: time.Minute, ThrottleIP: true})
	ctx := context.Background()

	_ = l.RecordPasswordFailure(ctx, "c@example.com", "10.0.0.1")
	if n, _ := l.PasswordFailures(ctx, "c@example.com"); n != 1 {
		t.Fatalf("expected 1 failure, got %d", n)
	}
	if err := l.ClearPasswordFailures(ctx, "c@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := l.PasswordFailures(ctx, "c@example.com"); n != 0 {
		t.Fatalf("expected 0 failures after clear, got %d", n)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no counters left, got %v", mr.Keys())
	}
}

func TestIPBudgetSpansEmails(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxPasswordFailures: 1, PasswordWindow: time.Minute, ThrottleIP: true})
	ctx := context.Background()

	_ = l.RecordPasswordFailure(ctx, "a@example.com", "10.0.0.9")
	_ = l.RecordPasswordFailure(ctx, "b@example.com", "10.0.0.9")
	if err := l.AllowPasswordGrant(ctx, "fresh@example.com", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP budget to apply across emails, got %v", err)
	}
	if err := l.AllowPasswordGrant(ctx, "fresh@example.com", "10.0.0.10"); err != nil {
		t.Fatalf("other IPs are unaffected, got %v", err)
	}
}

func TestRefreshThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{ThrottleRefresh: true, MaxRefreshes: 2, RefreshWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AllowRefresh(ctx, "sid"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.AllowRefresh(ctx, "sid"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected refresh limit, got %v", err)
	}
	if err := l.AllowRefresh(ctx, "other"); err != nil {
		t.Fatalf("budgets are per session, got %v", err)
	}
}

func TestRefreshThrottleDisabled(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxRefreshes: 0, RefreshWindow: time.Minute})

	if err := l.AllowRefresh(context.Background(), "sid"); err != nil {
		t.Fatalf("disabled throttle must allow, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatal("disabled throttle must not write counters")
	}
}

func TestRedisDownIsUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxPasswordFailures: 1, PasswordWindow: time.Minute})
	mr.Close()

	if err := l.AllowPasswordGrant(context.Background(), "x", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
