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

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, cfg), mr
}

func TestCheckRefreshDisabled(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{EnableRefreshThrottle: false})

	for i := 0; i < 100; i++ {
		if err := limiter.CheckRefresh(context.Background(), "user-1", "sess-1"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
}

func TestCheckRefreshBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      3,
		RefreshCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.CheckRefresh(ctx, "user-1", "sess-1"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := limiter.CheckRefresh(ctx, "user-1", "sess-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// The budget is per user, not global.
	if err := limiter.CheckRefresh(ctx, "user-2", "sess-2"); err != nil {
		t.Fatalf("other user throttled: %v", err)
	}
}

func TestCheckRefreshWindowExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      1,
		RefreshCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	if err := limiter.CheckRefresh(ctx, "user-1", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.CheckRefresh(ctx, "user-1", "sess-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := limiter.CheckRefresh(ctx, "user-1", "sess-1"); err != nil {
		t.Fatalf("counter survived its window: %v", err)
	}
}

func TestResetRefresh(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      1,
		RefreshCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	if err := limiter.CheckRefresh(ctx, "user-1", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.CheckRefresh(ctx, "user-1", "sess-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	if err := limiter.ResetRefresh(ctx, "user-1", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.CheckRefresh(ctx, "user-1", "sess-1"); err != nil {
		t.Fatalf("counter survived reset: %v", err)
	}
}

func TestRefreshAttempts(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      10,
		RefreshCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	count, err := limiter.RefreshAttempts(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 attempts, got %d", count)
	}

	for i := 0; i < 4; i++ {
		if err := limiter.CheckRefresh(ctx, "user-1", ""); err != nil {
			t.Fatal(err)
		}
	}

	count, err = limiter.RefreshAttempts(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Fatalf("expected 4 attempts, got %d", count)
	}
}
