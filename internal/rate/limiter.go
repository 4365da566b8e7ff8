package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds refresh throttle tuning parameters.
type Config struct {
	EnableRefreshThrottle   bool
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// Limiter enforces per-session and per-user refresh rate limits using
// Redis fixed-window counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func refreshSessionKey(sessionID string) string {
	return "ar:" + sessionID
}

func refreshUserKey(userID string) string {
	return "aru:" + userID
}

// CheckRefresh enforces the refresh limit by incrementing the session and
// user counters and applying the cooldown TTL. Returns ErrRateLimited when
// either counter exceeds the configured budget.
func (l *Limiter) CheckRefresh(ctx context.Context, userID, sessionID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, refreshUserKey(userID), l.config.RefreshCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}

	if sessionID != "" {
		count, err = l.incrementWithTTL(ctx, refreshSessionKey(sessionID), l.config.RefreshCooldownDuration)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxRefreshAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetRefresh clears the refresh counters for a user and session.
// Called when a rotation family is revoked so a recovered user is not
// locked out by counters the attacker filled.
func (l *Limiter) ResetRefresh(ctx context.Context, userID, sessionID string) error {
	keys := []string{refreshUserKey(userID)}
	if sessionID != "" {
		keys = append(keys, refreshSessionKey(sessionID))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// RefreshAttempts returns the current refresh counter for a user.
// Missing keys return zero.
func (l *Limiter) RefreshAttempts(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, refreshUserKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
