package authcore

import (
	"context"
	"time"

	"github.com/tessera-platform/authcore/refresh"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// FamilyInfo is the introspection view for a token family. It excludes
// token hashes and raw token material.
type FamilyInfo struct {
	FamilyID  string
	CreatedAt int64
	Tokens    int
	Revoked   bool
}

// Health reports whether the Redis backend answers and how fast. Never
// returns an error; an unreachable backend is a valid result.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessions == nil {
		return HealthStatus{}
	}
	latency, err := e.sessions.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}

// ActiveSessionCount returns the number of live sessions for the user.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.CountForUser(ctx, userID)
}

// RefreshTokenCount returns the number of stored refresh tokens for the
// user, including rotated-out tokens still inside their TTL.
func (e *Engine) RefreshTokenCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.refreshStore == nil {
		return 0, ErrEngineNotReady
	}
	return e.refreshStore.CountForUser(ctx, userID)
}

// TokenFamilies lists the user's token families. Useful when
// investigating a reuse incident.
func (e *Engine) TokenFamilies(ctx context.Context, userID string) ([]FamilyInfo, error) {
	if e == nil || e.families == nil {
		return nil, ErrEngineNotReady
	}
	families, err := e.families.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]FamilyInfo, 0, len(families))
	for _, fam := range families {
		out = append(out, toFamilyInfo(fam))
	}
	return out, nil
}

// RefreshAttempts returns the user's refresh calls inside the current
// throttle window.
func (e *Engine) RefreshAttempts(ctx context.Context, userID string) (int, error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}
	return e.limiter.RefreshAttempts(ctx, userID)
}

func toFamilyInfo(fam *refresh.Family) FamilyInfo {
	return FamilyInfo{
		FamilyID:  fam.FamilyID,
		CreatedAt: fam.CreatedAt,
		Tokens:    len(fam.TokenIDs),
		Revoked:   fam.Revoked,
	}
}
