package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the revocation store cannot be
// reached. Revocation writes must hard-fail on it; a swallowed write would
// leave a token the caller believes dead still alive.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Scope identifies which revocation rule matched a token. The zero value
// means not revoked.
type Scope int

const (
	// ScopeNone means no revocation rule matched.
	ScopeNone Scope = iota
	// ScopeToken means the token's jti was revoked individually.
	ScopeToken
	// ScopeUser means every token of the user issued before a cutoff is
	// revoked.
	ScopeUser
	// ScopeSession means the token's session was invalidated.
	ScopeSession
	// ScopeTenant means every token of the tenant issued before a cutoff
	// is revoked.
	ScopeTenant
)

// String returns the wire name of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeToken:
		return "token"
	case ScopeUser:
		return "user"
	case ScopeSession:
		return "session"
	case ScopeTenant:
		return "tenant"
	default:
		return "none"
	}
}

// Status is the outcome of a revocation check.
type Status struct {
	Revoked bool
	Scope   Scope
}

// Registry is the Redis-backed revocation registry. Entries are pure TTL
// records; nothing is ever scanned on the hot path, every check is an O(1)
// point read.
//
// Key layout:
//
//	revoked:<jti>                        — "1", TTL = token remaining life
//	user_tokens_invalid_before:<uid>     — unix seconds cutoff
//	session_invalid:<sid>                — "1"
//	tenant_tokens_invalid_before:<tid>   — unix seconds cutoff
type Registry struct {
	redis     redis.UniversalClient
	retention time.Duration
}

// NewRegistry creates a [Registry]. retention bounds how long cutoff
// entries live; it must exceed the longest token TTL so no live token
// outlasts the rule that revokes it.
func NewRegistry(redisClient redis.UniversalClient, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Registry{
		redis:     redisClient,
		retention: retention,
	}
}

func tokenKey(jti string) string {
	return "revoked:" + jti
}

func userKey(userID string) string {
	return "user_tokens_invalid_before:" + userID
}

func sessionKey(sessionID string) string {
	return "session_invalid:" + sessionID
}

func tenantKey(tenantID string) string {
	return "tenant_tokens_invalid_before:" + tenantID
}

// RevokeToken revokes a single token by jti. ttl should be the token's
// remaining lifetime; the entry is useless once the token has expired on
// its own.
func (r *Registry) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("jti required")
	}
	if ttl <= 0 {
		ttl = r.retention
	}

	if err := r.redis.Set(ctx, tokenKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeUserBefore revokes every token of a user issued at or before the
// cutoff. Tokens issued after the cutoff stay valid, so a user can be
// re-issued tokens immediately after a forced logout.
func (r *Registry) RevokeUserBefore(ctx context.Context, userID string, before time.Time) error {
	if userID == "" {
		return errors.New("user id required")
	}

	if err := r.redis.Set(ctx, userKey(userID), strconv.FormatInt(before.Unix(), 10), r.retention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeSession revokes every token bound to a session. ttl should cover
// the longest token lifetime issued under the session.
func (r *Registry) RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	if ttl <= 0 {
		ttl = r.retention
	}

	if err := r.redis.Set(ctx, sessionKey(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeTenantBefore revokes every token of a tenant issued at or before
// the cutoff.
func (r *Registry) RevokeTenantBefore(ctx context.Context, tenantID string, before time.Time) error {
	if tenantID == "" {
		return errors.New("tenant id required")
	}

	if err := r.redis.Set(ctx, tenantKey(tenantID), strconv.FormatInt(before.Unix(), 10), r.retention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ClearUserRevocation removes a user-wide cutoff, typically after an
// account recovery completes.
func (r *Registry) ClearUserRevocation(ctx context.Context, userID string) error {
	if err := r.redis.Del(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ClearSessionRevocation removes a session invalidation entry.
func (r *Registry) ClearSessionRevocation(ctx context.Context, sessionID string) error {
	if err := r.redis.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Check evaluates all four scopes for a token and reports the first match
// in order: token, user, session, tenant. The order is part of the public
// contract; callers branch on the returned scope.
//
// All four reads go through one pipeline, so the cost is a single
// round-trip regardless of scope count.
func (r *Registry) Check(ctx context.Context, jti, userID, sessionID, tenantID string, issuedAt time.Time) (Status, error) {
	pipe := r.redis.Pipeline()
	tokenCmd := pipe.Exists(ctx, tokenKey(jti))
	userCmd := pipe.Get(ctx, userKey(userID))
	sessionCmd := pipe.Exists(ctx, sessionKey(sessionID))
	tenantCmd := pipe.Get(ctx, tenantKey(tenantID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked, err := tokenCmd.Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if revoked > 0 {
		return Status{Revoked: true, Scope: ScopeToken}, nil
	}

	hit, err := cutoffMatches(userCmd, issuedAt)
	if err != nil {
		return Status{}, err
	}
	if hit {
		return Status{Revoked: true, Scope: ScopeUser}, nil
	}

	sessionRevoked, err := sessionCmd.Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if sessionID != "" && sessionRevoked > 0 {
		return Status{Revoked: true, Scope: ScopeSession}, nil
	}

	hit, err = cutoffMatches(tenantCmd, issuedAt)
	if err != nil {
		return Status{}, err
	}
	if hit {
		return Status{Revoked: true, Scope: ScopeTenant}, nil
	}

	return Status{}, nil
}

// IsTokenRevoked reports whether a single jti has been revoked.
func (r *Registry) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.redis.Exists(ctx, tokenKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// IsSessionRevoked reports whether a session has been invalidated.
func (r *Registry) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.redis.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

func cutoffMatches(cmd *redis.StringCmd, issuedAt time.Time) (bool, error) {
	value, err := cmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	cutoff, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// A corrupt cutoff is treated as matching. Failing open here would
		// turn a data problem into live revoked tokens.
		return true, nil
	}

	return issuedAt.Unix() <= cutoff, nil
}
