package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tessera-platform/authcore/internal"
)

var (
	// ErrSessionNotFound is returned when no session exists for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrImmutableField is returned by Update when the caller attempts to
	// change id, user_id, or created_at.
	ErrImmutableField = errors.New("immutable session field changed")
	// ErrRedisUnavailable is returned when the session store cannot be
	// reached.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const deleteSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  redis.call("SREM", KEYS[2], ARGV[1])
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Registry is the Redis-backed session registry.
//
// Key layout:
//
//	session:<sid>        — JSON session, TTL = session lifetime
//	user_sessions:<uid>  — set of session ids for the user
type Registry struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// CreateParams carries the caller-supplied fields of a new session.
type CreateParams struct {
	UserID      string
	TenantID    string
	DeviceID    string
	DeviceInfo  DeviceInfo
	IPAddress   string
	Location    string
	MFAVerified bool
}

// NewRegistry creates a session [Registry]. ttl is the default session
// lifetime applied at creation.
func NewRegistry(redisClient redis.UniversalClient, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{
		redis: redisClient,
		ttl:   ttl,
	}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func userSessionsKey(userID string) string {
	return "user_sessions:" + userID
}

// Create persists a new session and indexes it for the user.
func (r *Registry) Create(ctx context.Context, params CreateParams) (*Session, error) {
	if params.UserID == "" {
		return nil, errors.New("user id required")
	}

	now := time.Now()
	sess := &Session{
		ID:           internal.NewSessionID(),
		UserID:       params.UserID,
		TenantID:     params.TenantID,
		DeviceID:     params.DeviceID,
		DeviceInfo:   params.DeviceInfo,
		IPAddress:    params.IPAddress,
		Location:     params.Location,
		CreatedAt:    now.UnixMilli(),
		LastActivity: now.UnixMilli(),
		ExpiresAt:    now.Add(r.ttl).UnixMilli(),
		IsActive:     true,
		MFAVerified:  params.MFAVerified,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sess.ID), data, r.ttl)
		pipe.SAdd(ctx, userSessionsKey(params.UserID), sess.ID)
		pipe.Expire(ctx, userSessionsKey(params.UserID), r.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sess, nil
}

// Get retrieves a session by id.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeSession(data)
}

// Update persists a modified session. The id, user_id, and created_at
// fields must match the stored record; the remaining TTL is preserved.
func (r *Registry) Update(ctx context.Context, updated *Session) (*Session, error) {
	current, err := r.Get(ctx, updated.ID)
	if err != nil {
		return nil, err
	}

	if updated.UserID != current.UserID || updated.CreatedAt != current.CreatedAt {
		return nil, ErrImmutableField
	}

	key := sessionKey(updated.ID)
	pttl, err := r.redis.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		return nil, ErrSessionNotFound
	}

	data, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}
	if err := r.redis.Set(ctx, key, data, pttl).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return updated, nil
}

// Touch updates last_activity to now without changing expiry.
func (r *Registry) Touch(ctx context.Context, sessionID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastActivity = time.Now().UnixMilli()
	_, err = r.Update(ctx, sess)
	return err
}

// Renew moves the session expiry to now + extension and aligns the Redis
// TTL with it.
func (r *Registry) Renew(ctx context.Context, sessionID string, extension time.Duration) (*Session, error) {
	if extension <= 0 {
		return nil, errors.New("renewal extension must be positive")
	}

	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess.ExpiresAt = now.Add(extension).UnixMilli()
	sess.LastActivity = now.UnixMilli()

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := r.redis.Set(ctx, sessionKey(sessionID), data, extension).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sess, nil
}

// Deactivate marks a session inactive while keeping the record readable
// until it expires.
func (r *Registry) Deactivate(ctx context.Context, sessionID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsActive {
		return nil
	}
	sess.IsActive = false
	_, err = r.Update(ctx, sess)
	return err
}

// Delete removes a session and its index entry. Deleting a missing session
// is a no-op.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	_, err = deleteSessionLua.Run(
		ctx,
		r.redis,
		[]string{sessionKey(sessionID), userSessionsKey(sess.UserID)},
		sessionID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// DeleteAllForUser removes every session of a user and returns how many
// were deleted.
func (r *Registry) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := r.redis.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var deleted int
	for _, id := range ids {
		n, err := deleteSessionLua.Run(
			ctx,
			r.redis,
			[]string{sessionKey(id), userSessionsKey(userID)},
			id,
		).Int64()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		deleted += int(n)
	}

	if err := r.redis.Del(ctx, userSessionsKey(userID)).Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return deleted, nil
}

// ListForUser returns every live session of a user. Stale index entries
// are pruned as a side effect.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := r.redis.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				_ = r.redis.SRem(ctx, userSessionsKey(userID), id).Err()
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// CountForUser returns the number of indexed sessions for a user. The
// count may include sessions that expired but were not yet pruned.
func (r *Registry) CountForUser(ctx context.Context, userID string) (int, error) {
	count, err := r.redis.SCard(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (r *Registry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func decodeSession(data []byte) (*Session, error) {
	sess := &Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session: %v", ErrRedisUnavailable, err)
	}
	return sess, nil
}
