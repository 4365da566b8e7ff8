package refresh

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
	// ErrRecordNotFound is returned when no record exists for the token
	// hash. Expired, deleted, and never-issued tokens are indistinguishable
	// here.
	ErrRecordNotFound = errors.New("refresh token record not found")
	// ErrAlreadyUsed is returned by Claim when the record's used flag was
	// already set. Exactly one concurrent claimer wins; everyone else gets
	// this error.
	ErrAlreadyUsed = errors.New("refresh token already used")
	// ErrRedisUnavailable is returned when the token store cannot be
	// reached.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	claimStatusNotFound int64 = 0
	claimStatusClaimed  int64 = 1
	claimStatusUsed     int64 = 2
)

// claimScript flips the used flag with compare-and-set semantics. The read,
// the check, and the write happen inside one script execution, so two
// concurrent claims of the same token can never both see used=false.
const claimScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local rec = cjson.decode(data)
if rec.used then
  return {2, data}
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return {0}
end

rec.used = true
redis.call("SET", KEYS[1], cjson.encode(rec), "PX", ttl)
return {1, cjson.encode(rec)}
`

var claimLua = redis.NewScript(claimScript)

// revokeScript sets the revoked flag while preserving the record and its
// TTL. The record must survive revocation: a replay of a revoked token has
// to be distinguishable from a replay of a token that never existed.
const revokeScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end

local rec = cjson.decode(data)
rec.revoked = true
redis.call("SET", KEYS[1], cjson.encode(rec), "PX", ttl)
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Record is the server-side state of one refresh token, stored under the
// SHA-256 hash of the raw token. The raw token itself is never persisted.
type Record struct {
	TokenID   string `json:"token_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id,omitempty"`
	FamilyID  string `json:"family_id"`
	ParentID  string `json:"parent_id,omitempty"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Used      bool   `json:"used"`
	Revoked   bool   `json:"revoked"`
}

// Store persists refresh token records in Redis.
//
// Key layout:
//
//	rt:<sha256 hex of raw token>   — JSON record, TTL = token lifetime
//	user_refresh_tokens:<uid>      — set of token hashes for the user
type Store struct {
	redis redis.UniversalClient
}

// NewStore creates a refresh token [Store] backed by the given Redis
// client.
func NewStore(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient}
}

func recordKey(tokenHash string) string {
	return "rt:" + tokenHash
}

func userIndexKey(userID string) string {
	return "user_refresh_tokens:" + userID
}

// Save persists a record under the hash of rawToken and indexes it for the
// user. The index TTL is refreshed to the token TTL so it outlives every
// member it tracks.
func (s *Store) Save(ctx context.Context, rawToken string, rec *Record, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("refresh record requires positive ttl")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	hash := internal.HashToken(rawToken)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(hash), data, ttl)
		pipe.SAdd(ctx, userIndexKey(rec.UserID), hash)
		pipe.Expire(ctx, userIndexKey(rec.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get retrieves the record for a raw token without mutating it.
func (s *Store) Get(ctx context.Context, rawToken string) (*Record, error) {
	data, err := s.redis.Get(ctx, recordKey(internal.HashToken(rawToken))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeRecord(data)
}

// Claim atomically marks the record used and returns it. If the record was
// already used, the record is returned alongside ErrAlreadyUsed so the
// caller can run reuse handling on it.
func (s *Store) Claim(ctx context.Context, rawToken string) (*Record, error) {
	result, err := claimLua.Run(ctx, s.redis, []string{recordKey(internal.HashToken(rawToken))}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid claim script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claim script status", ErrRedisUnavailable)
	}

	switch code {
	case claimStatusNotFound:
		return nil, ErrRecordNotFound
	case claimStatusClaimed, claimStatusUsed:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing claim payload", ErrRedisUnavailable)
		}
		rec, decErr := decodeScriptPayload(parts[1])
		if decErr != nil {
			return nil, decErr
		}
		if code == claimStatusUsed {
			return rec, ErrAlreadyUsed
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: unknown claim script status", ErrRedisUnavailable)
	}
}

// Revoke marks the record for a raw token revoked. Missing records are a
// no-op; the token is already dead.
func (s *Store) Revoke(ctx context.Context, rawToken string) error {
	return s.revokeHash(ctx, internal.HashToken(rawToken))
}

// RevokeAllForUser revokes every live refresh token of a user and returns
// how many records were touched.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	hashes, err := s.redis.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var revoked int
	for _, hash := range hashes {
		n, err := revokeLua.Run(ctx, s.redis, []string{recordKey(hash)}).Int64()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if n == 0 {
			// Stale index entry; the record expired. Prune it.
			_ = s.redis.SRem(ctx, userIndexKey(userID), hash).Err()
			continue
		}
		revoked++
	}

	return revoked, nil
}

// Delete removes the record for a raw token and its index entry.
func (s *Store) Delete(ctx context.Context, rawToken string, userID string) error {
	hash := internal.HashToken(rawToken)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(hash))
		pipe.SRem(ctx, userIndexKey(userID), hash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CountForUser returns the number of indexed refresh tokens for a user.
// The count may include records that expired but were not yet pruned.
func (s *Store) CountForUser(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

func (s *Store) revokeHash(ctx context.Context, hash string) error {
	if _, err := revokeLua.Run(ctx, s.redis, []string{recordKey(hash)}).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func decodeRecord(data []byte) (*Record, error) {
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record: %v", ErrRedisUnavailable, err)
	}
	return rec, nil
}

func decodeScriptPayload(payload interface{}) (*Record, error) {
	switch v := payload.(type) {
	case string:
		return decodeRecord([]byte(v))
	case []byte:
		return decodeRecord(v)
	default:
		return nil, fmt.Errorf("%w: invalid claim payload type", ErrRedisUnavailable)
	}
}
