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

// ErrFamilyNotFound is returned when a rotation family that must exist does
// not. During a rotation this is a data-integrity alarm, not a routine
// miss: the record pointed at a family the tracker has no entry for.
var ErrFamilyNotFound = errors.New("token family not found")

const addTokenMaxRetries = 5

// Family is the full lineage of one refresh token chain. A family is born
// at login and dies when it expires, is revoked, or its user logs out.
type Family struct {
	FamilyID  string   `json:"family_id"`
	UserID    string   `json:"user_id"`
	CreatedAt int64    `json:"created_at"`
	TokenIDs  []string `json:"token_ids"`
	Revoked   bool     `json:"revoked"`
}

// Tracker persists rotation families in Redis.
//
// Key layout:
//
//	token_family:<fid>    — JSON family, TTL = retention
//	user_families:<uid>   — set of family ids for the user
type Tracker struct {
	redis     redis.UniversalClient
	retention time.Duration
}

// NewTracker creates a family [Tracker]. retention bounds family lifetime
// and should match the revocation retention window.
func NewTracker(redisClient redis.UniversalClient, retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Tracker{
		redis:     redisClient,
		retention: retention,
	}
}

func familyKey(familyID string) string {
	return "token_family:" + familyID
}

func userFamiliesKey(userID string) string {
	return "user_families:" + userID
}

// Create starts a new family containing the initial token id and returns
// the family id.
func (t *Tracker) Create(ctx context.Context, userID, initialTokenID string) (string, error) {
	if userID == "" || initialTokenID == "" {
		return "", errors.New("user id and initial token id required")
	}

	family := &Family{
		FamilyID:  internal.NewFamilyID(),
		UserID:    userID,
		CreatedAt: time.Now().Unix(),
		TokenIDs:  []string{initialTokenID},
	}

	data, err := json.Marshal(family)
	if err != nil {
		return "", err
	}

	_, err = t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, familyKey(family.FamilyID), data, t.retention)
		pipe.SAdd(ctx, userFamiliesKey(userID), family.FamilyID)
		pipe.Expire(ctx, userFamiliesKey(userID), t.retention)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return family.FamilyID, nil
}

// AddToken appends a token id to an existing family. A missing family is
// never silently recreated; recreating one would erase the lineage that
// reuse detection depends on.
//
// The append runs under WATCH so a concurrent writer forces a retry
// instead of a lost update.
func (t *Tracker) AddToken(ctx context.Context, familyID, tokenID string) error {
	key := familyKey(familyID)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrFamilyNotFound
			}
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		family, err := decodeFamily(data)
		if err != nil {
			return err
		}

		pttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if pttl <= 0 {
			return ErrFamilyNotFound
		}

		family.TokenIDs = append(family.TokenIDs, tokenID)
		updated, err := json.Marshal(family)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, pttl)
			return nil
		})
		return err
	}

	for i := 0; i < addTokenMaxRetries; i++ {
		err := t.redis.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("%w: family update contention", ErrRedisUnavailable)
}

// Get retrieves a family by id.
func (t *Tracker) Get(ctx context.Context, familyID string) (*Family, error) {
	data, err := t.redis.Get(ctx, familyKey(familyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrFamilyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeFamily(data)
}

// Revoke marks a family revoked. Revoking an already revoked or missing
// family is a no-op; revocation is idempotent.
func (t *Tracker) Revoke(ctx context.Context, familyID string) error {
	key := familyKey(familyID)

	data, err := t.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	family, err := decodeFamily(data)
	if err != nil {
		return err
	}
	if family.Revoked {
		return nil
	}
	family.Revoked = true

	pttl, err := t.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		return nil
	}

	updated, err := json.Marshal(family)
	if err != nil {
		return err
	}
	if err := t.redis.Set(ctx, key, updated, pttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// IsRevoked reports whether a family has been revoked. Missing families
// report false; the caller decides whether absence is an alarm.
func (t *Tracker) IsRevoked(ctx context.Context, familyID string) (bool, error) {
	family, err := t.Get(ctx, familyID)
	if err != nil {
		if errors.Is(err, ErrFamilyNotFound) {
			return false, nil
		}
		return false, err
	}
	return family.Revoked, nil
}

// Contains reports whether a token id belongs to the family's lineage.
func (t *Tracker) Contains(ctx context.Context, familyID, tokenID string) (bool, error) {
	family, err := t.Get(ctx, familyID)
	if err != nil {
		return false, err
	}
	for _, id := range family.TokenIDs {
		if id == tokenID {
			return true, nil
		}
	}
	return false, nil
}

// Size returns the number of token ids in the family's lineage.
func (t *Tracker) Size(ctx context.Context, familyID string) (int, error) {
	family, err := t.Get(ctx, familyID)
	if err != nil {
		return 0, err
	}
	return len(family.TokenIDs), nil
}

// ForUser returns every live family of a user. Expired family ids found in
// the index are pruned as a side effect.
func (t *Tracker) ForUser(ctx context.Context, userID string) ([]*Family, error) {
	ids, err := t.redis.SMembers(ctx, userFamiliesKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Family{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	families := make([]*Family, 0, len(ids))
	for _, id := range ids {
		family, err := t.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrFamilyNotFound) {
				_ = t.redis.SRem(ctx, userFamiliesKey(userID), id).Err()
				continue
			}
			return nil, err
		}
		families = append(families, family)
	}

	return families, nil
}

// Delete removes a family and its index entry.
func (t *Tracker) Delete(ctx context.Context, familyID string) error {
	family, err := t.Get(ctx, familyID)
	if err != nil {
		if errors.Is(err, ErrFamilyNotFound) {
			return nil
		}
		return err
	}

	_, err = t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, familyKey(familyID))
		pipe.SRem(ctx, userFamiliesKey(family.UserID), familyID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

func decodeFamily(data []byte) (*Family, error) {
	family := &Family{}
	if err := json.Unmarshal(data, family); err != nil {
		return nil, fmt.Errorf("%w: corrupt family: %v", ErrRedisUnavailable, err)
	}
	return family, nil
}
