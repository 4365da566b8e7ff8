package jwt

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm identifies an asymmetric signing algorithm accepted by the
// key ring. Symmetric algorithms are rejected by construction.
type Algorithm string

const (
	// AlgRS256 selects RSA with SHA-256.
	AlgRS256 Algorithm = "RS256"
	// AlgES256 selects ECDSA P-256 with SHA-256.
	AlgES256 Algorithm = "ES256"
)

var (
	// ErrNoActiveKey is returned when no active signing key exists for the
	// requested scope. Issuance must not proceed without one.
	ErrNoActiveKey = errors.New("no active signing key")
	// ErrKeyNotFound is returned when a key_id is not present in the ring.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrKeyInvalid is returned when key material cannot be parsed or does
	// not match the declared algorithm.
	ErrKeyInvalid = errors.New("invalid signing key material")
	// ErrDuplicateKeyID is returned when a key_id is registered twice.
	ErrDuplicateKeyID = errors.New("duplicate key id")
)

// SigningKey is a single entry in the key ring. PrivateKey may be nil for
// verify-only entries (peers that never sign with this key).
type SigningKey struct {
	KeyID      string
	Algorithm  Algorithm
	PrivateKey crypto.PrivateKey
	PublicKey  crypto.PublicKey
	CreatedAt  time.Time
	Active     bool
}

// KeyRing holds platform-wide and per-tenant signing keys and routes
// signing and verification by key_id.
//
// Signing selects the newest active key for the scope, preferring a tenant
// key over the platform key when one exists. Verification accepts any key
// still present in the ring, active or retired, so tokens signed before a
// rotation remain verifiable until the old key is removed.
type KeyRing struct {
	mu       sync.RWMutex
	platform map[string]*SigningKey
	tenants  map[string]map[string]*SigningKey
}

// NewKeyRing creates an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{
		platform: make(map[string]*SigningKey),
		tenants:  make(map[string]map[string]*SigningKey),
	}
}

// ParseKeyPair parses PEM-encoded key material for the given algorithm.
// privatePEM may be empty for verify-only keys.
func ParseKeyPair(alg Algorithm, privatePEM, publicPEM []byte) (crypto.PrivateKey, crypto.PublicKey, error) {
	var (
		priv crypto.PrivateKey
		pub  crypto.PublicKey
		err  error
	)

	switch alg {
	case AlgRS256:
		if len(privatePEM) > 0 {
			priv, err = jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
			}
		}
		pub, err = jwt.ParseRSAPublicKeyFromPEM(publicPEM)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
		}
	case AlgES256:
		if len(privatePEM) > 0 {
			priv, err = jwt.ParseECPrivateKeyFromPEM(privatePEM)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
			}
		}
		pub, err = jwt.ParseECPublicKeyFromPEM(publicPEM)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
		}
	default:
		return nil, nil, fmt.Errorf("%w: unsupported algorithm %q", ErrKeyInvalid, alg)
	}

	return priv, pub, nil
}

// AddKey registers a platform-wide signing key. The key_id must be unique
// across the whole ring, tenant keys included, because verification routes
// by key_id alone.
func (r *KeyRing) AddKey(key *SigningKey) error {
	return r.add("", key)
}

// AddTenantKey registers a signing key scoped to a single tenant.
func (r *KeyRing) AddTenantKey(tenantID string, key *SigningKey) error {
	if strings.TrimSpace(tenantID) == "" {
		return errors.New("tenant id required")
	}
	return r.add(tenantID, key)
}

func (r *KeyRing) add(tenantID string, key *SigningKey) error {
	if key == nil {
		return errors.New("nil signing key")
	}
	if strings.TrimSpace(key.KeyID) == "" {
		return errors.New("signing key requires key id")
	}
	if key.Algorithm != AlgRS256 && key.Algorithm != AlgES256 {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrKeyInvalid, key.Algorithm)
	}
	if key.PublicKey == nil {
		return fmt.Errorf("%w: public key required", ErrKeyInvalid)
	}
	if key.Active && key.PrivateKey == nil {
		return fmt.Errorf("%w: active key requires private key", ErrKeyInvalid)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lookupLocked(key.KeyID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKeyID, key.KeyID)
	}

	if tenantID == "" {
		r.platform[key.KeyID] = key
		return nil
	}

	bucket := r.tenants[tenantID]
	if bucket == nil {
		bucket = make(map[string]*SigningKey)
		r.tenants[tenantID] = bucket
	}
	bucket[key.KeyID] = key

	return nil
}

// RetireKey marks a key inactive. The key stays in the ring so already
// issued tokens keep verifying; call RemoveKey to stop accepting it.
func (r *KeyRing) RetireKey(keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.lookupLocked(keyID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	key.Active = false
	return nil
}

// RemoveKey deletes a key from the ring. Tokens signed with it stop
// verifying immediately.
func (r *KeyRing) RemoveKey(keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.platform[keyID]; ok {
		delete(r.platform, keyID)
		return nil
	}
	for tenantID, bucket := range r.tenants {
		if _, ok := bucket[keyID]; ok {
			delete(bucket, keyID)
			if len(bucket) == 0 {
				delete(r.tenants, tenantID)
			}
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
}

// SigningKeyFor returns the key to sign with for the given tenant scope.
// A tenant with registered keys gets its newest active key; everyone else
// gets the newest active platform key. Returns ErrNoActiveKey when the
// resolved scope has no active entry.
func (r *KeyRing) SigningKeyFor(tenantID string) (*SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tenantID != "" {
		if bucket := r.tenants[tenantID]; len(bucket) > 0 {
			if key := newestActive(bucket); key != nil {
				return key, nil
			}
			// Tenant opted into dedicated keys; never silently fall back
			// to the platform key once tenant keys exist.
			return nil, fmt.Errorf("%w: tenant %s", ErrNoActiveKey, tenantID)
		}
	}

	if key := newestActive(r.platform); key != nil {
		return key, nil
	}

	return nil, ErrNoActiveKey
}

// VerificationKey resolves a key_id to its public key and algorithm.
// Retired keys still resolve; removed keys do not.
func (r *KeyRing) VerificationKey(keyID string) (crypto.PublicKey, Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.lookupLocked(keyID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	return key.PublicKey, key.Algorithm, nil
}

// KeyIDs returns every key_id currently in the ring. Used by admin
// surfaces and tests.
func (r *KeyRing) KeyIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.platform))
	for id := range r.platform {
		ids = append(ids, id)
	}
	for _, bucket := range r.tenants {
		for id := range bucket {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *KeyRing) lookupLocked(keyID string) (*SigningKey, bool) {
	if key, ok := r.platform[keyID]; ok {
		return key, true
	}
	for _, bucket := range r.tenants {
		if key, ok := bucket[keyID]; ok {
			return key, true
		}
	}
	return nil, false
}

func newestActive(bucket map[string]*SigningKey) *SigningKey {
	var newest *SigningKey
	for _, key := range bucket {
		if !key.Active {
			continue
		}
		if newest == nil || key.CreatedAt.After(newest.CreatedAt) {
			newest = key
		}
	}
	return newest
}
