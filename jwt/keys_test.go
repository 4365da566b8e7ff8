package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"
)

func rsaKey(t *testing.T, kid string, active bool) *SigningKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	return &SigningKey{
		KeyID:      kid,
		Algorithm:  AlgRS256,
		PrivateKey: key,
		PublicKey:  &key.PublicKey,
		CreatedAt:  time.Now(),
		Active:     active,
	}
}

func ecdsaKey(t *testing.T, kid string, active bool) *SigningKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa.GenerateKey failed: %v", err)
	}
	return &SigningKey{
		KeyID:      kid,
		Algorithm:  AlgES256,
		PrivateKey: key,
		PublicKey:  &key.PublicKey,
		CreatedAt:  time.Now(),
		Active:     active,
	}
}

func TestKeyRingEmptyHasNoActiveKey(t *testing.T) {
	ring := NewKeyRing()
	if _, err := ring.SigningKeyFor(""); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}
}

func TestKeyRingDuplicateKeyID(t *testing.T) {
	ring := NewKeyRing()
	if err := ring.AddKey(rsaKey(t, "k1", true)); err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}
	if err := ring.AddKey(rsaKey(t, "k1", true)); !errors.Is(err, ErrDuplicateKeyID) {
		t.Fatalf("expected ErrDuplicateKeyID, got %v", err)
	}
	// Key ids are globally unique, including across tenants.
	if err := ring.AddTenantKey("tenant-1", rsaKey(t, "k1", true)); !errors.Is(err, ErrDuplicateKeyID) {
		t.Fatalf("expected ErrDuplicateKeyID across tenants, got %v", err)
	}
}

func TestKeyRingNewestActiveWins(t *testing.T) {
	ring := NewKeyRing()

	old := rsaKey(t, "old", true)
	old.CreatedAt = time.Now().Add(-time.Hour)
	if err := ring.AddKey(old); err != nil {
		t.Fatal(err)
	}
	if err := ring.AddKey(rsaKey(t, "new", true)); err != nil {
		t.Fatal(err)
	}

	key, err := ring.SigningKeyFor("")
	if err != nil {
		t.Fatalf("SigningKeyFor failed: %v", err)
	}
	if key.KeyID != "new" {
		t.Fatalf("expected newest active key, got %q", key.KeyID)
	}
}

func TestKeyRingRetiredKeyStillVerifies(t *testing.T) {
	ring := NewKeyRing()
	if err := ring.AddKey(rsaKey(t, "k1", true)); err != nil {
		t.Fatal(err)
	}
	if err := ring.AddKey(rsaKey(t, "k2", true)); err != nil {
		t.Fatal(err)
	}

	if err := ring.RetireKey("k1"); err != nil {
		t.Fatalf("RetireKey failed: %v", err)
	}

	// Retired keys never sign but still verify existing tokens.
	if _, _, err := ring.VerificationKey("k1"); err != nil {
		t.Fatalf("retired key unavailable for verification: %v", err)
	}

	key, err := ring.SigningKeyFor("")
	if err != nil {
		t.Fatal(err)
	}
	if key.KeyID != "k2" {
		t.Fatalf("retired key still signing: %q", key.KeyID)
	}
}

func TestKeyRingRemoveKey(t *testing.T) {
	ring := NewKeyRing()
	if err := ring.AddKey(rsaKey(t, "k1", true)); err != nil {
		t.Fatal(err)
	}
	if err := ring.RemoveKey("k1"); err != nil {
		t.Fatalf("RemoveKey failed: %v", err)
	}
	if _, _, err := ring.VerificationKey("k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestKeyRingTenantKeyRouting(t *testing.T) {
	ring := NewKeyRing()
	if err := ring.AddKey(rsaKey(t, "platform", true)); err != nil {
		t.Fatal(err)
	}
	if err := ring.AddTenantKey("tenant-1", ecdsaKey(t, "tenant-key", true)); err != nil {
		t.Fatal(err)
	}

	key, err := ring.SigningKeyFor("tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if key.KeyID != "tenant-key" {
		t.Fatalf("tenant not routed to its own key: %q", key.KeyID)
	}

	// Tenants without keys use the platform key.
	key, err = ring.SigningKeyFor("tenant-2")
	if err != nil {
		t.Fatal(err)
	}
	if key.KeyID != "platform" {
		t.Fatalf("tenant without keys not routed to platform: %q", key.KeyID)
	}
}

func TestKeyRingTenantNeverFallsBackWhenKeysExist(t *testing.T) {
	ring := NewKeyRing()
	if err := ring.AddKey(rsaKey(t, "platform", true)); err != nil {
		t.Fatal(err)
	}

	tenantKey := ecdsaKey(t, "tenant-key", false)
	if err := ring.AddTenantKey("tenant-1", tenantKey); err != nil {
		t.Fatal(err)
	}

	// A tenant with only retired keys gets an error, not a silent
	// fallback to the platform key.
	if _, err := ring.SigningKeyFor("tenant-1"); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}
}
