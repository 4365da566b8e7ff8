package internal

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Token ID prefixes make the token kind recognizable in logs and in
// revocation storage without decoding the token itself.
const (
	accessTokenPrefix  = "at_"
	refreshTokenPrefix = "rt_"
	serviceTokenPrefix = "st_"
)

// NewAccessTokenID returns a fresh token identifier for an access token.
func NewAccessTokenID() string {
	return accessTokenPrefix + uuid.NewString()
}

// NewRefreshTokenID returns a fresh token identifier for a refresh token.
func NewRefreshTokenID() string {
	return refreshTokenPrefix + uuid.NewString()
}

// NewServiceTokenID returns a fresh token identifier for a service token.
func NewServiceTokenID() string {
	return serviceTokenPrefix + uuid.NewString()
}

// NewFamilyID returns a fresh rotation-family identifier.
func NewFamilyID() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewDeviceID returns a fresh device identifier for callers that did not
// supply one.
func NewDeviceID() string {
	return uuid.NewString()
}

// HashToken returns the hex-encoded SHA-256 digest of a raw token string.
// Raw refresh tokens are never stored; only this digest is used as the
// storage key.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
