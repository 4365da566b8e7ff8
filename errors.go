package authcore

import (
	"errors"
	"fmt"

	"github.com/tessera-platform/authcore/revocation"
)

var (
	// ErrTokenInvalid is returned when a token fails structural checks,
	// signature verification, or expiry. Callers should surface a generic
	// failure; the wrapped cause is for logs only.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked is returned when a structurally valid token matches
	// a revocation rule. Use [RevokedError] to learn the scope.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRefreshTokenNotFound is returned when a refresh token has no
	// server-side record. Expired, rotated-away, and foreign tokens all
	// produce this same error.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshReuse is returned when a refresh token replay was detected
	// and the containment cascade has run.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrFamilyIntegrity is returned when a refresh record references a
	// rotation family that does not exist. This signals data corruption or
	// tampering, never routine expiry.
	ErrFamilyIntegrity = errors.New("token family integrity violation")
	// ErrRefreshRateLimited is returned when the refresh throttle rejects
	// the attempt.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrSessionNotFound is returned when a session id has no record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionLimitExceeded is returned when the concurrency policy
	// rejects a new session.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrMFAUnavailable is returned when an MFA operation is requested but
	// no verifier was installed on the Engine.
	ErrMFAUnavailable = errors.New("mfa verifier not configured")
	// ErrMFAInvalid is returned when the installed verifier rejects the
	// challenge.
	ErrMFAInvalid = errors.New("mfa verification failed")
	// ErrEngineNotReady is returned when an Engine method is called on a
	// nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RevokedError carries which revocation scope matched a token. It unwraps
// to [ErrTokenRevoked] so errors.Is works without knowing the scope.
type RevokedError struct {
	Scope revocation.Scope
}

// Error implements the error interface.
func (e *RevokedError) Error() string {
	return fmt.Sprintf("token revoked: %s scope", e.Scope)
}

// Unwrap lets errors.Is(err, ErrTokenRevoked) match.
func (e *RevokedError) Unwrap() error {
	return ErrTokenRevoked
}
