package authcore

import (
	"context"
	"time"

	"github.com/tessera-platform/authcore/session"
)

// TokenPair is the pair of tokens handed to a client after login or
// refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}

// StartSessionInput carries everything needed to open a session for an
// already-authenticated user. Authentication itself happens upstream; the
// engine trusts the identity it is given here.
type StartSessionInput struct {
	UserID      string
	TenantID    string
	DeviceID    string
	DeviceInfo  session.DeviceInfo
	IPAddress   string
	Location    string
	Scopes      []string
	Permissions []string
	MFAVerified bool
}

// SessionGrant is the result of StartSession: the created session, its
// token pair, and the rotation family the refresh token opened.
type SessionGrant struct {
	Session   *session.Session
	Tokens    TokenPair
	FamilyID  string
	Displaced []DisplacedSession
}

// AccessGrant carries the authorization context minted into the new access
// token on refresh. It is caller-supplied so permission changes made since
// login take effect at the next refresh instead of being frozen into the
// rotation chain.
type AccessGrant struct {
	TenantID    string
	Scopes      []string
	Permissions []string
}

// DisplacedSession describes a session the concurrency policy terminated
// to make room for a new login.
type DisplacedSession struct {
	SessionID string
	Reason    string
}

// MFAVerifier is the capability the engine calls to verify an MFA
// challenge. The engine ships no verifier of its own; install one via
// [Builder.WithMFAVerifier] to enable MarkSessionMFAVerified.
type MFAVerifier interface {
	Verify(ctx context.Context, userID, method, code string) error
}
