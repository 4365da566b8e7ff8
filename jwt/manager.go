package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tessera-platform/authcore/internal"
)

const (
	typeRefresh = "refresh"
	typeService = "service"
)

var (
	// ErrExpired is returned when a token is past its expiry, beyond the
	// configured clock skew.
	ErrExpired = errors.New("token expired")
	// ErrSignatureInvalid is returned when the signature does not verify
	// against the key the header's kid resolves to.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrClaimMismatch is returned when claims fail cross-checks, for
	// example user_id disagreeing with sub.
	ErrClaimMismatch = errors.New("token claim mismatch")
	// ErrWrongTokenType is returned when a token of one kind is presented
	// where another kind is required.
	ErrWrongTokenType = errors.New("wrong token type")
)

// Config holds token issuance parameters. Leeway applies to expiry
// comparisons only; signature verification is never relaxed.
type Config struct {
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ServiceTTL   time.Duration
	Leeway       time.Duration
	MaxTokenSize int
}

// Manager issues and verifies the three token kinds: short-lived access
// tokens, long-lived refresh tokens, and service-to-service tokens. All
// signing keys come from the [KeyRing]; the Manager holds no key material.
type Manager struct {
	keys   *KeyRing
	config Config
}

// AccessClaims is the claim set of an access token. The registered sub and
// aud claims duplicate UserID and TenantID; verification rejects tokens
// where the pairs disagree.
type AccessClaims struct {
	UserID      string   `json:"user_id"`
	TenantID    string   `json:"tenant_id"`
	SessionID   string   `json:"session_id"`
	DeviceID    string   `json:"device_id,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set of a refresh token. The token carries
// identity only; all rotation state lives server-side keyed by the token
// hash.
type RefreshClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// ServiceClaims is the claim set of a service-to-service token.
type ServiceClaims struct {
	TokenType string   `json:"token_type"`
	Service   string   `json:"service"`
	Scopes    []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenInput carries the identity and authorization context minted
// into an access token.
type AccessTokenInput struct {
	UserID      string
	TenantID    string
	SessionID   string
	DeviceID    string
	Scopes      []string
	Permissions []string
}

// NewManager creates a token [Manager] bound to a key ring.
func NewManager(keys *KeyRing, cfg Config) (*Manager, error) {
	if keys == nil {
		return nil, errors.New("key ring required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.ServiceTTL <= 0 {
		cfg.ServiceTTL = time.Hour
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxTokenSize <= 0 {
		cfg.MaxTokenSize = DefaultMaxTokenSize
	}

	return &Manager{keys: keys, config: cfg}, nil
}

// IssueAccess mints an access token for the given identity. The tenant's
// signing key is used when one is registered, the platform key otherwise.
func (m *Manager) IssueAccess(input AccessTokenInput) (string, *AccessClaims, error) {
	if input.UserID == "" || input.TenantID == "" {
		return "", nil, errors.New("user id and tenant id required")
	}

	now := time.Now()
	claims := &AccessClaims{
		UserID:      input.UserID,
		TenantID:    input.TenantID,
		SessionID:   input.SessionID,
		DeviceID:    input.DeviceID,
		Scopes:      input.Scopes,
		Permissions: input.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   input.UserID,
			Audience:  jwt.ClaimStrings{input.TenantID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			ID:        internal.NewAccessTokenID(),
		},
	}

	signed, err := m.sign(input.TenantID, claims)
	if err != nil {
		return "", nil, err
	}

	return signed, claims, nil
}

// IssueRefresh mints a refresh token for a user. Refresh tokens are always
// signed with the platform key; rotation state is tenant-agnostic.
func (m *Manager) IssueRefresh(userID string) (string, *RefreshClaims, error) {
	if userID == "" {
		return "", nil, errors.New("user id required")
	}

	now := time.Now()
	claims := &RefreshClaims{
		TokenType: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.RefreshTTL)),
			ID:        internal.NewRefreshTokenID(),
		},
	}

	signed, err := m.sign("", claims)
	if err != nil {
		return "", nil, err
	}

	return signed, claims, nil
}

// IssueService mints a service-to-service token.
func (m *Manager) IssueService(service string, scopes []string) (string, *ServiceClaims, error) {
	if service == "" {
		return "", nil, errors.New("service name required")
	}

	now := time.Now()
	claims := &ServiceClaims{
		TokenType: typeService,
		Service:   service,
		Scopes:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.ServiceTTL)),
			ID:        internal.NewServiceTokenID(),
		},
	}

	signed, err := m.sign("", claims)
	if err != nil {
		return "", nil, err
	}

	return signed, claims, nil
}

// VerifyAccess checks an access token and returns its claims.
func (m *Manager) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.verify(raw, claims); err != nil {
		return nil, err
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrClaimMismatch)
	}
	// Revocation cutoffs compare against iat, so a token without one is
	// unusable even under a valid signature.
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat", ErrClaimMismatch)
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, fmt.Errorf("%w: user_id/sub disagreement", ErrClaimMismatch)
	}
	if claims.TenantID == "" || len(claims.Audience) != 1 || claims.TenantID != claims.Audience[0] {
		return nil, fmt.Errorf("%w: tenant_id/aud disagreement", ErrClaimMismatch)
	}

	return claims, nil
}

// VerifyRefresh checks a refresh token and returns its claims.
func (m *Manager) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.verify(raw, claims); err != nil {
		return nil, err
	}

	if claims.TokenType != typeRefresh {
		return nil, fmt.Errorf("%w: expected refresh token", ErrWrongTokenType)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing jti or sub", ErrClaimMismatch)
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat", ErrClaimMismatch)
	}

	return claims, nil
}

// VerifyService checks a service token and returns its claims.
func (m *Manager) VerifyService(raw string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	if err := m.verify(raw, claims); err != nil {
		return nil, err
	}

	if claims.TokenType != typeService {
		return nil, fmt.Errorf("%w: expected service token", ErrWrongTokenType)
	}
	if claims.Service == "" {
		return nil, fmt.Errorf("%w: missing service", ErrClaimMismatch)
	}

	return claims, nil
}

func (m *Manager) sign(tenantID string, claims jwt.Claims) (string, error) {
	key, err := m.keys.SigningKeyFor(tenantID)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(signingMethod(key.Algorithm), claims)
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

func (m *Manager) verify(raw string, claims jwt.Claims) error {
	header, err := preVerify(raw, m.config.MaxTokenSize)
	if err != nil {
		return err
	}

	publicKey, alg, err := m.keys.VerificationKey(header.Kid)
	if err != nil {
		return err
	}
	if string(alg) != header.Alg {
		return fmt.Errorf("%w: header alg %q does not match key %s", ErrAlgorithmNotAllowed, header.Alg, header.Kid)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{string(alg)}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return publicKey, nil
	})
	if err != nil {
		return mapParseError(err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: claims rejected", ErrMalformed)
	}

	return nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func signingMethod(alg Algorithm) jwt.SigningMethod {
	switch alg {
	case AlgES256:
		return jwt.SigningMethodES256
	default:
		return jwt.SigningMethodRS256
	}
}
