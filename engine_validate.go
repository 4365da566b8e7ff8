package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/tessera-platform/authcore/jwt"
)

// ValidateAccess verifies an access token end to end: signature, standard
// claims, claim cross-checks, then all four revocation scopes. This is the
// per-request hot path; the revocation check is a single pipelined
// round trip.
func (e *Engine) ValidateAccess(ctx context.Context, rawToken string) (*jwt.AccessClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		e.metricObserve(MetricValidateLatency, time.Since(start))
	}()

	claims, err := e.tokens.VerifyAccess(rawToken)
	if err != nil {
		e.metricInc(MetricValidateRejected)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	status, err := e.revocations.Check(ctx, claims.ID, claims.UserID, claims.SessionID, claims.TenantID, claims.IssuedAt.Time)
	if err != nil {
		return nil, err
	}
	if status.Revoked {
		e.metricInc(MetricValidateRevoked)
		revokedErr := &RevokedError{Scope: status.Scope}
		e.emitAudit(ctx, auditEventValidateRevoked, false, claims.UserID, claims.TenantID, claims.SessionID, revokedErr, func() map[string]string {
			return map[string]string{"scope": status.Scope.String()}
		})
		return nil, revokedErr
	}

	e.metricInc(MetricValidateSuccess)
	return claims, nil
}

// ParseAccess verifies signature and claims without consulting the
// revocation registry. For callers that tolerate a stale result and
// cannot afford the store round trip.
func (e *Engine) ParseAccess(rawToken string) (*jwt.AccessClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.VerifyAccess(rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}
