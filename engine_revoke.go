package authcore

import (
	"context"
	"time"
)

// RevokeToken revokes a single token by jti until the given TTL elapses.
// The TTL should cover the token's remaining lifetime; a shorter TTL lets
// the token come back to life when the marker expires.
func (e *Engine) RevokeToken(ctx context.Context, jti string, ttl time.Duration, reason string) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}
	if err := e.revocations.RevokeToken(ctx, jti, ttl); err != nil {
		return err
	}
	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, "", "", "", nil, func() map[string]string {
		return map[string]string{"jti": jti, "reason": reason}
	})
	e.publishEvent(ctx, RevocationEvent{
		EventType: EventTokenRevoked,
		TokenID:   jti,
		Reason:    reason,
	})
	return nil
}

// RevokeUserTokens invalidates every token the user holds, across all
// sessions and devices: access tokens fail the user-scope cutoff check,
// and all stored refresh tokens are marked revoked.
func (e *Engine) RevokeUserTokens(ctx context.Context, userID, reason string) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}
	now := time.Now()
	if err := e.revocations.RevokeUserBefore(ctx, userID, now); err != nil {
		return err
	}
	if _, err := e.refreshStore.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	e.metricInc(MetricUserRevoked)
	e.emitAudit(ctx, auditEventUserTokensRevoked, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	e.publishEvent(ctx, RevocationEvent{
		EventType: EventUserTokensRevoked,
		UserID:    userID,
		Reason:    reason,
	})
	return nil
}

// RevokeTenantTokens invalidates every token issued for the tenant before
// now. Tokens of other tenants are unaffected.
func (e *Engine) RevokeTenantTokens(ctx context.Context, tenantID, reason string) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}
	if err := e.revocations.RevokeTenantBefore(ctx, tenantID, time.Now()); err != nil {
		return err
	}
	e.metricInc(MetricTenantRevoked)
	e.emitAudit(ctx, auditEventTenantTokensRevoked, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	e.publishEvent(ctx, RevocationEvent{
		EventType: EventTenantTokensPurged,
		TenantID:  tenantID,
		Reason:    reason,
	})
	return nil
}

// ClearUserRevocation removes the user-scope cutoff, for example after a
// compromise investigation closes. Tokens issued before the cutoff that
// have not expired become valid again.
func (e *Engine) ClearUserRevocation(ctx context.Context, userID string) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}
	return e.revocations.ClearUserRevocation(ctx, userID)
}
