package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-platform/authcore/internal/rate"
	"github.com/tessera-platform/authcore/jwt"
	"github.com/tessera-platform/authcore/refresh"
)

// Refresh exchanges a refresh token for a new token pair, rotating the
// refresh token when rotation is enabled.
//
// The flow is a fixed sequence: verify signature and claims, load the
// server-side record, throttle, evaluate revocation scopes, detect reuse,
// atomically claim the record, then mint and persist the successor. The
// claim is a compare-and-set on the record's used flag, so of N concurrent
// calls with the same token exactly one mints a successor; the others fail
// without side effects.
//
// grant supplies the authorization context for the new access token.
// Identity comes from the token and its record, never from grant.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, grant AccessGrant) (*TokenPair, error) {
	if e == nil || e.refreshStore == nil {
		return nil, ErrEngineNotReady
	}
	if grant.TenantID == "" {
		return nil, errors.New("access grant requires tenant id")
	}

	claims, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", grant.TenantID, "", ErrTokenInvalid, nil)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	userID := claims.Subject

	rec, err := e.refreshStore.Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, refresh.ErrRecordNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, grant.TenantID, "", ErrRefreshTokenNotFound, nil)
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}

	// The record is bound to the token that created it. A signed token
	// whose claims disagree with its own record means key compromise or
	// store tampering; either way it does not refresh.
	if rec.UserID != userID || rec.TokenID != claims.ID {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, grant.TenantID, rec.SessionID, ErrTokenInvalid, nil)
		return nil, fmt.Errorf("%w: record binding mismatch", ErrTokenInvalid)
	}

	if err := e.limiter.CheckRefresh(ctx, userID, rec.SessionID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, userID, grant.TenantID, rec.SessionID, ErrRefreshRateLimited, nil)
			return nil, ErrRefreshRateLimited
		}
		return nil, err
	}

	status, err := e.revocations.Check(ctx, claims.ID, userID, rec.SessionID, grant.TenantID, claims.IssuedAt.Time)
	if err != nil {
		return nil, err
	}
	if status.Revoked {
		e.metricInc(MetricRefreshFailure)
		revokedErr := &RevokedError{Scope: status.Scope}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, grant.TenantID, rec.SessionID, revokedErr, func() map[string]string {
			return map[string]string{"scope": status.Scope.String()}
		})
		return nil, revokedErr
	}

	if suspicious, reason := e.detector.CheckPattern(ctx, userID); suspicious {
		// Heuristic only: flagged, logged, never blocking.
		e.metricInc(MetricRefreshPatternSuspicious)
		e.logger.Warn().
			Str("user_id", userID).
			Str("reason", reason).
			Msg("suspicious refresh pattern")
	}

	if !e.config.Rotation.Enabled {
		return e.refreshWithoutRotation(ctx, refreshToken, rec, grant)
	}

	if e.config.Rotation.ReuseDetection {
		verdict, err := e.detector.Detect(ctx, rec)
		if err != nil {
			return nil, err
		}
		if verdict.Reuse {
			return nil, e.handleReuse(ctx, rec, verdict, grant.TenantID)
		}
	}

	claimed, err := e.refreshStore.Claim(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrAlreadyUsed):
			// Lost the rotation race to a concurrent legitimate refresh.
			// The winner already rotated; this caller retries with the
			// successor token. No cascade: the detect step above saw the
			// record unused moments ago.
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, grant.TenantID, rec.SessionID, ErrRefreshTokenNotFound, nil)
			return nil, ErrRefreshTokenNotFound
		case errors.Is(err, refresh.ErrRecordNotFound):
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshTokenNotFound
		default:
			return nil, err
		}
	}

	lineageOK, err := e.detector.ValidateLineage(ctx, claimed)
	if err != nil {
		if errors.Is(err, refresh.ErrFamilyNotFound) {
			return nil, e.familyIntegrityFailure(ctx, claimed)
		}
		return nil, err
	}
	if !lineageOK {
		// A parent outside the family lineage is forged state, handled
		// with the same cascade as a replay.
		return nil, e.handleReuse(ctx, claimed, refresh.Verdict{Reuse: true, Reason: "parent outside family lineage"}, grant.TenantID)
	}

	newRefreshToken, newRefreshClaims, err := e.tokens.IssueRefresh(userID)
	if err != nil {
		return nil, err
	}

	if err := e.families.AddToken(ctx, claimed.FamilyID, newRefreshClaims.ID); err != nil {
		if errors.Is(err, refresh.ErrFamilyNotFound) {
			return nil, e.familyIntegrityFailure(ctx, claimed)
		}
		return nil, err
	}

	now := time.Now()
	successor := &refresh.Record{
		TokenID:   newRefreshClaims.ID,
		UserID:    userID,
		SessionID: claimed.SessionID,
		DeviceID:  claimed.DeviceID,
		FamilyID:  claimed.FamilyID,
		ParentID:  claimed.TokenID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(e.config.JWT.RefreshTTL).Unix(),
	}
	if err := e.refreshStore.Save(ctx, newRefreshToken, successor, e.config.JWT.RefreshTTL); err != nil {
		return nil, err
	}

	// The consumed token stays in the store, used and revoked, for the
	// rest of its TTL. Deleting it would turn a later replay into a
	// routine not-found instead of a reuse alarm.
	if err := e.refreshStore.Revoke(ctx, refreshToken); err != nil {
		return nil, err
	}

	accessToken, _, err := e.tokens.IssueAccess(jwt.AccessTokenInput{
		UserID:      userID,
		TenantID:    grant.TenantID,
		SessionID:   claimed.SessionID,
		DeviceID:    claimed.DeviceID,
		Scopes:      grant.Scopes,
		Permissions: grant.Permissions,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, userID, grant.TenantID, claimed.SessionID, nil, func() map[string]string {
		return map[string]string{"family_id": claimed.FamilyID}
	})

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     newRefreshToken,
		TokenType:        "Bearer",
		AccessExpiresIn:  e.config.JWT.AccessTTL,
		RefreshExpiresIn: e.config.JWT.RefreshTTL,
	}, nil
}

// refreshWithoutRotation mints a new access token while leaving the
// refresh token in place. Reduced-security mode for clients that cannot
// store a new refresh token per refresh.
func (e *Engine) refreshWithoutRotation(ctx context.Context, refreshToken string, rec *refresh.Record, grant AccessGrant) (*TokenPair, error) {
	if rec.Revoked {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshTokenNotFound
	}

	accessToken, _, err := e.tokens.IssueAccess(jwt.AccessTokenInput{
		UserID:      rec.UserID,
		TenantID:    grant.TenantID,
		SessionID:   rec.SessionID,
		DeviceID:    rec.DeviceID,
		Scopes:      grant.Scopes,
		Permissions: grant.Permissions,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, rec.UserID, grant.TenantID, rec.SessionID, nil, func() map[string]string {
		return map[string]string{"rotation": "disabled"}
	})

	remaining := time.Until(time.Unix(rec.ExpiresAt, 0))
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		AccessExpiresIn:  e.config.JWT.AccessTTL,
		RefreshExpiresIn: remaining,
	}, nil
}

// handleReuse runs the containment cascade and returns ErrRefreshReuse.
func (e *Engine) handleReuse(ctx context.Context, rec *refresh.Record, verdict refresh.Verdict, tenantID string) error {
	cascadeErr := e.detector.HandleReuse(ctx, rec, verdict)

	e.metricInc(MetricRefreshReuseDetected)
	e.metricInc(MetricUserRevoked)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, rec.UserID, tenantID, rec.SessionID, ErrRefreshReuse, func() map[string]string {
		return map[string]string{
			"family_id": rec.FamilyID,
			"reason":    verdict.Reason,
		}
	})
	e.publishEvent(ctx, RevocationEvent{
		EventType: EventReuseDetected,
		UserID:    rec.UserID,
		TenantID:  tenantID,
		SessionID: rec.SessionID,
		TokenID:   rec.TokenID,
		Reason:    verdict.Reason,
	})
	e.publishEvent(ctx, RevocationEvent{
		EventType: EventUserTokensRevoked,
		UserID:    rec.UserID,
		TenantID:  tenantID,
		Reason:    "refresh token reuse",
	})

	if cascadeErr != nil {
		// The caller still gets the reuse error; a partially failed
		// cascade is logged by the detector and must be investigated.
		return fmt.Errorf("%w: cascade incomplete: %v", ErrRefreshReuse, cascadeErr)
	}
	return ErrRefreshReuse
}

// familyIntegrityFailure logs and wraps a missing-family condition. This
// is never routine expiry: the record carries a family id the tracker does
// not know.
func (e *Engine) familyIntegrityFailure(ctx context.Context, rec *refresh.Record) error {
	e.metricInc(MetricRefreshFailure)
	e.logger.Error().
		Str("event", "family_integrity_violation").
		Str("user_id", rec.UserID).
		Str("family_id", rec.FamilyID).
		Str("token_id", rec.TokenID).
		Msg("refresh record references unknown token family")
	e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, "", rec.SessionID, ErrFamilyIntegrity, func() map[string]string {
		return map[string]string{"family_id": rec.FamilyID}
	})
	return ErrFamilyIntegrity
}
