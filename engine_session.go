package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-platform/authcore/jwt"
	"github.com/tessera-platform/authcore/refresh"
	"github.com/tessera-platform/authcore/session"
)

// StartSession opens a session for an already-authenticated user and
// issues its first token pair. The refresh token opens a new rotation
// family; the concurrency policy may displace existing sessions first.
func (e *Engine) StartSession(ctx context.Context, input StartSessionInput) (*SessionGrant, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if input.UserID == "" || input.TenantID == "" {
		return nil, errors.New("user id and tenant id required")
	}

	decision, err := e.enforcer.CanCreate(ctx, input.UserID, input.DeviceInfo.Type)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		e.metricInc(MetricSessionLimitRejected)
		e.emitAudit(ctx, auditEventSessionLimitRejected, false, input.UserID, input.TenantID, "", ErrSessionLimitExceeded, func() map[string]string {
			return map[string]string{"reason": decision.Reason}
		})
		return nil, fmt.Errorf("%w: %s", ErrSessionLimitExceeded, decision.Reason)
	}

	displaced := make([]DisplacedSession, 0, len(decision.SessionsToRemove))
	for _, sid := range decision.SessionsToRemove {
		if err := e.terminateSession(ctx, sid, decision.Reason); err != nil {
			return nil, err
		}
		e.metricInc(MetricSessionDisplaced)
		e.emitAudit(ctx, auditEventSessionDisplaced, true, input.UserID, input.TenantID, sid, nil, func() map[string]string {
			return map[string]string{"reason": decision.Reason}
		})
		displaced = append(displaced, DisplacedSession{SessionID: sid, Reason: decision.Reason})
	}

	sess, err := e.sessions.Create(ctx, session.CreateParams{
		UserID:      input.UserID,
		TenantID:    input.TenantID,
		DeviceID:    input.DeviceID,
		DeviceInfo:  input.DeviceInfo,
		IPAddress:   input.IPAddress,
		Location:    input.Location,
		MFAVerified: input.MFAVerified,
	})
	if err != nil {
		return nil, err
	}

	refreshToken, refreshClaims, err := e.tokens.IssueRefresh(input.UserID)
	if err != nil {
		return nil, err
	}

	familyID, err := e.families.Create(ctx, input.UserID, refreshClaims.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &refresh.Record{
		TokenID:   refreshClaims.ID,
		UserID:    input.UserID,
		SessionID: sess.ID,
		DeviceID:  input.DeviceID,
		FamilyID:  familyID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(e.config.JWT.RefreshTTL).Unix(),
	}
	if err := e.refreshStore.Save(ctx, refreshToken, rec, e.config.JWT.RefreshTTL); err != nil {
		return nil, err
	}

	accessToken, _, err := e.tokens.IssueAccess(jwt.AccessTokenInput{
		UserID:      input.UserID,
		TenantID:    input.TenantID,
		SessionID:   sess.ID,
		DeviceID:    input.DeviceID,
		Scopes:      input.Scopes,
		Permissions: input.Permissions,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionStarted)
	e.emitAudit(ctx, auditEventSessionStarted, true, input.UserID, input.TenantID, sess.ID, nil, func() map[string]string {
		return map[string]string{
			"device_id": input.DeviceID,
			"family_id": familyID,
		}
	})

	return &SessionGrant{
		Session: sess,
		Tokens: TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     refreshToken,
			TokenType:        "Bearer",
			AccessExpiresIn:  e.config.JWT.AccessTTL,
			RefreshExpiresIn: e.config.JWT.RefreshTTL,
		},
		FamilyID:  familyID,
		Displaced: displaced,
	}, nil
}

// GetSession retrieves a session by id.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// Sessions lists every live session of a user.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]*session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	return e.sessions.ListForUser(ctx, userID)
}

// TouchSession updates a session's last_activity without changing expiry.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.Touch(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// RenewSession applies the renewal policy to a session. A skipped renewal
// is a normal outcome, reported in the result rather than as an error.
func (e *Engine) RenewSession(ctx context.Context, sessionID string) (session.RenewalResult, error) {
	if e == nil || e.renewer == nil {
		return session.RenewalResult{}, ErrEngineNotReady
	}

	result, err := e.renewer.Renew(ctx, sessionID)
	if err != nil {
		return session.RenewalResult{}, err
	}

	if result.Renewed {
		e.metricInc(MetricRenewalSuccess)
		e.emitAudit(ctx, auditEventSessionRenewed, true, userIDOf(result.Session), tenantIDOf(result.Session), sessionID, nil, nil)
	} else {
		e.metricInc(MetricRenewalSkipped)
		e.emitAudit(ctx, auditEventSessionRenewalSkip, true, userIDOf(result.Session), tenantIDOf(result.Session), sessionID, nil, func() map[string]string {
			return map[string]string{"reason": result.Reason}
		})
	}

	return result, nil
}

// TerminateSession ends a session: the record is deleted, tokens bound to
// it are revoked, and a session.terminated event is published.
func (e *Engine) TerminateSession(ctx context.Context, sessionID, reason string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return e.terminateSession(ctx, sessionID, reason)
}

// TerminateAllSessions ends every session of a user and returns how many
// were terminated.
func (e *Engine) TerminateAllSessions(ctx context.Context, userID, reason string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	sessions, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	var terminated int
	for _, sess := range sessions {
		if err := e.terminateSession(ctx, sess.ID, reason); err != nil {
			return terminated, err
		}
		terminated++
	}

	return terminated, nil
}

// MarkSessionMFAVerified verifies an MFA challenge through the installed
// verifier and flags the session on success.
func (e *Engine) MarkSessionMFAVerified(ctx context.Context, sessionID, method, code string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if e.mfa == nil {
		return ErrMFAUnavailable
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	if err := e.mfa.Verify(ctx, sess.UserID, method, code); err != nil {
		e.emitAudit(ctx, auditEventSessionMFAVerified, false, sess.UserID, sess.TenantID, sessionID, ErrMFAInvalid, func() map[string]string {
			return map[string]string{"method": method}
		})
		return fmt.Errorf("%w: %v", ErrMFAInvalid, err)
	}

	sess.MFAVerified = true
	if _, err := e.sessions.Update(ctx, sess); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventSessionMFAVerified, true, sess.UserID, sess.TenantID, sessionID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})

	return nil
}

// terminateSession is the single code path for ending a session. The
// session-scope revocation entry outlives the session record so tokens
// minted under it die with it.
func (e *Engine) terminateSession(ctx context.Context, sessionID, reason string) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := e.revocations.RevokeSession(ctx, sessionID, e.config.Session.MaxLifetime); err != nil {
		return err
	}
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricSessionTerminated)
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionTerminated, true, sess.UserID, sess.TenantID, sessionID, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	e.publishEvent(ctx, RevocationEvent{
		EventType: EventSessionTerminated,
		UserID:    sess.UserID,
		TenantID:  sess.TenantID,
		SessionID: sessionID,
		Reason:    reason,
	})

	return nil
}

func userIDOf(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.UserID
}

func tenantIDOf(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.TenantID
}
