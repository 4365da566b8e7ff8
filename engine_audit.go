package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSessionStarted       = "session_started"
	auditEventSessionTerminated    = "session_terminated"
	auditEventSessionDisplaced     = "session_displaced"
	auditEventSessionLimitRejected = "session_limit_rejected"
	auditEventSessionRenewed       = "session_renewed"
	auditEventSessionRenewalSkip   = "session_renewal_skipped"
	auditEventSessionMFAVerified   = "session_mfa_verified"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventTokenRevoked         = "token_revoked"
	auditEventUserTokensRevoked    = "user_tokens_revoked"
	auditEventTenantTokensRevoked  = "tenant_tokens_revoked"
	auditEventValidateRevoked      = "validate_revoked"
)

// AuditErrorCode is the machine-readable error classification attached to
// failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrTokenRevoked    AuditErrorCode = "token_revoked"
	auditErrTokenNotFound   AuditErrorCode = "token_not_found"
	auditErrReuseDetected   AuditErrorCode = "reuse_detected"
	auditErrFamilyIntegrity AuditErrorCode = "family_integrity"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrSessionLimit    AuditErrorCode = "session_limit_exceeded"
	auditErrMFAInvalid      AuditErrorCode = "mfa_invalid"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tenantID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode maps engine errors to stable audit codes. Raw error text
// never enters the audit stream; it can carry token fragments.
func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRefreshReuse):
		return auditErrReuseDetected
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrRefreshTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrFamilyIntegrity):
		return auditErrFamilyIntegrity
	case errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionLimitExceeded):
		return auditErrSessionLimit
	case errors.Is(err, ErrMFAInvalid), errors.Is(err, ErrMFAUnavailable):
		return auditErrMFAInvalid
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	default:
		return auditErrInternal
	}
}
