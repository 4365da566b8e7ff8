package authcore

import (
	"time"

	"github.com/tessera-platform/authcore/session"
)

// SecurityReport is a point-in-time summary of the engine's security
// posture, derived from configuration and key material. Intended for
// startup logging and compliance checks.
type SecurityReport struct {
	SigningKeyCount        int
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	Leeway                 time.Duration
	RotationEnabled        bool
	ReuseDetectionEnabled  bool
	ReducedSecurityMode    bool
	ConcurrencyPolicy      string
	SessionCapsActive      bool
	RefreshThrottleActive  bool
	RenewalEnabled         bool
	AuditEnabled           bool
	RevocationEventChannel string
}

// SecurityReport builds the posture summary. ReducedSecurityMode is true
// only when rotation is off and the deployment acknowledged it.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	keyCount := 0
	if e.keys != nil {
		keyCount = len(e.keys.KeyIDs())
	}

	sessionCaps := e.config.Concurrency.Policy != session.PolicyAllowAll

	return SecurityReport{
		SigningKeyCount:        keyCount,
		AccessTTL:              e.config.JWT.AccessTTL,
		RefreshTTL:             e.config.JWT.RefreshTTL,
		Leeway:                 e.config.JWT.Leeway,
		RotationEnabled:        e.config.Rotation.Enabled,
		ReuseDetectionEnabled:  e.config.Rotation.Enabled && e.config.Rotation.ReuseDetection,
		ReducedSecurityMode:    !e.config.Rotation.Enabled && e.config.Rotation.AllowReducedSecurity,
		ConcurrencyPolicy:      e.config.Concurrency.Policy.String(),
		SessionCapsActive:      sessionCaps,
		RefreshThrottleActive:  e.config.Throttle.EnableRefreshThrottle,
		RenewalEnabled:         e.config.Renewal.Enabled,
		AuditEnabled:           e.config.Audit.Enabled,
		RevocationEventChannel: e.config.Events.Channel,
	}
}
