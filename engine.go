package authcore

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tessera-platform/authcore/internal/rate"
	"github.com/tessera-platform/authcore/jwt"
	"github.com/tessera-platform/authcore/refresh"
	"github.com/tessera-platform/authcore/revocation"
	"github.com/tessera-platform/authcore/session"
)

// Engine is the authentication token engine: session lifecycle, access and
// refresh token issuance, atomic refresh rotation with reuse detection,
// and multi-scope revocation.
//
// Engines are built through [Builder.Build] and are safe for concurrent
// use afterwards.
type Engine struct {
	config       Config
	keys         *jwt.KeyRing
	tokens       *jwt.Manager
	revocations  *revocation.Registry
	refreshStore *refresh.Store
	families     *refresh.Tracker
	detector     *refresh.Detector
	sessions     *session.Registry
	renewer      *session.Renewer
	enforcer     *session.Enforcer
	limiter      *rate.Limiter
	events       EventPublisher
	audit        *auditDispatcher
	metrics      *Metrics
	mfa          MFAVerifier
	logger       zerolog.Logger
}

// Close releases engine resources: the audit dispatcher drains its queue
// and the renewal cooldown cache stops its janitor.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.renewer != nil {
		e.renewer.Close()
	}
}

// Ping checks the Redis backend and returns the round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Ping(ctx)
}

// Keys exposes the key ring for rotation tooling.
func (e *Engine) Keys() *jwt.KeyRing {
	if e == nil {
		return nil
	}
	return e.keys
}

// IssueServiceToken mints a service-to-service token.
func (e *Engine) IssueServiceToken(service string, scopes []string) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	signed, _, err := e.tokens.IssueService(service, scopes)
	return signed, err
}

// ValidateServiceToken checks a service token and returns its claims.
func (e *Engine) ValidateServiceToken(raw string) (*jwt.ServiceClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	return e.tokens.VerifyService(raw)
}

// AuditDropped returns how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}
