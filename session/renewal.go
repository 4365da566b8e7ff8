package session

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// RenewalPolicy controls lazy session renewal. A session is only extended
// when it is close enough to expiry (Threshold), has not been renewed
// within Cooldown, and has not exceeded MaxLifetime since creation.
type RenewalPolicy struct {
	Enabled     bool
	Cooldown    time.Duration
	Threshold   time.Duration
	Extension   time.Duration
	MaxLifetime time.Duration
}

// RenewalResult reports whether a renewal happened and why not when it
// did not. Skipped renewals are normal control flow, not errors.
type RenewalResult struct {
	Renewed bool
	Reason  string
	Session *Session
}

// Renewer applies a [RenewalPolicy] on top of a [Registry]. The cooldown
// ledger is an in-process TTL cache; each node tracks its own cooldowns,
// which at worst allows one extra renewal per node per window.
type Renewer struct {
	registry *Registry
	policy   RenewalPolicy
	recent   *ttlcache.Cache[string, time.Time]
}

// NewRenewer creates a [Renewer]. Call Close when done to stop the
// cooldown cache janitor.
func NewRenewer(registry *Registry, policy RenewalPolicy) *Renewer {
	r := &Renewer{
		registry: registry,
		policy:   policy,
	}

	if policy.Cooldown > 0 {
		r.recent = ttlcache.New[string, time.Time](
			ttlcache.WithTTL[string, time.Time](policy.Cooldown),
			// A cooldown check must not refresh the cooldown.
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		)
		go r.recent.Start()
	}

	return r
}

// Close stops the cooldown cache janitor.
func (r *Renewer) Close() {
	if r.recent != nil {
		r.recent.Stop()
	}
}

// Renew evaluates the policy for a session and extends it when every gate
// passes. The checks run in a fixed order: enabled, existence, cooldown,
// lifetime cap, expiry threshold.
func (r *Renewer) Renew(ctx context.Context, sessionID string) (RenewalResult, error) {
	if !r.policy.Enabled {
		return RenewalResult{Reason: "renewal disabled"}, nil
	}

	sess, err := r.registry.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return RenewalResult{Reason: "session not found"}, nil
		}
		return RenewalResult{}, err
	}

	if r.recent != nil && r.recent.Get(sessionID) != nil {
		return RenewalResult{Reason: "renewal cooldown active", Session: sess}, nil
	}

	now := time.Now()
	remainingToCap := r.policy.MaxLifetime - sess.Age(now)
	if r.policy.MaxLifetime > 0 && remainingToCap <= 0 {
		return RenewalResult{Reason: "maximum session lifetime reached", Session: sess}, nil
	}

	if r.policy.Threshold > 0 && sess.TimeUntilExpiry(now) > r.policy.Threshold {
		return RenewalResult{Reason: "session not close enough to expiry", Session: sess}, nil
	}

	extension := r.policy.Extension
	if extension <= 0 {
		extension = 24 * time.Hour
	}
	// The extension never pushes expiry past created_at + MaxLifetime.
	if r.policy.MaxLifetime > 0 && extension > remainingToCap {
		extension = remainingToCap
	}

	renewed, err := r.registry.Renew(ctx, sessionID, extension)
	if err != nil {
		return RenewalResult{}, err
	}

	if r.recent != nil {
		r.recent.Set(sessionID, now, ttlcache.DefaultTTL)
	}

	return RenewalResult{Renewed: true, Reason: "renewed", Session: renewed}, nil
}
