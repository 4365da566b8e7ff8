package authcore

import (
	"errors"
	"time"

	"github.com/tessera-platform/authcore/session"
)

// Config is the full engine configuration. Instances are treated as
// immutable after [Builder.Build]; the builder clones them.
type Config struct {
	JWT         JWTConfig
	Rotation    RotationConfig
	Session     SessionConfig
	Renewal     RenewalConfig
	Concurrency ConcurrencyConfig
	Revocation  RevocationConfig
	Throttle    ThrottleConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Events      EventsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token issuance. Leeway applies to expiry comparisons
// only and never relaxes signature verification.
type JWTConfig struct {
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ServiceTTL   time.Duration
	Leeway       time.Duration
	MaxTokenSize int
}

/*
====================================
ROTATION CONFIG
====================================
*/

// RotationConfig controls refresh token rotation and reuse detection.
//
// Disabling rotation keeps refresh tokens valid for their whole lifetime
// and makes reuse detection impossible. That mode exists for legacy
// clients that cannot store a new refresh token on every refresh, and it
// must be acknowledged explicitly via AllowReducedSecurity.
type RotationConfig struct {
	Enabled              bool
	ReuseDetection       bool
	AllowReducedSecurity bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session creation defaults.
type SessionConfig struct {
	TTL         time.Duration
	MaxLifetime time.Duration
}

// RenewalConfig controls lazy session renewal.
type RenewalConfig struct {
	Enabled   bool
	Cooldown  time.Duration
	Threshold time.Duration
	Extension time.Duration
}

// ConcurrencyConfig controls how many sessions a user may hold at once.
type ConcurrencyConfig struct {
	Policy      session.Policy
	MaxSessions int
	LimitAction session.LimitAction
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig controls the revocation registry.
type RevocationConfig struct {
	// Retention bounds how long cutoff entries live. It must exceed the
	// refresh TTL so no live token outlasts the rule revoking it.
	Retention time.Duration
}

// ThrottleConfig controls the refresh rate limiter.
type ThrottleConfig struct {
	EnableRefreshThrottle   bool
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the
	// buffer is full. Dropped counts are observable via AuditDropped.
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics collector.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// EventsConfig controls the fire-and-forget revocation event publisher.
type EventsConfig struct {
	Channel string
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:       "authcore",
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			ServiceTTL:   time.Hour,
			Leeway:       30 * time.Second,
			MaxTokenSize: 8192,
		},
		Rotation: RotationConfig{
			Enabled:        true,
			ReuseDetection: true,
		},
		Session: SessionConfig{
			TTL:         24 * time.Hour,
			MaxLifetime: 30 * 24 * time.Hour,
		},
		Renewal: RenewalConfig{
			Enabled:   true,
			Cooldown:  5 * time.Minute,
			Threshold: time.Hour,
			Extension: 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			Policy:      session.PolicyAllowAll,
			MaxSessions: 3,
			LimitAction: session.LimitReject,
		},
		Revocation: RevocationConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Throttle: ThrottleConfig{
			EnableRefreshThrottle:   false,
			MaxRefreshAttempts:      30,
			RefreshCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Events: EventsConfig{
			Channel: "auth.revocation.events",
		},
	}
}

func cloneConfig(cfg Config) Config {
	// Config has no reference fields today; a value copy is a deep copy.
	return cfg
}

// Validate checks the configuration for contradictions. It is called by
// [Builder.Build]; direct callers only need it when assembling configs
// dynamically.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT.RefreshTTL must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT.RefreshTTL must exceed JWT.AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT.Leeway out of range")
	}

	if !c.Rotation.Enabled && !c.Rotation.AllowReducedSecurity {
		return errors.New("Rotation.Enabled=false requires Rotation.AllowReducedSecurity acknowledgement")
	}
	if c.Rotation.ReuseDetection && !c.Rotation.Enabled {
		return errors.New("Rotation.ReuseDetection requires Rotation.Enabled")
	}

	if c.Session.TTL <= 0 {
		return errors.New("Session.TTL must be positive")
	}
	if c.Session.MaxLifetime > 0 && c.Session.MaxLifetime < c.Session.TTL {
		return errors.New("Session.MaxLifetime must be at least Session.TTL")
	}

	if c.Renewal.Enabled {
		if c.Renewal.Cooldown < 0 {
			return errors.New("Renewal.Cooldown must not be negative")
		}
		if c.Renewal.Extension <= 0 {
			return errors.New("Renewal.Extension must be positive")
		}
	}

	if c.Concurrency.Policy == session.PolicyLimit && c.Concurrency.MaxSessions <= 0 {
		return errors.New("Concurrency.MaxSessions must be positive under the limit policy")
	}

	if c.Revocation.Retention < c.JWT.RefreshTTL {
		return errors.New("Revocation.Retention must cover JWT.RefreshTTL")
	}

	if c.Throttle.EnableRefreshThrottle {
		if c.Throttle.MaxRefreshAttempts <= 0 {
			return errors.New("Throttle.MaxRefreshAttempts must be positive")
		}
		if c.Throttle.RefreshCooldownDuration <= 0 {
			return errors.New("Throttle.RefreshCooldownDuration must be positive")
		}
	}

	if c.Events.Channel == "" {
		return errors.New("Events.Channel must not be empty")
	}

	return nil
}
