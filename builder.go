package authcore

import (
	"errors"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tessera-platform/authcore/internal/rate"
	"github.com/tessera-platform/authcore/jwt"
	"github.com/tessera-platform/authcore/refresh"
	"github.com/tessera-platform/authcore/revocation"
	"github.com/tessera-platform/authcore/session"
)

// Builder assembles an Engine from configuration and dependencies. A
// Builder is single-use: Build succeeds at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	keys   *jwt.KeyRing
	keyErr error

	auditSink AuditSink
	events    EventPublisher
	mfa       MFAVerifier

	logger    zerolog.Logger
	hasLogger bool

	built bool
}

// New returns a Builder preloaded with defaultConfig. Callers chain WithX
// setters and finish with Build.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration. The config is cloned,
// so later mutation of cfg by the caller does not reach the Engine.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing every store. Accepts any
// UniversalClient, so single-node, sentinel, and cluster all work.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithKeyRing sets a pre-populated key ring. Use this when keys are
// loaded from a KMS or rotated by an external process.
func (b *Builder) WithKeyRing(keys *jwt.KeyRing) *Builder {
	b.keys = keys
	return b
}

// WithSigningKey adds a single platform signing key, creating the ring if
// needed. Convenience for single-key deployments; an invalid key surfaces
// at Build.
func (b *Builder) WithSigningKey(key *jwt.SigningKey) *Builder {
	if b.keys == nil {
		b.keys = jwt.NewKeyRing()
	}
	if err := b.keys.AddKey(key); err != nil {
		b.keyErr = err
	}
	return b
}

// WithAuditSink sets the destination for audit events. Without a sink the
// dispatcher is still constructed but events go nowhere.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithEventPublisher overrides the revocation event publisher. The
// default publishes to the configured Redis channel.
func (b *Builder) WithEventPublisher(pub EventPublisher) *Builder {
	b.events = pub
	return b
}

// WithMFAVerifier enables MarkSessionMFAVerified by supplying the
// code verifier.
func (b *Builder) WithMFAVerifier(v MFAVerifier) *Builder {
	b.mfa = v
	return b
}

// WithLogger sets the structured logger used for security and diagnostic
// logging. The default writes JSON to stderr.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	b.hasLogger = true
	return b
}

// Build validates the configuration and wires every component. The
// returned Engine owns background goroutines; release them with Close.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.keyErr != nil {
		return nil, b.keyErr
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.keys == nil {
		return nil, errors.New("signing keys required")
	}
	if _, err := b.keys.SigningKeyFor(""); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if !b.hasLogger {
		logger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "authcore").Logger()
	}

	tokens, err := jwt.NewManager(b.keys, jwt.Config{
		Issuer:       cfg.JWT.Issuer,
		AccessTTL:    cfg.JWT.AccessTTL,
		RefreshTTL:   cfg.JWT.RefreshTTL,
		ServiceTTL:   cfg.JWT.ServiceTTL,
		Leeway:       cfg.JWT.Leeway,
		MaxTokenSize: cfg.JWT.MaxTokenSize,
	})
	if err != nil {
		return nil, err
	}

	revocations := revocation.NewRegistry(b.redis, cfg.Revocation.Retention)
	refreshStore := refresh.NewStore(b.redis)
	families := refresh.NewTracker(b.redis, cfg.Revocation.Retention)
	detector := refresh.NewDetector(refreshStore, families, revocations, logger)

	sessions := session.NewRegistry(b.redis, cfg.Session.TTL)
	renewer := session.NewRenewer(sessions, session.RenewalPolicy{
		Enabled:     cfg.Renewal.Enabled,
		Cooldown:    cfg.Renewal.Cooldown,
		Threshold:   cfg.Renewal.Threshold,
		Extension:   cfg.Renewal.Extension,
		MaxLifetime: cfg.Session.MaxLifetime,
	})
	enforcer := session.NewEnforcer(sessions, cfg.Concurrency.Policy, cfg.Concurrency.MaxSessions, cfg.Concurrency.LimitAction)

	events := b.events
	if events == nil {
		events = NewRedisPublisher(b.redis, cfg.Events.Channel)
	}

	engine := &Engine{
		config:       cfg,
		keys:         b.keys,
		tokens:       tokens,
		revocations:  revocations,
		refreshStore: refreshStore,
		families:     families,
		detector:     detector,
		sessions:     sessions,
		renewer:      renewer,
		enforcer:     enforcer,
		limiter: rate.New(b.redis, rate.Config{
			EnableRefreshThrottle:   cfg.Throttle.EnableRefreshThrottle,
			MaxRefreshAttempts:      cfg.Throttle.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.Throttle.RefreshCooldownDuration,
		}),
		events:  events,
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		mfa:     b.mfa,
		logger:  logger,
	}

	b.built = true

	return engine, nil
}
