package authcore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocation event types published on the event channel. Downstream
// services use these to purge caches and cut websocket connections.
const (
	EventTokenRevoked       = "token.revoked"
	EventUserTokensRevoked  = "user.tokens.revoked"
	EventSessionTerminated  = "session.terminated"
	EventTenantTokensPurged = "tenant.tokens.revoked"
	EventReuseDetected      = "token.reuse.detected"
)

// RevocationEvent is the payload published for every revocation. Delivery
// is best effort: the revocation itself is durable in the registry, the
// event only accelerates cache invalidation.
type RevocationEvent struct {
	EventType string            `json:"event_type"`
	Timestamp int64             `json:"timestamp"`
	UserID    string            `json:"user_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	TokenID   string            `json:"token_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventPublisher delivers revocation events to interested services.
// Implementations must be safe for concurrent use.
type EventPublisher interface {
	Publish(ctx context.Context, event RevocationEvent) error
}

// NoOpPublisher discards every event.
type NoOpPublisher struct{}

// Publish implements [EventPublisher].
func (NoOpPublisher) Publish(context.Context, RevocationEvent) error { return nil }

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	redis   redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a [RedisPublisher] on the given channel.
func NewRedisPublisher(redisClient redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "auth.revocation.events"
	}
	return &RedisPublisher{
		redis:   redisClient,
		channel: channel,
	}
}

// Publish implements [EventPublisher].
func (p *RedisPublisher) Publish(ctx context.Context, event RevocationEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing revocation event: %w", err)
	}

	return nil
}

// publishEvent sends an event through the configured publisher. Publish
// failures are logged and counted, never propagated: a revocation that is
// durable in the registry must not fail because the notification fanout is
// down.
func (e *Engine) publishEvent(ctx context.Context, event RevocationEvent) {
	if e.events == nil {
		return
	}
	event.RequestID = requestIDFromContext(ctx)

	if err := e.events.Publish(ctx, event); err != nil {
		e.metricInc(MetricEventPublishFailure)
		e.logger.Warn().
			Str("event_type", event.EventType).
			Err(err).
			Msg("revocation event publish failed")
	}
}
