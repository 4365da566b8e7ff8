package authcore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tessera-platform/authcore/jwt"
)

var (
	testRSAOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

func testSigningKey(t *testing.T) *jwt.SigningKey {
	t.Helper()

	testRSAOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("rsa.GenerateKey failed: %v", err)
		}
		testRSAKey = key
	})

	return &jwt.SigningKey{
		KeyID:      "test-key-1",
		Algorithm:  jwt.AlgRS256,
		PrivateKey: testRSAKey,
		PublicKey:  &testRSAKey.PublicKey,
		CreatedAt:  time.Now(),
		Active:     true,
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func engineTestConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.Issuer = "https://auth.test"
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 24 * time.Hour
	cfg.Revocation.Retention = 24 * time.Hour
	return cfg
}

type capturePublisher struct {
	mu     sync.Mutex
	events []RevocationEvent
}

func (p *capturePublisher) Publish(_ context.Context, event RevocationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(eventType string) []RevocationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []RevocationEvent
	for _, ev := range p.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *miniredis.Miniredis, *capturePublisher, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	pub := &capturePublisher{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithSigningKey(testSigningKey(t)).
		WithEventPublisher(pub).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	done := func() {
		engine.Close()
		mr.Close()
	}
	return engine, mr, pub, done
}

func startTestSession(t *testing.T, engine *Engine, userID, tenantID string) *SessionGrant {
	t.Helper()

	grant, err := engine.StartSession(context.Background(), StartSessionInput{
		UserID:   userID,
		TenantID: tenantID,
		Scopes:   []string{"openid"},
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return grant
}
