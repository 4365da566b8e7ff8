package session

import (
	"context"
	"testing"
	"time"
)

func seedSessions(t *testing.T, registry *Registry, userID string, deviceTypes ...string) []*Session {
	t.Helper()

	sessions := make([]*Session, 0, len(deviceTypes))
	for _, deviceType := range deviceTypes {
		sess, err := registry.Create(context.Background(), CreateParams{
			UserID:     userID,
			DeviceInfo: DeviceInfo{Type: deviceType},
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		sessions = append(sessions, sess)
		// Millisecond timestamps need real time between creates.
		time.Sleep(5 * time.Millisecond)
	}
	return sessions
}

func TestEnforcerAllowAll(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	seedSessions(t, registry, "user-1", "desktop", "desktop", "mobile", "mobile")

	enforcer := NewEnforcer(registry, PolicyAllowAll, 1, LimitReject)
	decision, err := enforcer.CanCreate(context.Background(), "user-1", "desktop")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed || len(decision.SessionsToRemove) != 0 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestEnforcerLimitUnder(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	seedSessions(t, registry, "user-1", "desktop")

	enforcer := NewEnforcer(registry, PolicyLimit, 2, LimitReject)
	decision, err := enforcer.CanCreate(context.Background(), "user-1", "desktop")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed || decision.Reason != "under session limit" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestEnforcerLimitReject(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	seedSessions(t, registry, "user-1", "desktop", "mobile")

	enforcer := NewEnforcer(registry, PolicyLimit, 2, LimitReject)
	decision, err := enforcer.CanCreate(context.Background(), "user-1", "desktop")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed {
		t.Fatalf("expected rejection, got %+v", decision)
	}

	// Another user is unaffected by the first user's limit.
	other, err := enforcer.CanCreate(context.Background(), "user-2", "desktop")
	if err != nil {
		t.Fatal(err)
	}
	if !other.Allowed {
		t.Fatalf("unexpected decision for other user: %+v", other)
	}
}

func TestEnforcerLimitRemoveOldest(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	sessions := seedSessions(t, registry, "user-1", "desktop", "mobile", "tablet")

	enforcer := NewEnforcer(registry, PolicyLimit, 3, LimitRemoveOldest)
	decision, err := enforcer.CanCreate(context.Background(), "user-1", "desktop")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allowed, got %+v", decision)
	}
	if len(decision.SessionsToRemove) != 1 || decision.SessionsToRemove[0] != sessions[0].ID {
		t.Fatalf("expected oldest session %s, got %v", sessions[0].ID, decision.SessionsToRemove)
	}
}

func TestEnforcerLimitRemoveLeastActive(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	sessions := seedSessions(t, registry, "user-1", "desktop", "mobile", "tablet")

	// The oldest session is the most recently active one, so the two
	// actions pick different victims.
	time.Sleep(5 * time.Millisecond)
	if err := registry.Touch(context.Background(), sessions[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := registry.Touch(context.Background(), sessions[2].ID); err != nil {
		t.Fatal(err)
	}

	enforcer := NewEnforcer(registry, PolicyLimit, 3, LimitRemoveLeastActive)
	decision, err := enforcer.CanCreate(context.Background(), "user-1", "desktop")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allowed, got %+v", decision)
	}
	if len(decision.SessionsToRemove) != 1 || decision.SessionsToRemove[0] != sessions[1].ID {
		t.Fatalf("expected least active session %s, got %v", sessions[1].ID, decision.SessionsToRemove)
	}
}

func TestEnforcerExclusive(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)

	enforcer := NewEnforcer(registry, PolicyExclusive, 0, LimitReject)
	decision, err := enforcer.CanCreate(context.Background(), "user-1", "desktop")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed || len(decision.SessionsToRemove) != 0 {
		t.Fatalf("unexpected decision for first login: %+v", decision)
	}

	sessions := seedSessions(t, registry, "user-1", "desktop", "mobile")
	decision, err = enforcer.CanCreate(context.Background(), "user-1", "tablet")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed || len(decision.SessionsToRemove) != 2 {
		t.Fatalf("expected both sessions displaced, got %+v", decision)
	}
	removed := map[string]bool{}
	for _, id := range decision.SessionsToRemove {
		removed[id] = true
	}
	if !removed[sessions[0].ID] || !removed[sessions[1].ID] {
		t.Fatalf("unexpected victims: %v", decision.SessionsToRemove)
	}
}

func TestEnforcerDeviceExclusive(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	sessions := seedSessions(t, registry, "user-1", "desktop", "mobile")

	enforcer := NewEnforcer(registry, PolicyDeviceExclusive, 0, LimitReject)

	decision, err := enforcer.CanCreate(context.Background(), "user-1", "tablet")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed || len(decision.SessionsToRemove) != 0 {
		t.Fatalf("unexpected decision for new device type: %+v", decision)
	}

	decision, err = enforcer.CanCreate(context.Background(), "user-1", "mobile")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allowed, got %+v", decision)
	}
	if len(decision.SessionsToRemove) != 1 || decision.SessionsToRemove[0] != sessions[1].ID {
		t.Fatalf("expected mobile session %s, got %v", sessions[1].ID, decision.SessionsToRemove)
	}
}

func TestEnforcerIgnoresInactiveSessions(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	sessions := seedSessions(t, registry, "user-1", "desktop", "mobile")

	if err := registry.Deactivate(context.Background(), sessions[0].ID); err != nil {
		t.Fatal(err)
	}

	enforcer := NewEnforcer(registry, PolicyLimit, 2, LimitReject)
	decision, err := enforcer.CanCreate(context.Background(), "user-1", "desktop")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed || decision.Reason != "under session limit" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestEnforcerNeverMutates(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	seedSessions(t, registry, "user-1", "desktop", "mobile", "tablet")

	enforcer := NewEnforcer(registry, PolicyLimit, 3, LimitRemoveOldest)
	if _, err := enforcer.CanCreate(context.Background(), "user-1", "desktop"); err != nil {
		t.Fatal(err)
	}

	remaining, err := registry.ListForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 3 {
		t.Fatalf("enforcer mutated state, %d sessions left", len(remaining))
	}
}
