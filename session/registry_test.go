package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T, ttl time.Duration) (*Registry, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRegistry(client, ttl), mr
}

func TestRegistryCreateAndGet(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	sess, err := registry.Create(ctx, CreateParams{
		UserID:     "user-1",
		TenantID:   "tenant-1",
		DeviceInfo: DeviceInfo{Type: "mobile", Platform: "ios"},
		IPAddress:  "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("empty session id")
	}
	if !sess.IsActive {
		t.Fatal("new session inactive")
	}

	got, err := registry.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "user-1" || got.DeviceInfo.Type != "mobile" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := registry.Get(ctx, "no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryUpdateRejectsImmutableFields(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	sess, err := registry.Create(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	hijacked := *sess
	hijacked.UserID = "user-2"
	if _, err := registry.Update(ctx, &hijacked); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("user_id change accepted: %v", err)
	}

	rewound := *sess
	rewound.CreatedAt = sess.CreatedAt - 1000
	if _, err := registry.Update(ctx, &rewound); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("created_at change accepted: %v", err)
	}

	// Mutable fields update fine.
	sess.Location = "Berlin"
	updated, err := registry.Update(ctx, sess)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Location != "Berlin" {
		t.Fatalf("mutable update lost: %+v", updated)
	}
}

func TestRegistryUpdatePreservesTTL(t *testing.T) {
	registry, mr := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	sess, err := registry.Create(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	mr.FastForward(30 * time.Minute)

	sess.Location = "Lisbon"
	if _, err := registry.Update(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// Expiry still hits at the original deadline.
	mr.FastForward(31 * time.Minute)
	if _, err := registry.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("update reset the session TTL: %v", err)
	}
}

func TestRegistryTouch(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	sess, err := registry.Create(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := registry.Touch(ctx, sess.ID); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	got, err := registry.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastActivity <= sess.LastActivity {
		t.Fatal("last_activity not advanced")
	}
	if got.ExpiresAt != sess.ExpiresAt {
		t.Fatal("touch moved expiry")
	}
}

func TestRegistryRenew(t *testing.T) {
	registry, mr := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	sess, err := registry.Create(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	renewed, err := registry.Renew(ctx, sess.ID, 2*time.Hour)
	if err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if renewed.ExpiresAt <= sess.ExpiresAt {
		t.Fatal("renew did not extend expiry")
	}

	// Alive past the original TTL.
	mr.FastForward(90 * time.Minute)
	if _, err := registry.Get(ctx, sess.ID); err != nil {
		t.Fatalf("renewed session expired early: %v", err)
	}
}

func TestRegistryDeactivate(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	sess, err := registry.Create(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := registry.Deactivate(ctx, sess.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	got, err := registry.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("deactivated session unreadable: %v", err)
	}
	if got.IsActive {
		t.Fatal("session still active")
	}
}

func TestRegistryDeleteIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	sess, err := registry.Create(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := registry.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := registry.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("second Delete errored: %v", err)
	}
	if _, err := registry.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryListForUserPrunesStale(t *testing.T) {
	registry, mr := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	live, err := registry.Create(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	stale, err := registry.Create(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	// Expire one record directly, leaving its index entry behind.
	mr.Del("session:" + stale.ID)

	sessions, err := registry.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListForUser failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != live.ID {
		t.Fatalf("unexpected listing: %+v", sessions)
	}

	// The stale id was pruned from the index.
	n, err := registry.CountForUser(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("stale index entry survived: %d", n)
	}
}

func TestRegistryDeleteAllForUser(t *testing.T) {
	registry, _ := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := registry.Create(ctx, CreateParams{UserID: "user-1"}); err != nil {
			t.Fatal(err)
		}
	}
	other, err := registry.Create(ctx, CreateParams{UserID: "user-2"})
	if err != nil {
		t.Fatal(err)
	}

	n, err := registry.DeleteAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("DeleteAllForUser failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}

	if _, err := registry.Get(ctx, other.ID); err != nil {
		t.Fatalf("other user's session deleted: %v", err)
	}
}
