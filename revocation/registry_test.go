package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRegistry(client, 24*time.Hour), mr
}

func TestCheckNoRules(t *testing.T) {
	registry, _ := newTestRegistry(t)

	status, err := registry.Check(context.Background(), "at_1", "user-1", "st_1", "tenant-1", time.Now())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status.Revoked || status.Scope != ScopeNone {
		t.Fatalf("clean token reported revoked: %+v", status)
	}
}

func TestTokenScope(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.RevokeToken(ctx, "at_1", time.Hour); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}

	status, err := registry.Check(ctx, "at_1", "user-1", "st_1", "tenant-1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !status.Revoked || status.Scope != ScopeToken {
		t.Fatalf("expected token scope, got %+v", status)
	}

	// A different jti of the same user is unaffected.
	status, err = registry.Check(ctx, "at_2", "user-1", "st_1", "tenant-1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if status.Revoked {
		t.Fatalf("unrelated token revoked: %+v", status)
	}
}

func TestUserCutoffSemantics(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	cutoff := time.Now()
	if err := registry.RevokeUserBefore(ctx, "user-1", cutoff); err != nil {
		t.Fatalf("RevokeUserBefore failed: %v", err)
	}

	// Issued before the cutoff: revoked.
	status, err := registry.Check(ctx, "at_1", "user-1", "", "tenant-1", cutoff.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !status.Revoked || status.Scope != ScopeUser {
		t.Fatalf("expected user scope, got %+v", status)
	}

	// Issued after the cutoff: valid. Re-login works without clearing
	// the cutoff.
	status, err = registry.Check(ctx, "at_2", "user-1", "", "tenant-1", cutoff.Add(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if status.Revoked {
		t.Fatalf("token issued after cutoff revoked: %+v", status)
	}

	// Another user is untouched.
	status, err = registry.Check(ctx, "at_3", "user-2", "", "tenant-1", cutoff.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if status.Revoked {
		t.Fatalf("unrelated user revoked: %+v", status)
	}
}

func TestSessionScope(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.RevokeSession(ctx, "st_1", time.Hour); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	status, err := registry.Check(ctx, "at_1", "user-1", "st_1", "tenant-1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !status.Revoked || status.Scope != ScopeSession {
		t.Fatalf("expected session scope, got %+v", status)
	}

	ok, err := registry.IsSessionRevoked(ctx, "st_1")
	if err != nil || !ok {
		t.Fatalf("IsSessionRevoked: ok=%v err=%v", ok, err)
	}
}

func TestTenantCutoff(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	cutoff := time.Now()
	if err := registry.RevokeTenantBefore(ctx, "tenant-1", cutoff); err != nil {
		t.Fatalf("RevokeTenantBefore failed: %v", err)
	}

	status, err := registry.Check(ctx, "at_1", "user-1", "", "tenant-1", cutoff.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !status.Revoked || status.Scope != ScopeTenant {
		t.Fatalf("expected tenant scope, got %+v", status)
	}

	// Tenant isolation.
	status, err = registry.Check(ctx, "at_2", "user-1", "", "tenant-2", cutoff.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if status.Revoked {
		t.Fatalf("other tenant revoked: %+v", status)
	}
}

func TestScopePrecedence(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	issued := time.Now().Add(-time.Minute)

	if err := registry.RevokeTenantBefore(ctx, "tenant-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := registry.RevokeSession(ctx, "st_1", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := registry.RevokeUserBefore(ctx, "user-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := registry.RevokeToken(ctx, "at_1", time.Hour); err != nil {
		t.Fatal(err)
	}

	status, err := registry.Check(ctx, "at_1", "user-1", "st_1", "tenant-1", issued)
	if err != nil {
		t.Fatal(err)
	}
	if status.Scope != ScopeToken {
		t.Fatalf("token scope should win, got %s", status.Scope)
	}

	// Without the token rule the user cutoff wins over session and tenant.
	status, err = registry.Check(ctx, "at_other", "user-1", "st_1", "tenant-1", issued)
	if err != nil {
		t.Fatal(err)
	}
	if status.Scope != ScopeUser {
		t.Fatalf("user scope should win, got %s", status.Scope)
	}

	// Session beats tenant.
	status, err = registry.Check(ctx, "at_other", "user-other", "st_1", "tenant-1", issued)
	if err != nil {
		t.Fatal(err)
	}
	if status.Scope != ScopeSession {
		t.Fatalf("session scope should win, got %s", status.Scope)
	}
}

func TestClearRevocations(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	issued := time.Now().Add(-time.Minute)

	if err := registry.RevokeUserBefore(ctx, "user-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := registry.RevokeSession(ctx, "st_1", time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := registry.ClearUserRevocation(ctx, "user-1"); err != nil {
		t.Fatalf("ClearUserRevocation failed: %v", err)
	}
	if err := registry.ClearSessionRevocation(ctx, "st_1"); err != nil {
		t.Fatalf("ClearSessionRevocation failed: %v", err)
	}

	status, err := registry.Check(ctx, "at_1", "user-1", "st_1", "tenant-1", issued)
	if err != nil {
		t.Fatal(err)
	}
	if status.Revoked {
		t.Fatalf("revocation survived clearing: %+v", status)
	}
}

func TestTokenRevocationExpires(t *testing.T) {
	registry, mr := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.RevokeToken(ctx, "at_1", time.Minute); err != nil {
		t.Fatal(err)
	}

	ok, err := registry.IsTokenRevoked(ctx, "at_1")
	if err != nil || !ok {
		t.Fatalf("IsTokenRevoked: ok=%v err=%v", ok, err)
	}

	// The marker only needs to outlive the token.
	mr.FastForward(2 * time.Minute)

	ok, err = registry.IsTokenRevoked(ctx, "at_1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("revocation marker outlived its TTL")
	}
}

func TestCorruptCutoffReadsAsRevoked(t *testing.T) {
	registry, mr := newTestRegistry(t)
	ctx := context.Background()

	mr.Set("user_tokens_invalid_before:user-1", "not-a-number")

	status, err := registry.Check(ctx, "at_1", "user-1", "", "tenant-1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !status.Revoked || status.Scope != ScopeUser {
		t.Fatalf("corrupt cutoff not treated as revoked: %+v", status)
	}
}
