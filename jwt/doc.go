// Package jwt manages issuance and verification of access, refresh, and
// service tokens against a rotating ring of RS256/ES256 signing keys.
//
// Verification is two-phase: cheap structural checks (size cap, segment
// count, algorithm allow-list, kid presence) run before any key lookup or
// signature work, then the kid routes to a ring key and the golang-jwt
// parser enforces signature, expiry, and issuer. Claim cross-checks
// (user_id vs sub, tenant_id vs aud) run last.
package jwt
