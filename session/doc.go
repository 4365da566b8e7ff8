// Package session provides Redis-backed session persistence, lazy renewal,
// and concurrent-session policy evaluation.
//
// # Architecture boundaries
//
// This package owns the [Registry] (Redis operations), the [Session]
// model, the [Renewer], and the [Enforcer]. It does not interpret JWT
// tokens or make revocation decisions; those belong to the jwt and
// revocation packages and the Engine.
//
// The [Enforcer] is deliberately read-only: it reports which sessions must
// be displaced but never deletes them itself, so every session termination
// in the system flows through one Engine code path.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, refresh, or revocation (no upward imports).
//   - Store token material in [Session] fields.
package session
