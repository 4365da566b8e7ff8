// Package rate provides internal primitives used to build Redis-backed rate
// limit keys, errors, and limiter behavior for the token refresh path.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - ar:  — refresh per-session
//   - aru: — refresh per-user
//
// # What this package must NOT do
//
//   - Implement revocation or reuse-detection policy (those live in the
//     refresh and revocation packages).
//   - Be imported outside the authcore module.
package rate
