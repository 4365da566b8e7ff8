// Package authcore is an embeddable token and session engine for
// multi-tenant platforms, backed by Redis.
//
// The engine covers the full token lifecycle:
//
//   - signed access, refresh, and service JWTs (RS256 and ES256) with
//     per-tenant signing keys and kid-based verification routing
//   - refresh token rotation with token families, atomic single-use
//     claims, and reuse detection with a full containment cascade
//   - layered revocation at token, user, session, and tenant scope,
//     checked in one pipelined round trip per validation
//   - session lifecycle with renewal policy, maximum lifetime caps, and
//     pluggable concurrency policies
//   - fire-and-forget revocation events over Redis pub/sub for
//     cross-service cache invalidation
//
// Construction goes through the Builder:
//
//	engine, err := authcore.New().
//		WithRedis(client).
//		WithSigningKey(key).
//		WithConfig(cfg).
//		Build()
//
// All Engine methods are safe for concurrent use. The engine is a
// library, not a service: it exposes no HTTP surface and stores no user
// accounts. Callers authenticate users themselves and hand the engine a
// verified identity.
package authcore
