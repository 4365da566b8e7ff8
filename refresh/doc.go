// Package refresh implements server-side refresh token state: the hashed
// token record store, rotation family tracking, and reuse detection.
//
// # Token records
//
// Raw refresh tokens are never stored. Each token has a JSON record under
// the SHA-256 hash of the raw token, carrying its family lineage and the
// used/revoked flags. Claiming a record (flipping used) is a Lua
// compare-and-set, so exactly one concurrent rotation can win.
//
// # Architecture boundaries
//
// This package owns rotation state and the reuse cascade. Token signing
// and verification live in the jwt package; the refresh orchestration
// order lives in the Engine.
package refresh
