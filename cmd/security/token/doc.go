// Package token provides the opaque magic-link token primitives for orderdesk.
//
// It is the single source of truth for how raw tokens are generated and how
// their lookup hashes are derived.
//
// Design goals:
// - Raw tokens carry 256 bits of entropy and are shown to a caller exactly once.
// - Only the hash is persisted or searched.
// - Default mode: SHA-256(token). No key is needed; the token's entropy is the secret.
// - Peppered mode: HMAC-SHA256(token, HKDF(pepper)) when a pepper is configured.
// - Stable 64-char hex output for storage and constant-time comparison.
package token
