// Package stores provides Redis-backed, short-lived one-time code records for
// email verification and password reset.
//
// # Design
//
// A record is a plain string: the key is a namespace plus the code (or its
// SHA-256 when hashing is enabled), the value is the target email, and Redis
// expiry enforces the validity window. Consume uses GETDEL so a code can be
// redeemed at most once even under concurrent requests.
//
// # Architecture boundaries
//
// This package owns persistence for transient codes. It does NOT send mail,
// enforce rate limits, or make authentication decisions.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package other than internal itself.
//   - Log or expose plaintext codes.
package stores
