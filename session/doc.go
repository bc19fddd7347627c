// Package session stores per-device session records in Redis and mints the
// token pair that belongs to each one.
//
// # Record layout
//
// A session lives at user:<user_id>:session_id:<session_id> as a JSON document
// holding device metadata and the refresh token currently valid for it. The key
// expires with the refresh token, so an absent key means revoked or expired.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Data] model. It
// signs tokens through jwt but does NOT resolve permissions or authenticate
// users; those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import goIdentity or permission (no upward imports).
//   - Retry Redis failures; they are fatal for the request in flight.
package session
