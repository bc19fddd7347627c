// Package goIdentity is the identity backend core: password, refresh and
// OAuth assertion grants, HS384 access tokens bound to Redis sessions,
// one-time codes for email verification and password reset, and scope
// resolution from roles.
//
// An [Engine] is assembled once through [Builder.Build] and is safe for
// concurrent use afterwards.
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types such as [TokenGrant] and [SessionInfo].
// Accounts, emails and roles live behind [IdentityStore]; storage/postgres and
// storage/memory implement it. Session state, one-time codes and throttle
// counters live in Redis and never leave internal packages.
//
// # What this package must NOT do
//
//   - Expose Redis clients, session encodings or code keys in its public API.
//   - Report why a credential was rejected beyond the error category.
//   - Import any sub-package that re-imports goIdentity.
//
// # Performance contract
//
// [Engine.ValidateAccess] is the hot path: one signature check and one Redis
// read, no IdentityStore access. Grants and account operations may touch both
// stores.
package goIdentity
