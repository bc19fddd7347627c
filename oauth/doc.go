// Package oauth federates third-party identities into local accounts.
//
// Each supported provider implements [Provider]: exchange an authorization
// code for an access token, fetch the provider's current-user profile, and
// resolve a usable email address. A [Registry] maps provider ids to
// implementations so the reconciliation transaction never switches on
// provider names.
//
// # Error model
//
// Transport failures, timeouts and non-2xx responses are reported as
// [ErrUpstream]. A profile that resolves to no email is [ErrEmailMissing].
// Neither is ever retried here: providers invalidate a code after its first
// exchange, so a retry belongs to the user.
//
// # What this package must NOT do
//
//   - Touch the durable store or sessions.
//   - Log access tokens or authorization codes.
package oauth
