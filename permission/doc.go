// Package permission maps stored roles to permission sets and converts those
// sets to and from the space separated scope string embedded in access tokens.
//
// # Model
//
// A [Registry] assigns each permission name a bit in a 64-bit [Mask64]. A
// [RoleManager] names fixed masks. A [Resolver] loads a user's roles from a
// [RoleSource], adds the implicit verified or unverified role, and unions the
// masks into a [Set].
//
// # Parsing
//
// [Registry.ParseScope] is strict: an unknown token fails the whole parse.
//
// # What this package must NOT do
//
//   - Import goIdentity, jwt, or session.
//   - Register permissions after Freeze.
package permission
