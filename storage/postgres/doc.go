// Package postgres is the durable identity store: users, their email
// addresses, federated social logins and stored roles.
//
// It implements goIdentity.IdentityStore on top of database/sql driven by
// pgx (through a pgxpool), scans rows with scany and applies the embedded
// goose migrations.
//
// # Constraint mapping
//
// Unique violations are reported as *goIdentity.ConflictError naming the
// human facing field:
//
//   - users_username_key -> "username"
//   - emails_email_key   -> "email"
//
// # What this package must NOT do
//
//   - Hash passwords or mint tokens; callers pass encoded hashes in.
//   - Reassign an existing social login to a different user.
package postgres
