// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and digest use unpadded base64. [Argon2.NeedsUpgrade] reports hashes
// produced with weaker parameters so callers can re-hash after a successful login.
//
// # Worker pool
//
// Argon2id is CPU and memory bound. [Pool] caps how many derivations run at
// once; callers wait on a context-aware semaphore instead of piling work onto
// the scheduler.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other goIdentity package.
//   - Log plaintext passwords.
package password
