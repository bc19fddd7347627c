// Package jwt signs and verifies the access and refresh tokens handed to clients.
//
// Tokens are compact HS384 JWTs carrying sub, sid, exp and (for access tokens)
// a space separated scope string. Revocation is not tracked in the token: a
// token is only as good as the session record that backs it.
package jwt
