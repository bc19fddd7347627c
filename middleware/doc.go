// Package middleware adapts goIdentity.Engine validation to net/http.
//
// # Guards
//
//   - [RequireAuth]: valid access token on a live session.
//   - [RequirePermission]: RequireAuth plus every named permission.
//   - [ClientMetadata]: copies the client IP and User-Agent into the request
//     context so sessions record the device.
//
// Guards read the Authorization header, call Engine.ValidateAccess and put
// the [goIdentity.AuthResult] on the request context.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Decide anything beyond pass/reject from the Engine result.
package middleware
