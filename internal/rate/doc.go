// Package rate throttles password grants per email and per client IP, and
// refresh grants per session, with Redis fixed-window counters.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al: : login per-user
//   - ali:: login per-IP
//   - ar: : refresh per-session
//
// # What this package must NOT do
//
//   - Decide which flows are throttled; the Engine calls in.
//   - Be imported outside the goIdentity module.
package rate
