// Package internal contains helper utilities that are intentionally private to goIdentity,
// chiefly secure random code generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - dbx: database/sql transaction helper
//   - rate: Redis-backed fixed-window rate limits
//   - stores: one-time code records in Redis
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdentity API.
//   - Be imported by any package outside the goIdentity module.
package internal
