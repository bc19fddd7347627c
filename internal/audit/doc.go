// Package audit relays security events to a sink off the request path.
//
// # Components
//
//   - [Sink] receives events. Channel, JSON writer and no-op sinks ship here.
//   - [Dispatcher] buffers events and either drops or blocks when full.
//   - [Event] is the record: timestamp, type, user, session, client IP and metadata.
//
// The Engine decides which events to emit; this package only delivers them.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goIdentity or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
