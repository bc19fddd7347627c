// Package mail hands transactional messages to a delivery backend.
//
// Messages are template references plus data, never rendered bodies: the
// backend (an SES template, a worker consuming the outbox) owns rendering.
// [NATSOutbox] publishes jobs to a JetStream subject; [LogSender] and
// [Discard] serve development and tests.
//
// # What this package must NOT do
//
//   - Log template data; it carries one-time codes.
//   - Decide when a message is sent. That belongs to the Engine.
package mail
