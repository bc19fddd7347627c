// Package otel publishes engine counters through an OpenTelemetry meter.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter. The
// validate latency histogram becomes a "_bucket" gauge with one data point per
// "le" attribute and a "_count" counter. A single callback reads
// [goIdentity.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
