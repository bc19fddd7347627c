// Package prometheus exposes engine counters as a Prometheus collector.
//
// [Exporter] implements prometheus.Collector and reads
// [goIdentity.Engine.MetricsSnapshot] on every scrape. Register it with
// your own registry, or mount [Exporter.Handler] for a standalone
// endpoint. Counters are named goidentity_*_total; the one histogram is
// goidentity_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register with the global Prometheus registry.
//   - Mutate engine state.
package prometheus
