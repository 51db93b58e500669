// Package telemetry provides the in-process telemetry substrate for
// rulebank: named counters, gauges, labels, capped latency windows, and a
// bounded ring of structured log events. The substrate is a pure in-memory
// data structure; it performs no I/O and its write paths never fail.
//
// The package also carries the OpenTelemetry provider (OTLP exporters for
// traces and metrics) so substrate writes can optionally be mirrored to an
// external collector, and a prometheus.Collector that exposes the current
// counters and gauges on scrape.
package telemetry
