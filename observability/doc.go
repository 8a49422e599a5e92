// Package observability wires OpenTelemetry tracing and metrics for the
// generation backend. The engine records per-step spans and counters; both
// exporters ship over OTLP HTTP and are optional at runtime.
package observability
