// Package observe provides telemetry for the query cache engine.
//
// It bundles a structured JSON logger, OpenTelemetry metrics for fetch
// executions and registry size, and tracing of individual fetch attempts.
// The Observer assembles providers from configuration; the exporters
// subpackage builds the concrete OTLP, Prometheus and stdout exporters.
package observe
