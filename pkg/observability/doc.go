// Package observability provides structured logging, Prometheus metrics,
// optional OpenTelemetry export, health checks and graceful shutdown for the
// searchpulse services.
package observability
