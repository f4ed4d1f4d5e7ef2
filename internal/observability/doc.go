// Package observability provides structured logging and Prometheus metrics
// for the LLM gateway.
//
// Logging is zap-based and configured from the environment (level + format).
// Metrics are registered on the default Prometheus registry and exposed by
// the /metrics endpoint.
package observability
