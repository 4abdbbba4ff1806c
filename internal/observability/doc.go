// ABOUTME: Tracing capability interface and Prometheus metrics.
// ABOUTME: Null-object tracer keeps instrumentation optional at construction time.

// Package observability holds the ambient instrumentation both servers
// share. Components depend on the Tracer interface, never on a concrete
// backend; NopTracer substitutes cleanly when tracing is off.
package observability
