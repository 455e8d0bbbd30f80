// Package observability provides an OpenTelemetry-based metrics extension
// for Interius. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for run starts, resumes, approval pauses, terminal
// outcomes, reviewer verdicts, and retention sweeps.
//
// For per-stage execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
