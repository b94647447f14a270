// Package resource tracks the cached state of remote HTTP resources,
// mediates concurrent network access to them, and delivers change
// notifications to attached observers.
//
// Every distinct URL handed out by a Service maps to a single canonical
// Resource instance shared by all consumers. A Resource holds the latest
// data and the latest error independently, knows which requests are in
// flight, and decides when its state is stale enough to warrant another
// load. Raw responses are folded through a configurable Pipeline of
// transformers with optional per-stage persistent caching.
//
// The package follows go-kit conventions:
// - Interface-driven design for testability (Transport, EntityCache, Observer)
// - Uses logger.Logger interface for unified logging
// - Uses routine package for safe goroutine execution
// - Configuration with validation and defaults
// - Structured error handling
package resource
