// Package resilience provides the failure-handling primitives the execution
// engine builds on: a per-kind retry policy with exponential backoff and
// jitter, and a concurrency gate bounding in-flight provider calls globally
// and per model.
package resilience
