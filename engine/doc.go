// Package engine executes generation pipelines. The Engine owns the
// Pipeline/PipelineStep state machine: it dispatches the lowest unfinished
// stage, runs its steps concurrently under the concurrency gate, applies
// retry policy to classified failures, rolls step outcomes up into pipeline
// status and cost, and supports pause, resume, cancel and checkpoint
// approval.
//
// Each step runs as its own goroutine; suspension points are permit
// acquisition, provider polling and retry backoff, and every one of them
// observes cancellation. No step at order N+1 is dispatched before its
// order-N upstream reaches a terminal state.
package engine
