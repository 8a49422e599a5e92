// Package pipeline defines the Pipeline/PipelineStep data model, the
// combinatorial expander that turns a bulk request into a step plan with
// explicit lineage, and the Store boundary the engine persists through.
//
// A bulk request of N sources and per-stage prompt lists expands into a
// directed plan: every step records exactly which source, which prompt and
// which upstream step feeds it, so the engine never infers fan-out at
// runtime.
package pipeline
