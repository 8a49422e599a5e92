// Package pricing computes deterministic cost estimates for generation
// steps and pipelines. Prices are integer US cents keyed by (step type,
// model) with optional resolution/quality multipliers and per-second video
// pricing. Lookups fail closed: an unknown model or parameter combination
// is an error, never a silent zero.
package pricing
