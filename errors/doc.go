// Package errors provides unified error handling for the generation backend.
// It implements a structured error type carrying a failure Kind used by the
// retry policy, HTTP status mapping for the API layer, and a classifier that
// maps raw provider failures into the Kind taxonomy.
package errors
