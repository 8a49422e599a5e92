// Package validation validates API inputs before they reach the engine.
//
// It supports struct tag validation through the validator library and
// programmatic validation with field error collection. Tag validation is
// used for bound request bodies; the fluent Validator covers rules tags
// cannot express, such as cross-field stage constraints.
package validation
