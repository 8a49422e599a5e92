package provider

import (
	"context"

	"github.com/YallaPapi/i2v-sub001/pipeline"
)

// Work is one unit of generation handed to a capability: exactly one source
// artifact and one prompt, plus the step's knobs.
type Work struct {
	StepID      string
	Model       string
	Prompt      string
	SourceURL   string
	Count       int
	Resolution  string
	Quality     string
	DurationSec int
}

// Handle identifies a submitted job for later polling.
type Handle struct {
	JobID string
	Model string
}

// State is the polled state of a submitted job.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Outcome is the result of polling a handle.
type Outcome struct {
	State State
	// Artifacts are the produced outputs, set when State is StateSucceeded.
	Artifacts []pipeline.Artifact
	// CostCents is the provider-reported cost, zero when unknown.
	CostCents int64
	// Err is the classifiable failure, set when State is StateFailed.
	Err error
}

// Succeeded builds a success outcome.
func Succeeded(artifacts []pipeline.Artifact, costCents int64) Outcome {
	return Outcome{State: StateSucceeded, Artifacts: artifacts, CostCents: costCents}
}

// Failed builds a failure outcome.
func Failed(err error) Outcome {
	return Outcome{State: StateFailed, Err: err}
}

// StillRunning builds a not-yet-terminal outcome.
func StillRunning() Outcome {
	return Outcome{State: StateRunning}
}

// Capability is implemented by each external provider family. Submit may
// fail immediately; Poll reports deferred results until a terminal state.
type Capability interface {
	// Name returns the capability's unique name.
	Name() string
	// Submit sends a unit of work and returns a pollable handle.
	Submit(ctx context.Context, work Work) (Handle, error)
	// Poll checks a submitted job and returns its current outcome.
	Poll(ctx context.Context, h Handle) (Outcome, error)
}
