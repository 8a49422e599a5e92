package pipeline

import "time"

// Mode controls whether stage transitions pause for review.
type Mode string

const (
	// ModeManual requires an explicit Run call per stage.
	ModeManual Mode = "manual"
	// ModeAuto runs all stages without pausing.
	ModeAuto Mode = "auto"
	// ModeCheckpoint pauses at configured stage boundaries for review.
	ModeCheckpoint Mode = "checkpoint"
)

// Status is the pipeline lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the step lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepReview    StepStatus = "review"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// IsTerminal returns true if the step has finished one way or another.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepCancelled:
		return true
	default:
		return false
	}
}

// StepType is the stage kind a step belongs to.
type StepType string

const (
	StepTypePromptEnhance StepType = "prompt_enhance"
	StepTypeI2I           StepType = "i2i"
	StepTypeI2V           StepType = "i2v"
)

// Artifact references a produced output in the external artifact store.
// The engine stores references only, never binary payloads.
type Artifact struct {
	URL        string `json:"url"`
	Type       string `json:"type"`
	PromptUsed string `json:"prompt_used,omitempty"`
}

// StepConfig holds the stage parameters a step was expanded with. The
// orchestrator treats it as opaque beyond what pricing and the runner need.
type StepConfig struct {
	Model       string `json:"model"`
	Count       int    `json:"count"`
	Resolution  string `json:"resolution,omitempty"`
	Quality     string `json:"quality,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// StepInputs is the explicit lineage record for a step: exactly one source
// artifact and one prompt. Fan-out is always represented as multiple steps.
type StepInputs struct {
	SourceIndex int    `json:"source_index"`
	SourceURL   string `json:"source_url"`
	PromptIndex int    `json:"prompt_index"`
	Prompt      string `json:"prompt"`
	// UpstreamStepID is the step whose output feeds this one; empty for
	// first-stage steps that consume the original source.
	UpstreamStepID string `json:"upstream_step_id,omitempty"`
	// UpstreamOutput is the index into the upstream step's outputs.
	UpstreamOutput int `json:"upstream_output,omitempty"`
}

// Step is one unit of generation work owned by exactly one Pipeline.
type Step struct {
	ID         string     `json:"id"`
	PipelineID string     `json:"pipeline_id"`
	Type       StepType   `json:"step_type"`
	Order      int        `json:"step_order"`
	Config     StepConfig `json:"config"`
	Inputs     StepInputs `json:"inputs"`
	Outputs    []Artifact `json:"outputs,omitempty"`

	Status            StepStatus `json:"status"`
	CostEstimateCents int64      `json:"cost_estimate_cents"`
	CostActualCents   int64      `json:"cost_actual_cents"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	AttemptCount      int        `json:"attempt_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pipeline owns an ordered collection of steps expanded from one bulk request.
type Pipeline struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Favorite    bool     `json:"favorite"`
	Hidden      bool     `json:"hidden"`

	Mode Mode `json:"mode"`
	// Checkpoints lists the step orders that pause execution for review
	// when Mode is ModeCheckpoint.
	Checkpoints []int `json:"checkpoints,omitempty"`
	// ContinueOnStageFailure runs the next stage with the successful subset
	// instead of aborting when a stage had failures.
	ContinueOnStageFailure bool `json:"continue_on_stage_failure"`

	Status            Status `json:"status"`
	CostEstimateCents int64  `json:"cost_estimate_cents"`
	CostActualCents   int64  `json:"cost_actual_cents"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCheckpoint reports whether the given stage order is a checkpoint.
func (p *Pipeline) HasCheckpoint(order int) bool {
	for _, c := range p.Checkpoints {
		if c == order {
			return true
		}
	}
	return false
}
