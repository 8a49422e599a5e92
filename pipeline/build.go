package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// NewPipeline creates a pending pipeline shell ready for BuildSteps.
func NewPipeline(name string, mode Mode) *Pipeline {
	now := time.Now().UTC()
	return &Pipeline{
		ID:        uuid.NewString(),
		Name:      name,
		Mode:      mode,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// BuildSteps materializes a validated plan into persistable steps: ids are
// assigned and plan-local upstream indices become step id references. Cost
// estimates are filled by the caller before the records are stored.
func BuildSteps(pipelineID string, plan []StepSpec) []*Step {
	now := time.Now().UTC()
	ids := make([]string, len(plan))
	for i := range plan {
		ids[i] = uuid.NewString()
	}

	steps := make([]*Step, len(plan))
	for i, spec := range plan {
		inputs := spec.Inputs
		if spec.UpstreamIndex >= 0 {
			inputs.UpstreamStepID = ids[spec.UpstreamIndex]
		}
		steps[i] = &Step{
			ID:         ids[i],
			PipelineID: pipelineID,
			Type:       spec.Type,
			Order:      spec.Order,
			Config:     spec.Config,
			Inputs:     inputs,
			Status:     StepPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	return steps
}
