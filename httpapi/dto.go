package httpapi

import (
	"strconv"

	"github.com/YallaPapi/i2v-sub001/engine"
	"github.com/YallaPapi/i2v-sub001/errors"
	"github.com/YallaPapi/i2v-sub001/pipeline"
	"github.com/YallaPapi/i2v-sub001/pricing"
	"github.com/YallaPapi/i2v-sub001/validation"
)

// stepConfigRequest mirrors pipeline.StepConfig on the wire.
type stepConfigRequest struct {
	Model       string `json:"model" validate:"required"`
	Count       int    `json:"count" validate:"omitempty,min=1,max=10"`
	Resolution  string `json:"resolution"`
	Quality     string `json:"quality"`
	DurationSec int    `json:"duration_sec" validate:"omitempty,min=1,max=60"`
}

// stageRequest is one stage of a bulk request. Enabled defaults to true
// when omitted.
type stageRequest struct {
	Type    string            `json:"step_type" validate:"required,oneof=prompt_enhance i2i i2v"`
	Enabled *bool             `json:"enabled"`
	Prompts []string          `json:"prompts"`
	Config  stepConfigRequest `json:"config"`
}

// createPipelineRequest is the body of POST /api/pipelines and
// POST /api/pipelines/estimate.
type createPipelineRequest struct {
	Name                   string         `json:"name" validate:"required,max=200"`
	Description            string         `json:"description" validate:"max=2000"`
	Tags                   []string       `json:"tags" validate:"max=20"`
	Mode                   string         `json:"mode" validate:"omitempty,oneof=manual auto checkpoint"`
	Checkpoints            []int          `json:"checkpoints"`
	ContinueOnStageFailure bool           `json:"continue_on_stage_failure"`
	FanOut                 string         `json:"fan_out" validate:"omitempty,oneof=all_combinations one_to_one"`
	Sources                []string       `json:"sources" validate:"required,min=1,dive,required"`
	Stages                 []stageRequest `json:"stages" validate:"required,min=1,dive"`
}

// validate applies the cross-field rules struct tags cannot express.
func (r *createPipelineRequest) validate() *errors.AppError {
	v := validation.New()
	v.EachRequired("sources", r.Sources)
	for i, s := range r.Stages {
		if s.Enabled != nil && !*s.Enabled {
			continue
		}
		v.NonEmptyList(indexed("stages", i)+".prompts", len(s.Prompts))
		v.EachRequired(indexed("stages", i)+".prompts", s.Prompts)
	}
	if len(r.Checkpoints) > 0 && r.Mode != string(pipeline.ModeCheckpoint) {
		v.AddError("checkpoints", "requires checkpoint mode")
	}
	for i, order := range r.Checkpoints {
		v.Min(indexed("checkpoints", i), order, 1)
	}
	return v.Validate()
}

func indexed(field string, i int) string {
	return field + "[" + strconv.Itoa(i) + "]"
}

// toCreateRequest converts the wire form into the engine's request.
func (r *createPipelineRequest) toCreateRequest() engine.CreateRequest {
	mode := pipeline.Mode(r.Mode)
	if mode == "" {
		mode = pipeline.ModeAuto
	}
	fanOut := pipeline.FanOut(r.FanOut)
	if fanOut == "" {
		fanOut = pipeline.FanOutAll
	}

	stages := make([]pipeline.StageSpec, len(r.Stages))
	for i, s := range r.Stages {
		enabled := s.Enabled == nil || *s.Enabled
		count := s.Config.Count
		if count == 0 {
			count = 1
		}
		stages[i] = pipeline.StageSpec{
			Type:    pipeline.StepType(s.Type),
			Enabled: enabled,
			Prompts: s.Prompts,
			Config: pipeline.StepConfig{
				Model:       s.Config.Model,
				Count:       count,
				Resolution:  s.Config.Resolution,
				Quality:     s.Config.Quality,
				DurationSec: s.Config.DurationSec,
			},
		}
	}

	return engine.CreateRequest{
		Name:                   r.Name,
		Description:            r.Description,
		Tags:                   r.Tags,
		Mode:                   mode,
		Checkpoints:            r.Checkpoints,
		ContinueOnStageFailure: r.ContinueOnStageFailure,
		FanOut:                 fanOut,
		Sources:                r.Sources,
		Stages:                 stages,
	}
}

// pipelineResponse is a pipeline with its steps.
type pipelineResponse struct {
	Pipeline *pipeline.Pipeline `json:"pipeline"`
	Steps    []*pipeline.Step   `json:"steps,omitempty"`
}

// estimateResponse wraps a priced plan.
type estimateResponse struct {
	Estimate pricing.Breakdown `json:"estimate"`
}

// listResponse is the pipeline collection.
type listResponse struct {
	Pipelines []*pipeline.Pipeline `json:"pipelines"`
	Count     int                  `json:"count"`
}
