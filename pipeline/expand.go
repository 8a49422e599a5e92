package pipeline

import (
	stderrors "errors"
	"fmt"

	"github.com/YallaPapi/i2v-sub001/errors"
)

// FanOut selects how sources and prompts combine during expansion.
type FanOut string

const (
	// FanOutAll multiplies every stage input by every stage prompt.
	FanOutAll FanOut = "all_combinations"
	// FanOutOneToOne pairs inputs and prompts positionally.
	FanOutOneToOne FanOut = "one_to_one"
)

// ErrMismatchedCounts is returned in one-to-one mode when a stage's prompt
// count does not match its input count.
var ErrMismatchedCounts = stderrors.New("prompt count must match input count in one-to-one mode")

// StageSpec describes one stage of a bulk request.
type StageSpec struct {
	Type    StepType   `json:"step_type"`
	Enabled bool       `json:"enabled"`
	Prompts []string   `json:"prompts"`
	Config  StepConfig `json:"config"`
}

// StepSpec is one planned step before persistence. Lineage to earlier plan
// entries uses the plan-local UpstreamIndex; the store assigns ids and
// resolves it to UpstreamStepID at creation time.
type StepSpec struct {
	Index  int        `json:"index"`
	Type   StepType   `json:"step_type"`
	Order  int        `json:"step_order"`
	Config StepConfig `json:"config"`
	Inputs StepInputs `json:"inputs"`
	// UpstreamIndex is the plan index of the step whose output feeds this
	// one, or -1 for first-stage steps.
	UpstreamIndex int `json:"upstream_index"`
}

// planNode tracks one expansion frontier entry: the plan index that produces
// it and the root source it descends from.
type planNode struct {
	specIndex   int // -1 for an original source
	sourceIndex int
	sourceURL   string
}

// Expand turns a bulk request into an ordered step plan. It is pure and
// deterministic: the outer loop runs over inputs, the inner loop over
// prompts, so two expansions of the same request are identical.
func Expand(sources []string, stages []StageSpec, fanOut FanOut) ([]StepSpec, error) {
	if err := validateRequest(sources, stages, fanOut); err != nil {
		return nil, err
	}

	frontier := make([]planNode, len(sources))
	for i, url := range sources {
		frontier[i] = planNode{specIndex: -1, sourceIndex: i, sourceURL: url}
	}

	var plan []StepSpec
	order := 0

	for _, stage := range stages {
		if !stage.Enabled {
			continue
		}
		order++

		if fanOut == FanOutOneToOne && len(stage.Prompts) != len(frontier) {
			return nil, errors.Validation(fmt.Sprintf(
				"stage %s: %d prompts for %d inputs", stage.Type, len(stage.Prompts), len(frontier),
			)).WithCause(ErrMismatchedCounts)
		}

		cfg := stage.Config
		if cfg.Count <= 0 {
			cfg.Count = 1
		}

		var next []planNode
		for _, node := range frontier {
			if fanOut == FanOutOneToOne {
				// Positional pairing: input i takes prompt i. Each input
				// yields exactly one step, so the frontier stays ordered
				// by source through chained stages.
				pi := node.sourceIndex
				plan = append(plan, newStepSpec(len(plan), order, stage.Type, cfg, node, pi, stage.Prompts[pi]))
				next = append(next, planNode{specIndex: len(plan) - 1, sourceIndex: node.sourceIndex, sourceURL: node.sourceURL})
				continue
			}
			for pi, prompt := range stage.Prompts {
				plan = append(plan, newStepSpec(len(plan), order, stage.Type, cfg, node, pi, prompt))
				next = append(next, planNode{specIndex: len(plan) - 1, sourceIndex: node.sourceIndex, sourceURL: node.sourceURL})
			}
		}
		frontier = next
	}

	return plan, nil
}

func newStepSpec(index, order int, t StepType, cfg StepConfig, node planNode, promptIndex int, prompt string) StepSpec {
	return StepSpec{
		Index:  index,
		Type:   t,
		Order:  order,
		Config: cfg,
		Inputs: StepInputs{
			SourceIndex: node.sourceIndex,
			SourceURL:   node.sourceURL,
			PromptIndex: promptIndex,
			Prompt:      prompt,
		},
		UpstreamIndex: node.specIndex,
	}
}

func validateRequest(sources []string, stages []StageSpec, fanOut FanOut) error {
	if fanOut != FanOutAll && fanOut != FanOutOneToOne {
		return errors.Validation(fmt.Sprintf("unknown fan-out mode %q", fanOut))
	}
	if len(sources) == 0 {
		return errors.Validation("at least one source is required")
	}
	for i, url := range sources {
		if url == "" {
			return errors.Validation(fmt.Sprintf("source %d has an empty url", i))
		}
	}

	enabled := 0
	for _, stage := range stages {
		if !stage.Enabled {
			continue
		}
		enabled++
		if len(stage.Prompts) == 0 {
			return errors.Validation(fmt.Sprintf("stage %s is enabled but has no prompts", stage.Type))
		}
		if stage.Config.Model == "" {
			return errors.Validation(fmt.Sprintf("stage %s has no model", stage.Type))
		}
		switch stage.Type {
		case StepTypePromptEnhance, StepTypeI2I, StepTypeI2V:
		default:
			return errors.Validation(fmt.Sprintf("unknown step type %q", stage.Type))
		}
	}
	if enabled == 0 {
		return errors.Validation("at least one stage must be enabled")
	}
	return nil
}
