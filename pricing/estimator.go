package pricing

import (
	stderrors "errors"
	"fmt"
	"math"

	"github.com/YallaPapi/i2v-sub001/errors"
	"github.com/YallaPapi/i2v-sub001/pipeline"
)

// ErrUnknownPricing is returned when a (model, parameters) combination has
// no entry in the table.
var ErrUnknownPricing = stderrors.New("no pricing for model")

// Estimator prices steps and plans against a Table. Estimation is a pure
// function of its inputs: the same step spec always yields the same cents.
type Estimator struct {
	table Table
}

// NewEstimator creates an estimator over the given table, falling back to
// the built-in table when nil.
func NewEstimator(table Table) *Estimator {
	if table == nil {
		table = DefaultTable()
	}
	return &Estimator{table: table}
}

// EstimateStep returns the estimated cost of one step in cents.
func (e *Estimator) EstimateStep(stepType pipeline.StepType, cfg pipeline.StepConfig) (int64, error) {
	models, ok := e.table[stepType]
	if !ok {
		return 0, unknownPricing(stepType, cfg.Model)
	}
	price, ok := models[cfg.Model]
	if !ok {
		return 0, unknownPricing(stepType, cfg.Model)
	}

	unit := float64(price.PerUnitCents)

	if price.Resolution != nil {
		mult, ok := price.Resolution[cfg.Resolution]
		if !ok {
			return 0, unknownParameter(cfg.Model, "resolution", cfg.Resolution)
		}
		unit *= mult
	}
	if price.Quality != nil {
		mult, ok := price.Quality[cfg.Quality]
		if !ok {
			return 0, unknownParameter(cfg.Model, "quality", cfg.Quality)
		}
		unit *= mult
	}
	if price.PerSecondCents > 0 {
		unit += float64(price.PerSecondCents * int64(cfg.DurationSec))
	}

	count := cfg.Count
	if count <= 0 {
		count = 1
	}
	return int64(math.Round(unit)) * int64(count), nil
}

// StageCost is the estimate for one stage of a plan.
type StageCost struct {
	Order int               `json:"order"`
	Type  pipeline.StepType `json:"step_type"`
	Steps int               `json:"steps"`
	Cents int64             `json:"cents"`
}

// Breakdown is a plan estimate grouped by stage plus the grand total.
type Breakdown struct {
	Stages     []StageCost `json:"stages"`
	TotalCents int64       `json:"total_cents"`
}

// EstimatePlan sums per-step estimates grouped by stage. It fails on the
// first unpriceable step so a pipeline is never created half-estimated.
func (e *Estimator) EstimatePlan(plan []pipeline.StepSpec) (Breakdown, error) {
	var bd Breakdown
	byOrder := make(map[int]*StageCost)

	for _, spec := range plan {
		cents, err := e.EstimateStep(spec.Type, spec.Config)
		if err != nil {
			return Breakdown{}, err
		}
		sc, ok := byOrder[spec.Order]
		if !ok {
			bd.Stages = append(bd.Stages, StageCost{Order: spec.Order, Type: spec.Type})
			sc = &bd.Stages[len(bd.Stages)-1]
			byOrder[spec.Order] = sc
		}
		sc.Steps++
		sc.Cents += cents
		bd.TotalCents += cents
	}
	return bd, nil
}

// Actual resolves a completed step's real cost: the provider-reported value
// when available, otherwise the step's estimate.
func Actual(step *pipeline.Step, providerCents int64) int64 {
	if providerCents > 0 {
		return providerCents
	}
	return step.CostEstimateCents
}

// PipelineActual sums actual cost across steps. Only completed steps
// contribute; failed and cancelled work is never charged.
func PipelineActual(steps []*pipeline.Step) int64 {
	var total int64
	for _, s := range steps {
		if s.Status == pipeline.StepCompleted {
			total += s.CostActualCents
		}
	}
	return total
}

func unknownPricing(stepType pipeline.StepType, model string) error {
	return errors.Validation(fmt.Sprintf("no pricing for %s model %q", stepType, model)).
		WithCause(ErrUnknownPricing)
}

func unknownParameter(model, param, value string) error {
	return errors.Validation(fmt.Sprintf("no pricing for model %q with %s %q", model, param, value)).
		WithCause(ErrUnknownPricing)
}
