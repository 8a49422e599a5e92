package engine

import (
	"context"
	"sync"

	"github.com/YallaPapi/i2v-sub001/errors"
	"github.com/YallaPapi/i2v-sub001/events"
	"github.com/YallaPapi/i2v-sub001/logger"
	"github.com/YallaPapi/i2v-sub001/observability"
	"github.com/YallaPapi/i2v-sub001/pipeline"
	"github.com/YallaPapi/i2v-sub001/pricing"
	"github.com/YallaPapi/i2v-sub001/provider"
	"github.com/YallaPapi/i2v-sub001/resilience"
)

// Deps are the collaborators the engine drives. Events and Metrics are
// optional.
type Deps struct {
	Store     pipeline.Store
	Registry  *provider.Registry
	Estimator *pricing.Estimator
	Events    events.Publisher
	Metrics   *observability.Metrics
}

// Engine owns pipeline execution. All step and pipeline mutations go
// through the engine or the step runners it spawns; nothing else writes
// execution state.
type Engine struct {
	store     pipeline.Store
	registry  *provider.Registry
	estimator *pricing.Estimator
	hub       events.Publisher
	metrics   *observability.Metrics

	gate   *resilience.Gate
	policy *resilience.Policy
	cfg    Config
	log    *logger.Logger

	mu   sync.Mutex
	runs map[string]*run
}

// run tracks one active pipeline execution.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	// cancelRequested distinguishes an explicit Cancel from an engine
	// shutdown: shutdown leaves the pipeline resumable (paused), cancel
	// finalizes it.
	cancelRequested bool
	pauseRequested  bool
}

// New creates an engine.
func New(deps Deps, cfg Config) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		store:     deps.Store,
		registry:  deps.Registry,
		estimator: deps.Estimator,
		hub:       deps.Events,
		metrics:   deps.Metrics,
		gate:      resilience.NewGate(cfg.Gate),
		policy:    resilience.NewPolicy(cfg.Retry),
		cfg:       cfg,
		log:       logger.WithComponent("engine"),
		runs:      make(map[string]*run),
	}
}

// CreateRequest is a bulk generation request before expansion.
type CreateRequest struct {
	Name                   string
	Description            string
	Tags                   []string
	Mode                   pipeline.Mode
	Checkpoints            []int
	ContinueOnStageFailure bool
	FanOut                 pipeline.FanOut
	Sources                []string
	Stages                 []pipeline.StageSpec
}

// Estimate expands a request and prices the plan without persisting
// anything.
func (e *Engine) Estimate(req CreateRequest) (pricing.Breakdown, error) {
	plan, err := pipeline.Expand(req.Sources, req.Stages, req.FanOut)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	if err := pipeline.ValidatePlan(plan); err != nil {
		return pricing.Breakdown{}, err
	}
	return e.estimator.EstimatePlan(plan)
}

// Create expands, validates, prices and persists a pipeline with its steps.
// Creation is atomic: an invalid or unpriceable request stores nothing.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*pipeline.Pipeline, []*pipeline.Step, error) {
	if req.Name == "" {
		return nil, nil, errors.Validation("pipeline name is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = pipeline.ModeAuto
	}

	plan, err := pipeline.Expand(req.Sources, req.Stages, req.FanOut)
	if err != nil {
		return nil, nil, err
	}
	if err := pipeline.ValidatePlan(plan); err != nil {
		return nil, nil, err
	}
	breakdown, err := e.estimator.EstimatePlan(plan)
	if err != nil {
		return nil, nil, err
	}

	p := pipeline.NewPipeline(req.Name, mode)
	p.Description = req.Description
	p.Tags = req.Tags
	p.Checkpoints = req.Checkpoints
	p.ContinueOnStageFailure = req.ContinueOnStageFailure
	p.CostEstimateCents = breakdown.TotalCents

	steps := pipeline.BuildSteps(p.ID, plan)
	for i, spec := range plan {
		cents, err := e.estimator.EstimateStep(spec.Type, spec.Config)
		if err != nil {
			return nil, nil, err
		}
		steps[i].CostEstimateCents = cents
	}

	if err := e.store.CreatePipeline(ctx, p, steps); err != nil {
		return nil, nil, err
	}

	e.log.Info("pipeline created", logger.Fields(
		logger.FieldPipelineID, p.ID,
		"steps", len(steps),
		logger.FieldCostCents, p.CostEstimateCents,
	))
	return p, steps, nil
}

// Run starts or resumes execution. The pipeline must be pending or paused,
// and a checkpoint pause must be approved, not resumed.
func (e *Engine) Run(ctx context.Context, pipelineID string) error {
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}
	if p.Status != pipeline.StatusPending && p.Status != pipeline.StatusPaused {
		return errors.Conflict("pipeline is " + string(p.Status))
	}

	steps, err := e.store.ListSteps(ctx, pipelineID)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if s.Status == pipeline.StepReview {
			return errors.Conflict("pipeline awaits checkpoint approval")
		}
	}

	return e.start(ctx, p)
}

// Resume is Run for paused pipelines, kept as its own name for the command
// surface.
func (e *Engine) Resume(ctx context.Context, pipelineID string) error {
	return e.Run(ctx, pipelineID)
}

// Pause stops dispatching new steps; running steps finish naturally.
func (e *Engine) Pause(ctx context.Context, pipelineID string) error {
	e.mu.Lock()
	r, active := e.runs[pipelineID]
	if active {
		r.pauseRequested = true
	}
	e.mu.Unlock()
	if active {
		return nil
	}

	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}
	if p.Status != pipeline.StatusRunning {
		return errors.Conflict("pipeline is " + string(p.Status))
	}
	// The stored status says running but no live run backs it (for example
	// after a restart). Persist the pause so the record is resumable and the
	// command is never a silent no-op.
	return e.setPipelineStatus(ctx, p, pipeline.StatusPaused)
}

// Cancel aborts execution. Pending steps become cancelled without ever
// running; in-flight steps stop at their next suspension point.
func (e *Engine) Cancel(ctx context.Context, pipelineID string) error {
	e.mu.Lock()
	r, active := e.runs[pipelineID]
	if active {
		r.cancelRequested = true
		r.cancel()
	}
	e.mu.Unlock()
	if active {
		return nil
	}

	// No active run: finalize the records directly.
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		return errors.Conflict("pipeline is " + string(p.Status))
	}
	if err := e.cancelRemainingSteps(ctx, pipelineID); err != nil {
		return err
	}
	return e.setPipelineStatus(ctx, p, pipeline.StatusCancelled)
}

// Approve confirms a checkpoint: review steps regain their real outcome
// and execution resumes with the next stage.
func (e *Engine) Approve(ctx context.Context, pipelineID string) error {
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}
	if p.Status != pipeline.StatusPaused {
		return errors.Conflict("pipeline is " + string(p.Status))
	}

	steps, err := e.store.ListSteps(ctx, pipelineID)
	if err != nil {
		return err
	}
	approved := 0
	for _, s := range steps {
		if s.Status != pipeline.StepReview {
			continue
		}
		settleReview(s)
		if err := e.store.UpdateStep(ctx, s); err != nil {
			return err
		}
		approved++
	}
	if approved == 0 {
		return errors.Conflict("no steps awaiting review")
	}

	e.log.Info("checkpoint approved", logger.Fields(
		logger.FieldPipelineID, pipelineID,
		"steps", approved,
	))
	return e.start(ctx, p)
}

// Wait blocks until the pipeline's active run finishes. It returns
// immediately when no run is active.
func (e *Engine) Wait(pipelineID string) {
	e.mu.Lock()
	r, ok := e.runs[pipelineID]
	e.mu.Unlock()
	if ok {
		<-r.done
	}
}

// Shutdown stops all active runs and waits for them to settle. Pipelines
// are left paused, not cancelled, so they can resume after restart.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	active := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		r.cancel()
		active = append(active, r)
	}
	e.mu.Unlock()
	for _, r := range active {
		<-r.done
	}
}

// start flips the pipeline to running and launches its run loop.
func (e *Engine) start(ctx context.Context, p *pipeline.Pipeline) error {
	e.mu.Lock()
	if _, active := e.runs[p.ID]; active {
		e.mu.Unlock()
		return errors.Conflict("pipeline is already running")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	e.runs[p.ID] = r
	e.mu.Unlock()

	if err := e.setPipelineStatus(ctx, p, pipeline.StatusRunning); err != nil {
		e.mu.Lock()
		delete(e.runs, p.ID)
		e.mu.Unlock()
		cancel()
		close(r.done)
		return err
	}

	go e.runLoop(runCtx, r, p.ID)
	return nil
}

func (e *Engine) setPipelineStatus(ctx context.Context, p *pipeline.Pipeline, status pipeline.Status) error {
	p.Status = status
	if err := e.store.UpdatePipeline(ctx, p); err != nil {
		return err
	}
	e.publish(events.Event{
		PipelineID:      p.ID,
		Status:          string(status),
		CostActualCents: p.CostActualCents,
	})
	e.log.Info("pipeline status", logger.Fields(
		logger.FieldPipelineID, p.ID,
		logger.FieldStatus, string(status),
	))
	return nil
}

func (e *Engine) publish(ev events.Event) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}
