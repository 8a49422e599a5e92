package engine

import (
	"context"
	"sync"

	"github.com/YallaPapi/i2v-sub001/events"
	"github.com/YallaPapi/i2v-sub001/logger"
	"github.com/YallaPapi/i2v-sub001/pipeline"
	"github.com/YallaPapi/i2v-sub001/pricing"
)

// runLoop drives one pipeline: stage by stage until nothing is left to
// dispatch or execution is interrupted. It is the only writer of the
// pipeline record while the run is active.
func (e *Engine) runLoop(ctx context.Context, r *run, pipelineID string) {
	defer func() {
		e.mu.Lock()
		delete(e.runs, pipelineID)
		e.mu.Unlock()
		close(r.done)
	}()

	// The loop uses a detached context for store writes so finalization
	// still persists after the run context is cancelled.
	bg := context.Background()

	for {
		p, err := e.store.GetPipeline(bg, pipelineID)
		if err != nil {
			e.log.Error("pipeline vanished mid-run", logger.ErrorFields("run", err))
			return
		}
		steps, err := e.store.ListSteps(bg, pipelineID)
		if err != nil {
			e.log.Error("listing steps", logger.ErrorFields("run", err))
			return
		}

		order, found := lowestPendingOrder(steps)
		if !found {
			e.finalize(bg, p, steps, r)
			return
		}

		if ctx.Err() != nil {
			e.interrupt(bg, p, r)
			return
		}

		// The abort policy applies across run boundaries: a failure in an
		// already-terminal stage (for example one settled by a checkpoint
		// approval) blocks this dispatch the same as one from the previous
		// iteration.
		if !p.ContinueOnStageFailure && anyFailedBefore(steps, order) {
			if err := e.cancelRemainingSteps(bg, pipelineID); err != nil {
				e.log.Error("cancelling remaining steps", logger.ErrorFields("run", err))
			}
			steps, _ = e.store.ListSteps(bg, pipelineID)
			e.finalize(bg, p, steps, r)
			return
		}

		// Dispatch the stage: every pending step at this order, in plan
		// order, each as its own cooperative task. Steps whose upstream did
		// not complete are skipped to cancelled instead of dispatched.
		var wg sync.WaitGroup
		dispatched := 0
		for _, s := range steps {
			if s.Order != order || s.Status != pipeline.StepPending {
				continue
			}
			if !e.upstreamCompleted(s, steps) {
				e.skipStep(bg, s)
				continue
			}
			wg.Add(1)
			dispatched++
			step := s
			go func() {
				defer wg.Done()
				e.runStep(ctx, p, step)
			}()
		}
		wg.Wait()

		steps, err = e.store.ListSteps(bg, pipelineID)
		if err != nil {
			e.log.Error("listing steps after stage", logger.ErrorFields("run", err))
			return
		}
		e.rollupCost(bg, p, steps)

		if ctx.Err() != nil {
			e.interrupt(bg, p, r)
			return
		}

		stageFailed := anyFailedAt(steps, order)
		_, hasNext := lowestPendingOrder(steps)

		if p.Mode == pipeline.ModeCheckpoint && p.HasCheckpoint(order) {
			e.holdForReview(bg, p, steps, order)
			return
		}

		if stageFailed && !p.ContinueOnStageFailure && hasNext {
			// Abort the remaining stages; successful outputs stay visible.
			if err := e.cancelRemainingSteps(bg, pipelineID); err != nil {
				e.log.Error("cancelling remaining steps", logger.ErrorFields("run", err))
			}
			steps, _ = e.store.ListSteps(bg, pipelineID)
			e.finalize(bg, p, steps, r)
			return
		}

		e.mu.Lock()
		paused := r.pauseRequested
		e.mu.Unlock()
		if paused && hasNext {
			e.setPipelineStatusLogged(bg, p, pipeline.StatusPaused)
			return
		}

		if p.Mode == pipeline.ModeManual && hasNext {
			// Manual mode runs one stage per Run call.
			e.setPipelineStatusLogged(bg, p, pipeline.StatusPaused)
			return
		}
	}
}

// finalize rolls terminal step states up into the pipeline status.
func (e *Engine) finalize(ctx context.Context, p *pipeline.Pipeline, steps []*pipeline.Step, r *run) {
	e.rollupCost(ctx, p, steps)

	var failed, cancelled int
	for _, s := range steps {
		switch s.Status {
		case pipeline.StepFailed:
			failed++
		case pipeline.StepCancelled:
			cancelled++
		}
	}

	e.mu.Lock()
	wasCancelled := r != nil && r.cancelRequested
	e.mu.Unlock()

	var status pipeline.Status
	switch {
	case wasCancelled:
		status = pipeline.StatusCancelled
	case failed > 0 && !p.ContinueOnStageFailure:
		status = pipeline.StatusFailed
	case failed > 0 && failed+cancelled == len(steps):
		// Nothing succeeded; tolerating failures cannot make this a success.
		status = pipeline.StatusFailed
	default:
		// Includes explicit partial success under ContinueOnStageFailure.
		status = pipeline.StatusCompleted
	}
	e.setPipelineStatusLogged(ctx, p, status)
}

// interrupt handles a cancelled run context: explicit Cancel finalizes the
// pipeline as cancelled, engine shutdown leaves it paused and resumable.
func (e *Engine) interrupt(ctx context.Context, p *pipeline.Pipeline, r *run) {
	e.mu.Lock()
	explicit := r.cancelRequested
	e.mu.Unlock()

	if !explicit {
		// Shutdown, not cancel: put interrupted steps back so a later
		// Resume re-runs them instead of skipping past them.
		if err := e.requeueCancelledSteps(ctx, p.ID); err != nil {
			e.log.Error("requeueing interrupted steps", logger.ErrorFields("shutdown", err))
		}
		e.setPipelineStatusLogged(ctx, p, pipeline.StatusPaused)
		return
	}
	if err := e.cancelRemainingSteps(ctx, p.ID); err != nil {
		e.log.Error("cancelling remaining steps", logger.ErrorFields("cancel", err))
	}
	e.setPipelineStatusLogged(ctx, p, pipeline.StatusCancelled)
}

// holdForReview parks a finished checkpoint stage for manual approval.
func (e *Engine) holdForReview(ctx context.Context, p *pipeline.Pipeline, steps []*pipeline.Step, order int) {
	for _, s := range steps {
		if s.Order != order || !s.Status.IsTerminal() || s.Status == pipeline.StepCancelled {
			continue
		}
		s.Status = pipeline.StepReview
		if err := e.store.UpdateStep(ctx, s); err != nil {
			e.log.Error("marking step for review", logger.ErrorFields("checkpoint", err))
			continue
		}
		e.publish(events.Event{PipelineID: p.ID, StepID: s.ID, Status: string(pipeline.StepReview)})
	}
	e.log.Info("checkpoint reached", logger.Fields(
		logger.FieldPipelineID, p.ID,
		logger.FieldStepOrder, order,
	))
	e.setPipelineStatusLogged(ctx, p, pipeline.StatusPaused)
}

// cancelRemainingSteps marks every step that never produced a result
// cancelled. Steps being executed right now finish through their own
// cancellation path. Steps held for review already ran; they settle to the
// outcome they earned so finished work keeps its outputs and its charge.
func (e *Engine) cancelRemainingSteps(ctx context.Context, pipelineID string) error {
	steps, err := e.store.ListSteps(ctx, pipelineID)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if s.Status.IsTerminal() || s.Status == pipeline.StepRunning {
			continue
		}
		if s.Status == pipeline.StepReview {
			settleReview(s)
		} else {
			s.Status = pipeline.StepCancelled
		}
		if err := e.store.UpdateStep(ctx, s); err != nil {
			return err
		}
		e.publish(events.Event{PipelineID: pipelineID, StepID: s.ID, Status: string(s.Status)})
	}
	return nil
}

// settleReview restores a review step to the terminal outcome it earned
// before the checkpoint hold.
func settleReview(s *pipeline.Step) {
	if len(s.Outputs) > 0 && s.ErrorMessage == "" {
		s.Status = pipeline.StepCompleted
	} else {
		s.Status = pipeline.StepFailed
	}
}

// requeueCancelledSteps flips cancelled steps back to pending. Steps whose
// upstream genuinely failed are skipped again on the next dispatch, so the
// reset is safe for them too.
func (e *Engine) requeueCancelledSteps(ctx context.Context, pipelineID string) error {
	steps, err := e.store.ListSteps(ctx, pipelineID)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if s.Status != pipeline.StepCancelled {
			continue
		}
		s.Status = pipeline.StepPending
		if err := e.store.UpdateStep(ctx, s); err != nil {
			return err
		}
		e.publish(events.Event{PipelineID: pipelineID, StepID: s.ID, Status: string(pipeline.StepPending)})
	}
	return nil
}

// skipStep cancels a step whose upstream did not complete.
func (e *Engine) skipStep(ctx context.Context, s *pipeline.Step) {
	s.Status = pipeline.StepCancelled
	if err := e.store.UpdateStep(ctx, s); err != nil {
		e.log.Error("skipping step", logger.ErrorFields("dispatch", err))
		return
	}
	e.log.Info("step skipped, upstream did not complete", logger.Fields(
		logger.FieldStepID, s.ID,
		"upstream_step_id", s.Inputs.UpstreamStepID,
	))
	e.publish(events.Event{PipelineID: s.PipelineID, StepID: s.ID, Status: string(pipeline.StepCancelled)})
}

func (e *Engine) upstreamCompleted(s *pipeline.Step, steps []*pipeline.Step) bool {
	if s.Inputs.UpstreamStepID == "" {
		return true
	}
	for _, u := range steps {
		if u.ID == s.Inputs.UpstreamStepID {
			return u.Status == pipeline.StepCompleted
		}
	}
	return false
}

// rollupCost refreshes the pipeline's live actual cost from completed steps.
func (e *Engine) rollupCost(ctx context.Context, p *pipeline.Pipeline, steps []*pipeline.Step) {
	total := pricing.PipelineActual(steps)
	if total == p.CostActualCents {
		return
	}
	p.CostActualCents = total
	if err := e.store.UpdatePipeline(ctx, p); err != nil {
		e.log.Error("updating pipeline cost", logger.ErrorFields("rollup", err))
	}
}

func (e *Engine) setPipelineStatusLogged(ctx context.Context, p *pipeline.Pipeline, status pipeline.Status) {
	if err := e.setPipelineStatus(ctx, p, status); err != nil {
		e.log.Error("updating pipeline status", logger.ErrorFields("rollup", err))
	}
}

// lowestPendingOrder finds the lowest step order that still has pending
// steps to dispatch.
func lowestPendingOrder(steps []*pipeline.Step) (int, bool) {
	lowest, found := 0, false
	for _, s := range steps {
		if s.Status != pipeline.StepPending {
			continue
		}
		if !found || s.Order < lowest {
			lowest, found = s.Order, true
		}
	}
	return lowest, found
}

func anyFailedAt(steps []*pipeline.Step, order int) bool {
	for _, s := range steps {
		if s.Order == order && s.Status == pipeline.StepFailed {
			return true
		}
	}
	return false
}

func anyFailedBefore(steps []*pipeline.Step, order int) bool {
	for _, s := range steps {
		if s.Order < order && s.Status == pipeline.StepFailed {
			return true
		}
	}
	return false
}
