package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/YallaPapi/i2v-sub001/errors"
	"github.com/YallaPapi/i2v-sub001/events"
	"github.com/YallaPapi/i2v-sub001/logger"
	"github.com/YallaPapi/i2v-sub001/observability"
	"github.com/YallaPapi/i2v-sub001/pipeline"
	"github.com/YallaPapi/i2v-sub001/pricing"
	"github.com/YallaPapi/i2v-sub001/provider"
	"github.com/YallaPapi/i2v-sub001/resilience"
)

// runStep executes one step to a terminal state: claim, build provider
// work from config and lineage, acquire a gate permit, submit and poll,
// retry classified failures per policy. Cancellation is observed at every
// suspension point; a late provider result after cancellation is discarded.
func (e *Engine) runStep(ctx context.Context, p *pipeline.Pipeline, s *pipeline.Step) {
	bg := context.Background()

	if ctx.Err() != nil {
		// Cancelled before the claim: the step never reaches running.
		s.Status = pipeline.StepCancelled
		e.updateStep(bg, s)
		return
	}

	claimed, err := e.store.ClaimStep(bg, s.ID)
	if err != nil {
		// Another actor claimed it; nothing to do here.
		e.log.Debug("step claim lost", logger.Fields(logger.FieldStepID, s.ID))
		return
	}
	s = claimed

	start := time.Now()
	if e.metrics != nil {
		e.metrics.RecordStepStart(ctx)
	}
	spanCtx, span := observability.StartSpan(ctx, "engine.step")
	observability.SetSpanAttribute(spanCtx, "step.id", s.ID)
	observability.SetSpanAttribute(spanCtx, "step.type", string(s.Type))
	observability.SetSpanAttribute(spanCtx, "step.model", s.Config.Model)
	defer span.End()

	e.publish(events.Event{PipelineID: p.ID, StepID: s.ID, Status: string(pipeline.StepRunning)})

	work, err := e.buildWork(bg, s)
	if err != nil {
		e.finishStep(spanCtx, s, nil, 0, err, start)
		return
	}

	cap, err := e.registry.ForModel(s.Config.Model)
	if err != nil {
		e.finishStep(spanCtx, s, nil, 0, err, start)
		return
	}

	for {
		s.AttemptCount++

		outcome, attemptErr := e.attempt(spanCtx, cap, work, s.Config.Model)
		if attemptErr == nil {
			e.finishStep(spanCtx, s, outcome.Artifacts, outcome.CostCents, nil, start)
			return
		}
		if ctx.Err() != nil {
			e.cancelStep(spanCtx, s, start)
			return
		}

		classified := errors.Classified(attemptErr)
		if !e.policy.ShouldRetry(classified.Kind, s.AttemptCount) {
			e.finishStep(spanCtx, s, nil, 0, classified, start)
			return
		}

		// Persist the consumed attempt before backing off so progress
		// survives observation mid-retry.
		e.updateStep(bg, s)

		delay := e.policy.Backoff(classified.Kind, s.AttemptCount, classified.RetryAfter)
		if e.metrics != nil {
			e.metrics.RecordRetry(spanCtx, string(classified.Kind))
		}
		e.log.Warn("step attempt failed, retrying", logger.Fields(
			logger.FieldStepID, s.ID,
			logger.FieldAttempt, s.AttemptCount,
			"kind", string(classified.Kind),
			"backoff_ms", delay.Milliseconds(),
			logger.FieldError, classified.Message,
		))
		if err := resilience.Sleep(ctx, delay); err != nil {
			e.cancelStep(spanCtx, s, start)
			return
		}
	}
}

// attempt performs one submit/poll cycle under a gate permit.
func (e *Engine) attempt(ctx context.Context, cap provider.Capability, work provider.Work, model string) (provider.Outcome, error) {
	permit, err := e.gate.Acquire(ctx, model)
	if err != nil {
		return provider.Outcome{}, err
	}
	defer permit.Release()

	handle, err := cap.Submit(ctx, work)
	if err != nil {
		return provider.Outcome{}, err
	}

	deadline := time.Now().Add(e.cfg.PollTimeout)
	for {
		if err := resilience.Sleep(ctx, e.cfg.PollInterval); err != nil {
			return provider.Outcome{}, err
		}
		if time.Now().After(deadline) {
			return provider.Outcome{}, errors.Timeout("provider poll")
		}

		outcome, err := cap.Poll(ctx, handle)
		if err != nil {
			return provider.Outcome{}, err
		}
		switch outcome.State {
		case provider.StateSucceeded:
			return outcome, nil
		case provider.StateFailed:
			if outcome.Err != nil {
				return provider.Outcome{}, outcome.Err
			}
			return provider.Outcome{}, fmt.Errorf("provider reported failure without detail")
		}
	}
}

// buildWork resolves a step's lineage into provider input. Chained stages
// consume the upstream step's output artifact, never the original source.
func (e *Engine) buildWork(ctx context.Context, s *pipeline.Step) (provider.Work, error) {
	sourceURL := s.Inputs.SourceURL
	if s.Inputs.UpstreamStepID != "" {
		upstream, err := e.store.GetStep(ctx, s.Inputs.UpstreamStepID)
		if err != nil {
			return provider.Work{}, err
		}
		if s.Inputs.UpstreamOutput >= len(upstream.Outputs) {
			return provider.Work{}, errors.Permanent(
				fmt.Sprintf("upstream step %s has no output %d", upstream.ID, s.Inputs.UpstreamOutput), nil)
		}
		sourceURL = upstream.Outputs[s.Inputs.UpstreamOutput].URL
	}

	return provider.Work{
		StepID:      s.ID,
		Model:       s.Config.Model,
		Prompt:      s.Inputs.Prompt,
		SourceURL:   sourceURL,
		Count:       s.Config.Count,
		Resolution:  s.Config.Resolution,
		Quality:     s.Config.Quality,
		DurationSec: s.Config.DurationSec,
	}, nil
}

// finishStep writes a step's terminal success or failure.
func (e *Engine) finishStep(ctx context.Context, s *pipeline.Step, artifacts []pipeline.Artifact, providerCents int64, failure error, start time.Time) {
	bg := context.Background()

	if failure == nil {
		s.Status = pipeline.StepCompleted
		s.Outputs = artifacts
		s.ErrorMessage = ""
		s.CostActualCents = pricing.Actual(s, providerCents)
		if e.metrics != nil {
			e.metrics.RecordCost(ctx, s.Config.Model, s.CostActualCents)
		}
	} else {
		s.Status = pipeline.StepFailed
		s.Outputs = nil
		s.CostActualCents = 0
		s.ErrorMessage = failure.Error()
		observability.SetSpanError(ctx, failure)
	}
	e.updateStep(bg, s)

	if e.metrics != nil {
		e.metrics.RecordStepEnd(ctx, string(s.Type), s.Config.Model, string(s.Status), time.Since(start))
	}
	e.publish(events.Event{
		PipelineID:      s.PipelineID,
		StepID:          s.ID,
		Status:          string(s.Status),
		CostActualCents: s.CostActualCents,
		ErrorMessage:    s.ErrorMessage,
	})
	e.log.Info("step finished", logger.Fields(
		logger.FieldStepID, s.ID,
		logger.FieldStatus, string(s.Status),
		logger.FieldAttempt, s.AttemptCount,
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
}

// cancelStep writes a cancelled terminal state; unrealized work is not
// charged.
func (e *Engine) cancelStep(ctx context.Context, s *pipeline.Step, start time.Time) {
	s.Status = pipeline.StepCancelled
	s.Outputs = nil
	s.CostActualCents = 0
	e.updateStep(context.Background(), s)

	if e.metrics != nil {
		e.metrics.RecordStepEnd(ctx, string(s.Type), s.Config.Model, string(s.Status), time.Since(start))
	}
	e.publish(events.Event{PipelineID: s.PipelineID, StepID: s.ID, Status: string(pipeline.StepCancelled)})
}

func (e *Engine) updateStep(ctx context.Context, s *pipeline.Step) {
	if err := e.store.UpdateStep(ctx, s); err != nil {
		e.log.Error("persisting step", logger.ErrorFields("step", err))
	}
}
