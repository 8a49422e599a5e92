package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/YallaPapi/i2v-sub001/errors"
	"github.com/YallaPapi/i2v-sub001/events"
	"github.com/YallaPapi/i2v-sub001/pipeline"
	"github.com/YallaPapi/i2v-sub001/pricing"
	"github.com/YallaPapi/i2v-sub001/provider"
	"github.com/YallaPapi/i2v-sub001/resilience"
)

// fakeCap is a scriptable capability. Submit consults onSubmit with the
// per-step attempt number; Poll succeeds with a deterministic artifact per
// step unless outcome overrides it.
type fakeCap struct {
	mu       sync.Mutex
	attempts map[string]int
	works    map[string]provider.Work

	onSubmit  func(ctx context.Context, w provider.Work, attempt int) error
	outcome   func(w provider.Work) provider.Outcome
	submitted chan provider.Work
}

func newFakeCap() *fakeCap {
	return &fakeCap{
		attempts: make(map[string]int),
		works:    make(map[string]provider.Work),
	}
}

func (f *fakeCap) Name() string { return "fake" }

func (f *fakeCap) Submit(ctx context.Context, w provider.Work) (provider.Handle, error) {
	f.mu.Lock()
	f.attempts[w.StepID]++
	attempt := f.attempts[w.StepID]
	f.works[w.StepID] = w
	f.mu.Unlock()

	if f.submitted != nil {
		select {
		case f.submitted <- w:
		default:
		}
	}
	if f.onSubmit != nil {
		if err := f.onSubmit(ctx, w, attempt); err != nil {
			return provider.Handle{}, err
		}
	}
	return provider.Handle{JobID: w.StepID, Model: w.Model}, nil
}

func (f *fakeCap) Poll(_ context.Context, h provider.Handle) (provider.Outcome, error) {
	f.mu.Lock()
	w := f.works[h.JobID]
	f.mu.Unlock()

	if f.outcome != nil {
		return f.outcome(w), nil
	}
	return provider.Succeeded([]pipeline.Artifact{
		{URL: "fake://" + h.JobID + "/0", Type: "image", PromptUsed: w.Prompt},
	}, 0), nil
}

func (f *fakeCap) attemptCount(stepID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[stepID]
}

func testConfig() Config {
	return Config{
		Gate: resilience.GateConfig{MaxInFlight: 8},
		Retry: resilience.RetryConfig{
			MaxAttempts:             3,
			UnknownMaxAttempts:      2,
			InitialBackoff:          time.Millisecond,
			MaxBackoff:              2 * time.Millisecond,
			BackoffFactor:           1.0,
			RateLimitInitialBackoff: time.Millisecond,
			RateLimitMaxBackoff:     2 * time.Millisecond,
		},
		PollInterval: time.Millisecond,
		PollTimeout:  5 * time.Second,
	}
}

func testEngine(t *testing.T, cap provider.Capability) (*Engine, *pipeline.MemoryStore) {
	t.Helper()
	store := pipeline.NewMemoryStore()
	registry := provider.NewRegistry()
	registry.Register(cap, "flux-dev", "kling-standard")

	eng := New(Deps{
		Store:     store,
		Registry:  registry,
		Estimator: pricing.NewEstimator(nil),
		Events:    events.NewHub(),
	}, testConfig())
	return eng, store
}

func twoStageRequest(mode pipeline.Mode) CreateRequest {
	return CreateRequest{
		Name:   "batch",
		Mode:   mode,
		FanOut: pipeline.FanOutAll,
		Sources: []string{
			"s3://in/a.png",
		},
		Stages: []pipeline.StageSpec{
			{
				Type:    pipeline.StepTypeI2I,
				Enabled: true,
				Prompts: []string{"sunset", "noir"},
				Config:  pipeline.StepConfig{Model: "flux-dev", Count: 1},
			},
			{
				Type:    pipeline.StepTypeI2V,
				Enabled: true,
				Prompts: []string{"slow pan"},
				Config:  pipeline.StepConfig{Model: "kling-standard", Count: 1},
			},
		},
	}
}

func runToCompletion(t *testing.T, eng *Engine, pipelineID string) {
	t.Helper()
	if err := eng.Run(context.Background(), pipelineID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	eng.Wait(pipelineID)
}

func getPipeline(t *testing.T, store *pipeline.MemoryStore, id string) (*pipeline.Pipeline, []*pipeline.Step) {
	t.Helper()
	p, err := store.GetPipeline(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPipeline failed: %v", err)
	}
	steps, err := store.ListSteps(context.Background(), id)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	return p, steps
}

func TestCreatePersistsEstimatedPlan(t *testing.T) {
	eng, store := testEngine(t, newFakeCap())

	p, steps, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// 1 source x 2 prompts, then 2 x 1 prompt.
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}
	// 2 x 3c flux-dev + 2 x 35c kling-standard.
	if p.CostEstimateCents != 76 {
		t.Errorf("expected 76 cents estimate, got %d", p.CostEstimateCents)
	}
	for _, s := range steps {
		if s.CostEstimateCents == 0 {
			t.Errorf("step %s has no estimate", s.ID)
		}
	}

	stored, _ := getPipeline(t, store, p.ID)
	if stored.Status != pipeline.StatusPending {
		t.Errorf("expected pending, got %s", stored.Status)
	}
}

func TestCreateIsAtomic(t *testing.T) {
	eng, store := testEngine(t, newFakeCap())

	req := twoStageRequest(pipeline.ModeAuto)
	req.Stages[1].Config.Model = "unpriced-model"

	if _, _, err := eng.Create(context.Background(), req); err == nil {
		t.Fatal("expected create to fail on unpriceable stage")
	}
	pipelines, err := store.ListPipelines(context.Background())
	if err != nil {
		t.Fatalf("ListPipelines failed: %v", err)
	}
	if len(pipelines) != 0 {
		t.Errorf("expected nothing persisted, found %d pipelines", len(pipelines))
	}
}

func TestEstimateDoesNotPersist(t *testing.T) {
	eng, store := testEngine(t, newFakeCap())

	bd, err := eng.Estimate(twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if bd.TotalCents != 76 {
		t.Errorf("expected 76 cents, got %d", bd.TotalCents)
	}
	pipelines, _ := store.ListPipelines(context.Background())
	if len(pipelines) != 0 {
		t.Error("estimate must not create records")
	}
}

func TestRunCompletesPipelineWithLineage(t *testing.T) {
	cap := newFakeCap()
	eng, store := testEngine(t, cap)

	p, created, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	runToCompletion(t, eng, p.ID)

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	for _, s := range steps {
		if s.Status != pipeline.StepCompleted {
			t.Errorf("step %s is %s", s.ID, s.Status)
		}
		if len(s.Outputs) == 0 {
			t.Errorf("completed step %s has no outputs", s.ID)
		}
		if s.ErrorMessage != "" {
			t.Errorf("completed step %s carries error %q", s.ID, s.ErrorMessage)
		}
		if s.AttemptCount != 1 {
			t.Errorf("step %s used %d attempts", s.ID, s.AttemptCount)
		}
		if s.CostActualCents != s.CostEstimateCents {
			t.Errorf("step %s actual %d != estimate %d without provider cost",
				s.ID, s.CostActualCents, s.CostEstimateCents)
		}
	}
	if got.CostActualCents != got.CostEstimateCents {
		t.Errorf("pipeline actual %d != estimate %d", got.CostActualCents, got.CostEstimateCents)
	}

	// Chained steps must consume the upstream artifact, not the source.
	cap.mu.Lock()
	defer cap.mu.Unlock()
	for _, s := range created {
		w := cap.works[s.ID]
		if s.Inputs.UpstreamStepID == "" {
			if w.SourceURL != s.Inputs.SourceURL {
				t.Errorf("first-stage step %s submitted source %q", s.ID, w.SourceURL)
			}
			continue
		}
		want := "fake://" + s.Inputs.UpstreamStepID + "/0"
		if w.SourceURL != want {
			t.Errorf("step %s submitted %q, want upstream artifact %q", s.ID, w.SourceURL, want)
		}
	}
}

func TestRetryAfterRateLimit(t *testing.T) {
	cap := newFakeCap()
	cap.onSubmit = func(_ context.Context, w provider.Work, attempt int) error {
		if w.Model == "flux-dev" && attempt <= 2 {
			return &errors.HTTPError{StatusCode: 429}
		}
		return nil
	}
	eng, store := testEngine(t, cap)

	req := twoStageRequest(pipeline.ModeAuto)
	req.Stages = req.Stages[:1]
	req.Stages[0].Prompts = []string{"sunset"}

	p, _, err := eng.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	runToCompletion(t, eng, p.ID)

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	s := steps[0]
	if s.Status != pipeline.StepCompleted {
		t.Fatalf("expected completed step, got %s", s.Status)
	}
	if s.AttemptCount != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", s.AttemptCount)
	}
	if cap.attemptCount(s.ID) != 3 {
		t.Errorf("expected 3 submits, got %d", cap.attemptCount(s.ID))
	}
}

func TestInvalidInputFailsWithoutRetry(t *testing.T) {
	cap := newFakeCap()
	cap.onSubmit = func(_ context.Context, _ provider.Work, _ int) error {
		return &errors.HTTPError{StatusCode: 400, Body: "bad prompt"}
	}
	eng, store := testEngine(t, cap)

	req := twoStageRequest(pipeline.ModeAuto)
	req.Stages = req.Stages[:1]
	req.Stages[0].Prompts = []string{"sunset"}

	p, _, err := eng.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	runToCompletion(t, eng, p.ID)

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	s := steps[0]
	if s.Status != pipeline.StepFailed {
		t.Fatalf("expected failed step, got %s", s.Status)
	}
	if s.AttemptCount != 1 {
		t.Errorf("invalid input retried: %d attempts", s.AttemptCount)
	}
	if s.ErrorMessage == "" || !strings.Contains(s.ErrorMessage, "400") {
		t.Errorf("expected error message with status, got %q", s.ErrorMessage)
	}
	if len(s.Outputs) != 0 {
		t.Error("failed step must not carry outputs")
	}
	if s.CostActualCents != 0 {
		t.Errorf("failed step charged %d cents", s.CostActualCents)
	}
}

func TestStageFailureAbortsDownstream(t *testing.T) {
	cap := newFakeCap()
	cap.onSubmit = func(_ context.Context, w provider.Work, _ int) error {
		if w.Model == "flux-dev" && w.Prompt == "noir" {
			return errors.Permanent("account suspended", nil)
		}
		return nil
	}
	eng, store := testEngine(t, cap)

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	runToCompletion(t, eng, p.ID)

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	var completed, failed, cancelled int
	for _, s := range steps {
		switch s.Status {
		case pipeline.StepCompleted:
			completed++
		case pipeline.StepFailed:
			failed++
		case pipeline.StepCancelled:
			cancelled++
			if s.ErrorMessage != "" {
				t.Errorf("cancelled step %s carries error %q", s.ID, s.ErrorMessage)
			}
		}
	}
	// One first-stage step succeeds, one fails, both second-stage steps
	// are aborted before running.
	if completed != 1 || failed != 1 || cancelled != 2 {
		t.Errorf("got %d completed, %d failed, %d cancelled", completed, failed, cancelled)
	}
	// Successful outputs stay visible after the abort.
	if got.CostActualCents == 0 {
		t.Error("expected completed work to be charged")
	}
}

func TestContinueOnStageFailureSkipsOnlyDeadBranch(t *testing.T) {
	cap := newFakeCap()
	cap.onSubmit = func(_ context.Context, w provider.Work, _ int) error {
		if w.Model == "flux-dev" && w.Prompt == "noir" {
			return errors.Permanent("account suspended", nil)
		}
		return nil
	}
	eng, store := testEngine(t, cap)

	req := twoStageRequest(pipeline.ModeAuto)
	req.ContinueOnStageFailure = true
	p, _, err := eng.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	runToCompletion(t, eng, p.ID)

	got, steps := getPipeline(t, store, p.ID)
	// Partial success completes under the tolerant policy.
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	for _, s := range steps {
		if s.Order != 2 {
			continue
		}
		upstream, err := store.GetStep(context.Background(), s.Inputs.UpstreamStepID)
		if err != nil {
			t.Fatalf("GetStep failed: %v", err)
		}
		switch upstream.Status {
		case pipeline.StepCompleted:
			if s.Status != pipeline.StepCompleted {
				t.Errorf("live branch step %s is %s", s.ID, s.Status)
			}
		case pipeline.StepFailed:
			if s.Status != pipeline.StepCancelled {
				t.Errorf("dead branch step %s is %s, want cancelled", s.ID, s.Status)
			}
			if cap.attemptCount(s.ID) != 0 {
				t.Errorf("dead branch step %s was submitted", s.ID)
			}
		}
	}
}

func TestCancelStopsPendingStepsBeforeRunning(t *testing.T) {
	cap := newFakeCap()
	cap.submitted = make(chan provider.Work, 8)
	cap.onSubmit = func(ctx context.Context, w provider.Work, _ int) error {
		// First stage blocks until cancelled.
		<-ctx.Done()
		return ctx.Err()
	}
	eng, store := testEngine(t, cap)

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Wait until the first stage is actually in flight.
	select {
	case <-cap.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("first stage never submitted")
	}

	if err := eng.Cancel(context.Background(), p.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	eng.Wait(p.ID)

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	for _, s := range steps {
		if s.Status != pipeline.StepCancelled {
			t.Errorf("step %s is %s, want cancelled", s.ID, s.Status)
		}
		if s.CostActualCents != 0 {
			t.Errorf("cancelled step %s charged %d cents", s.ID, s.CostActualCents)
		}
		if s.Order == 2 && cap.attemptCount(s.ID) != 0 {
			t.Errorf("pending step %s reached the provider after cancel", s.ID)
		}
	}
}

func TestCancelIdleTerminalConflict(t *testing.T) {
	eng, _ := testEngine(t, newFakeCap())

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.Cancel(context.Background(), p.ID); err != nil {
		t.Fatalf("Cancel of pending pipeline failed: %v", err)
	}
	// A second cancel hits a terminal pipeline.
	if err := eng.Cancel(context.Background(), p.ID); err == nil {
		t.Fatal("expected conflict cancelling a cancelled pipeline")
	}
}

func TestCheckpointPausesThenApproveResumes(t *testing.T) {
	cap := newFakeCap()
	eng, store := testEngine(t, cap)

	req := twoStageRequest(pipeline.ModeCheckpoint)
	req.Checkpoints = []int{1}
	p, _, err := eng.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	runToCompletion(t, eng, p.ID)

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusPaused {
		t.Fatalf("expected paused at checkpoint, got %s", got.Status)
	}
	review := 0
	for _, s := range steps {
		if s.Order == 1 {
			if s.Status != pipeline.StepReview {
				t.Errorf("first-stage step %s is %s, want review", s.ID, s.Status)
			}
			review++
		}
	}
	if review != 2 {
		t.Fatalf("expected 2 review steps, got %d", review)
	}

	// Run must not bypass the checkpoint.
	if err := eng.Run(context.Background(), p.ID); err == nil {
		t.Fatal("expected conflict running an unapproved checkpoint")
	}

	if err := eng.Approve(context.Background(), p.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	eng.Wait(p.ID)

	got, steps = getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed after approval, got %s", got.Status)
	}
	for _, s := range steps {
		if s.Status != pipeline.StepCompleted {
			t.Errorf("step %s is %s after approval", s.ID, s.Status)
		}
	}
}

func TestCancelAtCheckpointKeepsFinishedWork(t *testing.T) {
	cap := newFakeCap()
	eng, store := testEngine(t, cap)

	req := twoStageRequest(pipeline.ModeCheckpoint)
	req.Checkpoints = []int{1}
	p, _, err := eng.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	runToCompletion(t, eng, p.ID)

	if err := eng.Cancel(context.Background(), p.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	for _, s := range steps {
		switch s.Order {
		case 1:
			// Work finished before the hold keeps its real outcome.
			if s.Status != pipeline.StepCompleted {
				t.Errorf("first-stage step %s is %s, want completed", s.ID, s.Status)
			}
			if len(s.Outputs) == 0 {
				t.Errorf("first-stage step %s lost its outputs", s.ID)
			}
			if s.ErrorMessage != "" {
				t.Errorf("first-stage step %s carries error %q", s.ID, s.ErrorMessage)
			}
			if s.CostActualCents != s.CostEstimateCents {
				t.Errorf("first-stage step %s charged %d, want %d",
					s.ID, s.CostActualCents, s.CostEstimateCents)
			}
		case 2:
			if s.Status != pipeline.StepCancelled {
				t.Errorf("second-stage step %s is %s, want cancelled", s.ID, s.Status)
			}
			if s.CostActualCents != 0 {
				t.Errorf("cancelled step %s charged %d cents", s.ID, s.CostActualCents)
			}
		}
	}
	// 2 flux-dev steps at 3 cents stay billed.
	if got.CostActualCents != 6 {
		t.Errorf("expected 6 cents actual, got %d", got.CostActualCents)
	}
}

func TestCheckpointFailureAbortsApprovedSuccessors(t *testing.T) {
	cap := newFakeCap()
	cap.onSubmit = func(_ context.Context, w provider.Work, _ int) error {
		if w.Model == "flux-dev" && w.Prompt == "noir" {
			return errors.Permanent("account suspended", nil)
		}
		return nil
	}
	eng, store := testEngine(t, cap)

	req := twoStageRequest(pipeline.ModeCheckpoint)
	req.Checkpoints = []int{1}
	p, _, err := eng.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	runToCompletion(t, eng, p.ID)

	if err := eng.Approve(context.Background(), p.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	eng.Wait(p.ID)

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	for _, s := range steps {
		if s.Order != 2 {
			continue
		}
		// The failed first stage blocks the second from dispatching even
		// on the branch whose upstream completed.
		if s.Status != pipeline.StepCancelled {
			t.Errorf("second-stage step %s is %s, want cancelled", s.ID, s.Status)
		}
		if cap.attemptCount(s.ID) != 0 {
			t.Errorf("second-stage step %s reached the provider", s.ID)
		}
		if s.ErrorMessage != "" {
			t.Errorf("cancelled step %s carries error %q", s.ID, s.ErrorMessage)
		}
	}
}

func TestPauseWithoutActiveRun(t *testing.T) {
	eng, store := testEngine(t, newFakeCap())

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.Pause(context.Background(), p.ID); err == nil {
		t.Fatal("expected conflict pausing a pending pipeline")
	}

	// A stored running status with no live run behind it, as after a
	// restart; the pause must persist instead of silently succeeding.
	stale, err := store.GetPipeline(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPipeline failed: %v", err)
	}
	stale.Status = pipeline.StatusRunning
	if err := store.UpdatePipeline(context.Background(), stale); err != nil {
		t.Fatalf("UpdatePipeline failed: %v", err)
	}

	if err := eng.Pause(context.Background(), p.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	got, _ := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}
}

func TestApproveWithoutReviewConflicts(t *testing.T) {
	eng, _ := testEngine(t, newFakeCap())

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.Approve(context.Background(), p.ID); err == nil {
		t.Fatal("expected conflict approving a pending pipeline")
	}
}

func TestManualModeRunsOneStagePerCall(t *testing.T) {
	eng, store := testEngine(t, newFakeCap())

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeManual))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	runToCompletion(t, eng, p.ID)
	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusPaused {
		t.Fatalf("expected paused after first stage, got %s", got.Status)
	}
	for _, s := range steps {
		if s.Order == 1 && s.Status != pipeline.StepCompleted {
			t.Errorf("first-stage step %s is %s", s.ID, s.Status)
		}
		if s.Order == 2 && s.Status != pipeline.StepPending {
			t.Errorf("second-stage step %s is %s, want pending", s.ID, s.Status)
		}
	}

	runToCompletion(t, eng, p.ID)
	got, _ = getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed after second run, got %s", got.Status)
	}
}

func TestPauseWaitsForStageThenResumes(t *testing.T) {
	release := make(chan struct{})
	cap := newFakeCap()
	cap.submitted = make(chan provider.Work, 8)
	cap.onSubmit = func(ctx context.Context, w provider.Work, _ int) error {
		if w.Model == "flux-dev" {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	eng, store := testEngine(t, cap)

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case <-cap.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("first stage never submitted")
	}
	if err := eng.Pause(context.Background(), p.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	close(release)
	eng.Wait(p.ID)

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}
	for _, s := range steps {
		// In-flight work finished naturally; nothing new was dispatched.
		if s.Order == 1 && s.Status != pipeline.StepCompleted {
			t.Errorf("first-stage step %s is %s", s.ID, s.Status)
		}
		if s.Order == 2 && s.Status != pipeline.StepPending {
			t.Errorf("second-stage step %s is %s, want pending", s.ID, s.Status)
		}
	}

	if err := eng.Resume(context.Background(), p.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	eng.Wait(p.ID)
	got, _ = getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed after resume, got %s", got.Status)
	}
}

func TestRunConflictsWhileActive(t *testing.T) {
	cap := newFakeCap()
	cap.submitted = make(chan provider.Work, 8)
	cap.onSubmit = func(ctx context.Context, _ provider.Work, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}
	eng, _ := testEngine(t, cap)

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	select {
	case <-cap.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("first stage never submitted")
	}

	if err := eng.Run(context.Background(), p.ID); err == nil {
		t.Error("expected conflict starting an active pipeline")
	}

	eng.Shutdown()
}

func TestShutdownLeavesPipelineResumable(t *testing.T) {
	cap := newFakeCap()
	cap.submitted = make(chan provider.Work, 8)
	cap.onSubmit = func(ctx context.Context, w provider.Work, _ int) error {
		if w.Model == "flux-dev" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	eng, store := testEngine(t, cap)

	p, _, err := eng.Create(context.Background(), twoStageRequest(pipeline.ModeAuto))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := eng.Run(context.Background(), p.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	select {
	case <-cap.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("first stage never submitted")
	}

	eng.Shutdown()

	got, steps := getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusPaused {
		t.Fatalf("expected paused after shutdown, got %s", got.Status)
	}
	for _, s := range steps {
		if s.Status != pipeline.StepPending {
			t.Errorf("step %s is %s after shutdown, want pending", s.ID, s.Status)
		}
	}

	// A fresh engine over the same store picks the work back up.
	registry := provider.NewRegistry()
	registry.Register(newFakeCap(), "flux-dev", "kling-standard")
	eng2 := New(Deps{
		Store:     store,
		Registry:  registry,
		Estimator: pricing.NewEstimator(nil),
	}, testConfig())
	runToCompletion(t, eng2, p.ID)

	got, _ = getPipeline(t, store, p.ID)
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed after restart, got %s", got.Status)
	}
}
