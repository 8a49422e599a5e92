package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/YallaPapi/i2v-sub001/config"
	"github.com/YallaPapi/i2v-sub001/engine"
	"github.com/YallaPapi/i2v-sub001/errors"
	"github.com/YallaPapi/i2v-sub001/events"
	"github.com/YallaPapi/i2v-sub001/logger"
	"github.com/YallaPapi/i2v-sub001/pipeline"
	"github.com/YallaPapi/i2v-sub001/pricing"
	"github.com/YallaPapi/i2v-sub001/provider"
	"github.com/YallaPapi/i2v-sub001/resilience"
)

// okCap completes every submission immediately.
type okCap struct {
	// block, when set, makes Submit wait for cancellation.
	block bool
}

func (c *okCap) Name() string { return "ok" }

func (c *okCap) Submit(ctx context.Context, w provider.Work) (provider.Handle, error) {
	if c.block {
		<-ctx.Done()
		return provider.Handle{}, ctx.Err()
	}
	return provider.Handle{JobID: w.StepID, Model: w.Model}, nil
}

func (c *okCap) Poll(_ context.Context, h provider.Handle) (provider.Outcome, error) {
	return provider.Succeeded([]pipeline.Artifact{{URL: "ok://" + h.JobID, Type: "image"}}, 0), nil
}

type testAPI struct {
	router *gin.Engine
	engine *engine.Engine
	store  *pipeline.MemoryStore
}

func newTestAPI(t *testing.T, cap provider.Capability) *testAPI {
	t.Helper()
	store := pipeline.NewMemoryStore()
	registry := provider.NewRegistry()
	registry.Register(cap, "flux-dev", "kling-standard")

	eng := engine.New(engine.Deps{
		Store:     store,
		Registry:  registry,
		Estimator: pricing.NewEstimator(nil),
		Events:    events.NewHub(),
	}, engine.Config{
		Gate:         resilience.GateConfig{MaxInFlight: 8},
		PollInterval: time.Millisecond,
		PollTimeout:  5 * time.Second,
	})

	log := logger.GetGlobalLogger()
	h := NewHandler(eng, store, events.NewHub(), log)
	srv := NewServer(config.HTTPConfig{Host: "127.0.0.1", Port: 0}, h, log)
	return &testAPI{router: srv.GinEngine(), engine: eng, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return out
}

// validBody is the canonical four-by-four request: 2 sources through a
// two-prompt i2i stage, each result animated once.
func validBody() map[string]any {
	return map[string]any{
		"name":    "product shots",
		"mode":    "auto",
		"fan_out": "all_combinations",
		"sources": []string{"s3://in/a.png", "s3://in/b.png"},
		"stages": []map[string]any{
			{
				"step_type": "i2i",
				"prompts":   []string{"studio light", "golden hour"},
				"config":    map[string]any{"model": "flux-dev"},
			},
			{
				"step_type": "i2v",
				"prompts":   []string{"slow pan"},
				"config":    map[string]any{"model": "kling-standard"},
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, &okCap{})
	w := api.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreatePipeline(t *testing.T) {
	api := newTestAPI(t, &okCap{})

	w := api.do(t, http.MethodPost, "/api/pipelines", validBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[pipelineResponse](t, w)
	if resp.Pipeline == nil || resp.Pipeline.ID == "" {
		t.Fatal("response carries no pipeline")
	}
	if resp.Pipeline.Status != pipeline.StatusPending {
		t.Errorf("expected pending, got %s", resp.Pipeline.Status)
	}
	// 4 i2i steps at 3 cents plus 4 i2v steps at 35 cents.
	if len(resp.Steps) != 8 {
		t.Errorf("expected 8 steps, got %d", len(resp.Steps))
	}
	if resp.Pipeline.CostEstimateCents != 152 {
		t.Errorf("expected 152 cents, got %d", resp.Pipeline.CostEstimateCents)
	}
}

func TestEstimateDoesNotCreate(t *testing.T) {
	api := newTestAPI(t, &okCap{})

	w := api.do(t, http.MethodPost, "/api/pipelines/estimate", validBody())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[estimateResponse](t, w)
	if resp.Estimate.TotalCents != 152 {
		t.Errorf("expected 152 cents, got %d", resp.Estimate.TotalCents)
	}
	if len(resp.Estimate.Stages) != 2 {
		t.Fatalf("expected 2 stage costs, got %d", len(resp.Estimate.Stages))
	}
	if resp.Estimate.Stages[0].Cents != 12 || resp.Estimate.Stages[1].Cents != 140 {
		t.Errorf("unexpected stage split: %d / %d",
			resp.Estimate.Stages[0].Cents, resp.Estimate.Stages[1].Cents)
	}

	list := decode[listResponse](t, api.do(t, http.MethodGet, "/api/pipelines", nil))
	if list.Count != 0 {
		t.Errorf("estimate persisted %d pipelines", list.Count)
	}
}

func TestCreateValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(body map[string]any)
	}{
		{"missing name", func(b map[string]any) { delete(b, "name") }},
		{"no sources", func(b map[string]any) { b["sources"] = []string{} }},
		{"blank source", func(b map[string]any) { b["sources"] = []string{""} }},
		{"bad mode", func(b map[string]any) { b["mode"] = "turbo" }},
		{"bad fan out", func(b map[string]any) { b["fan_out"] = "round_robin" }},
		{"no stages", func(b map[string]any) { b["stages"] = []map[string]any{} }},
		{"bad stage type", func(b map[string]any) {
			b["stages"].([]map[string]any)[0]["step_type"] = "upscale"
		}},
		{"stage without prompts", func(b map[string]any) {
			b["stages"].([]map[string]any)[0]["prompts"] = []string{}
		}},
		{"stage without model", func(b map[string]any) {
			b["stages"].([]map[string]any)[0]["config"] = map[string]any{}
		}},
		{"checkpoints outside checkpoint mode", func(b map[string]any) {
			b["checkpoints"] = []int{1}
		}},
		{"checkpoint order below one", func(b map[string]any) {
			b["mode"] = "checkpoint"
			b["checkpoints"] = []int{0}
		}},
	}

	api := newTestAPI(t, &okCap{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := validBody()
			tc.mutate(body)
			w := api.do(t, http.MethodPost, "/api/pipelines", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			resp := decode[errors.ErrorResponse](t, w)
			if resp.Error.Kind != errors.KindInvalidInput {
				t.Errorf("expected invalid_input, got %s", resp.Error.Kind)
			}
		})
	}
}

func TestCreateMalformedJSON(t *testing.T) {
	api := newTestAPI(t, &okCap{})

	req := httptest.NewRequest(http.MethodPost, "/api/pipelines", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetPipelineErrors(t *testing.T) {
	api := newTestAPI(t, &okCap{})

	w := api.do(t, http.MethodGet, "/api/pipelines/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", w.Code)
	}

	w = api.do(t, http.MethodGet, "/api/pipelines/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestRunToCompletion(t *testing.T) {
	api := newTestAPI(t, &okCap{})

	created := decode[pipelineResponse](t, api.do(t, http.MethodPost, "/api/pipelines", validBody()))
	id := created.Pipeline.ID

	w := api.do(t, http.MethodPost, "/api/pipelines/"+id+"/run", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	accepted := decode[pipelineResponse](t, w)
	if accepted.Pipeline.Status != pipeline.StatusRunning {
		t.Errorf("expected running in the accept response, got %s", accepted.Pipeline.Status)
	}

	api.engine.Wait(id)

	got := decode[pipelineResponse](t, api.do(t, http.MethodGet, "/api/pipelines/"+id, nil))
	if got.Pipeline.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Pipeline.Status)
	}
	for _, s := range got.Steps {
		if s.Status != pipeline.StepCompleted {
			t.Errorf("step %s is %s", s.ID, s.Status)
		}
		if len(s.Outputs) == 0 {
			t.Errorf("step %s has no outputs", s.ID)
		}
	}
	if got.Pipeline.CostActualCents != 152 {
		t.Errorf("expected 152 cents actual, got %d", got.Pipeline.CostActualCents)
	}
}

func TestCommandOnUnknownPipeline(t *testing.T) {
	api := newTestAPI(t, &okCap{})

	w := api.do(t, http.MethodPost, "/api/pipelines/"+uuid.NewString()+"/run", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRunTwiceConflicts(t *testing.T) {
	api := newTestAPI(t, &okCap{block: true})

	created := decode[pipelineResponse](t, api.do(t, http.MethodPost, "/api/pipelines", validBody()))
	id := created.Pipeline.ID

	if w := api.do(t, http.MethodPost, "/api/pipelines/"+id+"/run", nil); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	w := api.do(t, http.MethodPost, "/api/pipelines/"+id+"/run", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second run, got %d", w.Code)
	}

	api.engine.Shutdown()
}

func TestDeleteLifecycle(t *testing.T) {
	api := newTestAPI(t, &okCap{block: true})

	created := decode[pipelineResponse](t, api.do(t, http.MethodPost, "/api/pipelines", validBody()))
	id := created.Pipeline.ID

	if w := api.do(t, http.MethodPost, "/api/pipelines/"+id+"/run", nil); w.Code != http.StatusAccepted {
		t.Fatalf("run rejected: %d", w.Code)
	}

	// Running pipelines must be cancelled before deletion.
	w := api.do(t, http.MethodDelete, "/api/pipelines/"+id, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 deleting a running pipeline, got %d", w.Code)
	}

	if w := api.do(t, http.MethodPost, "/api/pipelines/"+id+"/cancel", nil); w.Code != http.StatusAccepted {
		t.Fatalf("cancel rejected: %d", w.Code)
	}
	api.engine.Wait(id)

	if w := api.do(t, http.MethodDelete, "/api/pipelines/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if w := api.do(t, http.MethodGet, "/api/pipelines/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestListPipelines(t *testing.T) {
	api := newTestAPI(t, &okCap{})

	for range 3 {
		if w := api.do(t, http.MethodPost, "/api/pipelines", validBody()); w.Code != http.StatusCreated {
			t.Fatalf("create rejected: %d", w.Code)
		}
	}
	list := decode[listResponse](t, api.do(t, http.MethodGet, "/api/pipelines", nil))
	if list.Count != 3 || len(list.Pipelines) != 3 {
		t.Fatalf("expected 3 pipelines, got count %d len %d", list.Count, len(list.Pipelines))
	}
}
