package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/YallaPapi/i2v-sub001/errors"
)

// Store is the persistence boundary for pipelines and their steps. The
// engine depends only on this interface; the storage technology behind it
// is a deployment concern.
type Store interface {
	// CreatePipeline persists a pipeline and its steps atomically. A
	// pipeline is never stored without steps.
	CreatePipeline(ctx context.Context, p *Pipeline, steps []*Step) error
	GetPipeline(ctx context.Context, id string) (*Pipeline, error)
	ListPipelines(ctx context.Context) ([]*Pipeline, error)
	UpdatePipeline(ctx context.Context, p *Pipeline) error
	// DeletePipeline removes a pipeline and cascades to all its steps.
	DeletePipeline(ctx context.Context, id string) error

	GetStep(ctx context.Context, id string) (*Step, error)
	// ListSteps returns a pipeline's steps in creation (dispatch) order.
	ListSteps(ctx context.Context, pipelineID string) ([]*Step, error)
	UpdateStep(ctx context.Context, s *Step) error
	// ClaimStep atomically transitions a step from pending to running,
	// failing with a conflict if another actor already claimed it.
	ClaimStep(ctx context.Context, id string) (*Step, error)
}

// MemoryStore is an in-process Store used by the engine's tests and by
// single-node deployments without external persistence.
type MemoryStore struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	steps     map[string]*Step
	// order preserves creation order per pipeline so dispatch order is
	// deterministic and matches the expansion order.
	order map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines: make(map[string]*Pipeline),
		steps:     make(map[string]*Step),
		order:     make(map[string][]string),
	}
}

func (m *MemoryStore) CreatePipeline(_ context.Context, p *Pipeline, steps []*Step) error {
	if len(steps) == 0 {
		return errors.Validation("pipeline must have at least one step")
	}
	for _, s := range steps {
		if s.PipelineID != p.ID {
			return errors.Validation("step does not belong to the pipeline being created")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pipelines[p.ID]; exists {
		return errors.Conflict("pipeline already exists")
	}

	m.pipelines[p.ID] = clonePipeline(p)
	ids := make([]string, len(steps))
	for i, s := range steps {
		m.steps[s.ID] = cloneStep(s)
		ids[i] = s.ID
	}
	m.order[p.ID] = ids
	return nil
}

func (m *MemoryStore) GetPipeline(_ context.Context, id string) (*Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	if !ok {
		return nil, errors.NotFound("pipeline", id)
	}
	return clonePipeline(p), nil
}

func (m *MemoryStore) ListPipelines(_ context.Context) ([]*Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, clonePipeline(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdatePipeline(_ context.Context, p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pipelines[p.ID]; !ok {
		return errors.NotFound("pipeline", p.ID)
	}
	cp := clonePipeline(p)
	cp.UpdatedAt = time.Now().UTC()
	m.pipelines[p.ID] = cp
	return nil
}

func (m *MemoryStore) DeletePipeline(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pipelines[id]; !ok {
		return errors.NotFound("pipeline", id)
	}
	delete(m.pipelines, id)
	for _, stepID := range m.order[id] {
		delete(m.steps, stepID)
	}
	delete(m.order, id)
	return nil
}

func (m *MemoryStore) GetStep(_ context.Context, id string) (*Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.steps[id]
	if !ok {
		return nil, errors.NotFound("step", id)
	}
	return cloneStep(s), nil
}

func (m *MemoryStore) ListSteps(_ context.Context, pipelineID string) ([]*Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.order[pipelineID]
	if !ok {
		return nil, errors.NotFound("pipeline", pipelineID)
	}
	out := make([]*Step, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.steps[id]; ok {
			out = append(out, cloneStep(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, s *Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.steps[s.ID]; !ok {
		return errors.NotFound("step", s.ID)
	}
	cp := cloneStep(s)
	cp.UpdatedAt = time.Now().UTC()
	m.steps[s.ID] = cp
	if p, ok := m.pipelines[s.PipelineID]; ok {
		p.UpdatedAt = cp.UpdatedAt
	}
	return nil
}

func (m *MemoryStore) ClaimStep(_ context.Context, id string) (*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[id]
	if !ok {
		return nil, errors.NotFound("step", id)
	}
	if s.Status != StepPending {
		return nil, errors.Conflict("step is not pending")
	}
	s.Status = StepRunning
	s.UpdatedAt = time.Now().UTC()
	return cloneStep(s), nil
}

func clonePipeline(p *Pipeline) *Pipeline {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	cp.Checkpoints = append([]int(nil), p.Checkpoints...)
	return &cp
}

func cloneStep(s *Step) *Step {
	cp := *s
	cp.Outputs = append([]Artifact(nil), s.Outputs...)
	return &cp
}
