package resilience

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// GateConfig configures the concurrency gate.
type GateConfig struct {
	// MaxInFlight is the global cap on concurrent provider calls.
	MaxInFlight int `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	// PerModel maps a model key to its own cap, so one slow or rate-limited
	// model cannot starve the others. Models without an entry are bounded
	// only by the global cap.
	PerModel map[string]int `yaml:"per_model" mapstructure:"per_model"`
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{MaxInFlight: 8}
}

// Gate bounds admission of in-flight provider calls. Acquisition blocks
// cooperatively until a slot is free or the context is cancelled; it never
// busy-polls.
type Gate struct {
	global *semaphore.Weighted

	mu       sync.Mutex
	perModel map[string]*semaphore.Weighted
	caps     map[string]int

	inFlight atomic.Int64
	max      int
}

// Permit is an admission token. Release returns both slots; it is safe to
// call more than once.
type Permit struct {
	gate  *Gate
	model *semaphore.Weighted
	once  sync.Once
}

// NewGate creates a gate from config.
func NewGate(cfg GateConfig) *Gate {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultGateConfig().MaxInFlight
	}
	return &Gate{
		global:   semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		perModel: make(map[string]*semaphore.Weighted),
		caps:     cfg.PerModel,
		max:      cfg.MaxInFlight,
	}
}

// Acquire blocks until a slot is free for the model or ctx is cancelled.
// The per-model slot is taken before the global one so a model at its cap
// does not hold a global slot while waiting.
func (g *Gate) Acquire(ctx context.Context, modelKey string) (*Permit, error) {
	modelSem := g.modelSem(modelKey)

	if modelSem != nil {
		if err := modelSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	if err := g.global.Acquire(ctx, 1); err != nil {
		if modelSem != nil {
			modelSem.Release(1)
		}
		return nil, err
	}

	g.inFlight.Add(1)
	return &Permit{gate: g, model: modelSem}, nil
}

// Release returns the permit's slots to the gate.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.gate.inFlight.Add(-1)
		p.gate.global.Release(1)
		if p.model != nil {
			p.model.Release(1)
		}
	})
}

// InUse returns the number of currently admitted calls.
func (g *Gate) InUse() int {
	return int(g.inFlight.Load())
}

// MaxInFlight returns the global cap.
func (g *Gate) MaxInFlight() int {
	return g.max
}

func (g *Gate) modelSem(modelKey string) *semaphore.Weighted {
	cap, ok := g.caps[modelKey]
	if !ok || cap <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.perModel[modelKey]
	if !ok {
		sem = semaphore.NewWeighted(int64(cap))
		g.perModel[modelKey] = sem
	}
	return sem
}
