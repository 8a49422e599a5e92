package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/YallaPapi/i2v-sub001/errors"
)

// Registry maps model identifiers to the capability that serves them.
// Many model names dispatch to one implementation per provider family;
// resolution happens once at step-build time.
type Registry struct {
	mu       sync.RWMutex
	byModel  map[string]Capability
	capNames map[string]bool
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byModel:  make(map[string]Capability),
		capNames: make(map[string]bool),
	}
}

// Register binds a capability to the model identifiers it serves.
func (r *Registry) Register(cap Capability, models ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capNames[cap.Name()] = true
	for _, model := range models {
		r.byModel[model] = cap
	}
}

// ForModel resolves the capability serving a model. An unregistered model
// is a permanent failure: retrying cannot make it appear.
func (r *Registry) ForModel(model string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.byModel[model]
	if !ok {
		return nil, errors.Permanent(fmt.Sprintf("no capability registered for model %q", model), nil)
	}
	return cap, nil
}

// Models returns the sorted model identifiers with a registered capability.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
