// Package events provides an in-process hub broadcasting pipeline and step
// status changes to subscribers (the HTTP layer streams them out as SSE).
package events

import (
	"sync"
	"time"

	"github.com/YallaPapi/i2v-sub001/logger"
)

// Event is one pipeline or step status change.
type Event struct {
	PipelineID      string    `json:"pipeline_id"`
	StepID          string    `json:"step_id,omitempty"`
	Status          string    `json:"status"`
	CostActualCents int64     `json:"cost_actual_cents,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	At              time.Time `json:"at"`
}

// Publisher is the producing side of the hub.
type Publisher interface {
	Publish(e Event)
}

// Hub fans events out to subscribers. Slow subscribers drop events instead
// of blocking the engine.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
	log  *logger.Logger
}

type subscription struct {
	pipelineID string // empty subscribes to all pipelines
	ch         chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[int]*subscription),
		log:  logger.WithComponent("events"),
	}
}

// Subscribe registers interest in one pipeline's events (or all, when
// pipelineID is empty). The returned cancel func must be called to release
// the subscription; the channel is closed by cancel.
func (h *Hub) Subscribe(pipelineID string) (<-chan Event, func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	sub := &subscription{pipelineID: pipelineID, ch: make(chan Event, 64)}
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers an event to matching subscribers without blocking.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.pipelineID != "" && sub.pipelineID != e.PipelineID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.log.Warn("subscriber channel full, dropping event", logger.Fields(
				logger.FieldPipelineID, e.PipelineID,
			))
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
