package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YallaPapi/i2v-sub001/pipeline"
)

// Simulated is a capability that fabricates artifacts after a fixed delay.
// It backs local development runs when no real provider is configured.
type Simulated struct {
	name  string
	delay time.Duration

	mu   sync.Mutex
	jobs map[string]simJob
}

type simJob struct {
	work  Work
	ready time.Time
}

// NewSimulated creates a simulated capability that completes jobs after delay.
func NewSimulated(name string, delay time.Duration) *Simulated {
	return &Simulated{name: name, delay: delay, jobs: make(map[string]simJob)}
}

func (s *Simulated) Name() string { return s.name }

func (s *Simulated) Submit(_ context.Context, work Work) (Handle, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.jobs[id] = simJob{work: work, ready: time.Now().Add(s.delay)}
	s.mu.Unlock()
	return Handle{JobID: id, Model: work.Model}, nil
}

func (s *Simulated) Poll(_ context.Context, h Handle) (Outcome, error) {
	s.mu.Lock()
	job, ok := s.jobs[h.JobID]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("unknown job %s", h.JobID)
	}
	if time.Now().Before(job.ready) {
		return StillRunning(), nil
	}

	count := job.work.Count
	if count <= 0 {
		count = 1
	}
	artifacts := make([]pipeline.Artifact, count)
	for i := range artifacts {
		artifacts[i] = pipeline.Artifact{
			URL:        fmt.Sprintf("sim://%s/%s/%d", job.work.Model, h.JobID, i),
			Type:       artifactType(job.work),
			PromptUsed: job.work.Prompt,
		}
	}

	s.mu.Lock()
	delete(s.jobs, h.JobID)
	s.mu.Unlock()
	return Succeeded(artifacts, 0), nil
}

func artifactType(work Work) string {
	if work.DurationSec > 0 {
		return "video"
	}
	return "image"
}
