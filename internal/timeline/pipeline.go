package timeline

import "sync"

// Pipeline tracks the status of an ordered set of steps. At most one
// step is active at any time, and a completed step never goes back to
// pending or active.
type Pipeline struct {
	mu    sync.Mutex
	steps []Step
}

// NewPipeline builds a pipeline with every step pending.
func NewPipeline(specs []StepSpec) *Pipeline {
	steps := make([]Step, len(specs))
	for i, s := range specs {
		steps[i] = Step{ID: s.ID, Label: s.Label, Status: StatusPending}
	}
	return &Pipeline{steps: steps}
}

// Steps returns a snapshot of the current step states.
func (p *Pipeline) Steps() []Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Advance completes the currently active step, if any, and activates the
// next pending one. On a fresh pipeline it activates the first step.
// Returns false once there is nothing left to activate.
func (p *Pipeline) Advance() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.steps {
		if p.steps[i].Status == StatusActive {
			p.steps[i].Status = StatusCompleted
			break
		}
	}
	for i := range p.steps {
		if p.steps[i].Status == StatusPending {
			p.steps[i].Status = StatusActive
			return true
		}
	}
	return false
}

// Fail marks the active step as errored. Completed steps are untouched
// and no further step activates.
func (p *Pipeline) Fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.steps {
		if p.steps[i].Status == StatusActive {
			p.steps[i].Status = StatusError
			return
		}
	}
}

// Done reports whether every step has completed.
func (p *Pipeline) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.steps {
		if s.Status != StatusCompleted {
			return false
		}
	}
	return true
}
