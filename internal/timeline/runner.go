package timeline

import (
	"context"
	"sync"
	"time"

	"github.com/kyodoai/dealdesk/internal/bus"
	"go.uber.org/zap"
)

// Runner drives one scripted pipeline per deal. Each step is held active
// for its configured delay before the next one starts; progress is
// published on the bus so any view can render it. Starting a new run for
// a deal cancels the previous one.
type Runner struct {
	bus    *bus.Bus
	logger *zap.Logger
	specs  []StepSpec

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// Update is the bus payload for a timeline progress event.
type Update struct {
	DealID string
	Steps  []Step
	Done   bool
}

func NewRunner(b *bus.Bus, logger *zap.Logger) *Runner {
	return &Runner{
		bus:    b,
		logger: logger,
		specs:  DefaultSteps(),
		runs:   make(map[string]context.CancelFunc),
	}
}

// SetSteps overrides the scripted sequence. Intended for tests that need
// short delays.
func (r *Runner) SetSteps(specs []StepSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = specs
}

// Start begins a scripted run for the deal, cancelling any previous run
// for the same deal.
func (r *Runner) Start(ctx context.Context, dealID string) {
	r.mu.Lock()
	if cancel, ok := r.runs[dealID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.runs[dealID] = cancel
	specs := r.specs
	r.mu.Unlock()

	go r.run(ctx, dealID, specs)
}

// Cancel stops the run for a deal, if one is in flight.
func (r *Runner) Cancel(dealID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.runs[dealID]; ok {
		cancel()
		delete(r.runs, dealID)
	}
}

// Running reports whether the deal has a run in flight.
func (r *Runner) Running(dealID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[dealID]
	return ok
}

func (r *Runner) run(ctx context.Context, dealID string, specs []StepSpec) {
	p := NewPipeline(specs)

	for i := range specs {
		p.Advance()
		r.publish(dealID, p.Steps(), false)

		select {
		case <-time.After(specs[i].Delay):
		case <-ctx.Done():
			r.logger.Debug("timeline run cancelled", zap.String("deal_id", dealID))
			return
		}
	}

	p.Advance() // completes the final step
	r.publish(dealID, p.Steps(), true)

	r.mu.Lock()
	delete(r.runs, dealID)
	r.mu.Unlock()

	r.logger.Debug("timeline run finished", zap.String("deal_id", dealID))
}

func (r *Runner) publish(dealID string, steps []Step, done bool) {
	kind := bus.KindTimelineStep
	if done {
		kind = bus.KindTimelineDone
	}
	r.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   Update{DealID: dealID, Steps: steps, Done: done},
	})
}
