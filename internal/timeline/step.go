package timeline

import "time"

// Status of a single pipeline step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Step is one stage of the agent's visible progress pipeline.
type Step struct {
	ID     string
	Label  string
	Status Status
}

// StepSpec pairs a step definition with how long the scripted runner
// holds it active before advancing.
type StepSpec struct {
	ID    string
	Label string
	Delay time.Duration
}

// DefaultSteps is the scripted progress sequence shown while the agent
// works on a reply.
func DefaultSteps() []StepSpec {
	return []StepSpec{
		{ID: "queued", Label: "Request queued", Delay: 300 * time.Millisecond},
		{ID: "analyzing", Label: "Analyzing your request", Delay: 800 * time.Millisecond},
		{ID: "context", Label: "Retrieving deal context", Delay: 1000 * time.Millisecond},
		{ID: "generating", Label: "Generating response", Delay: 1200 * time.Millisecond},
		{ID: "streaming", Label: "Streaming reply", Delay: 800 * time.Millisecond},
	}
}
