package timeline

import (
	"testing"
	"time"
)

func countStatus(steps []Step, st Status) int {
	n := 0
	for _, s := range steps {
		if s.Status == st {
			n++
		}
	}
	return n
}

func TestPipelineStartsAllPending(t *testing.T) {
	p := NewPipeline(DefaultSteps())
	steps := p.Steps()
	if len(steps) != 5 {
		t.Fatalf("got %d steps, want 5", len(steps))
	}
	if countStatus(steps, StatusPending) != 5 {
		t.Errorf("not all steps pending: %+v", steps)
	}
}

func TestPipelineAtMostOneActive(t *testing.T) {
	p := NewPipeline(DefaultSteps())

	for p.Advance() {
		if n := countStatus(p.Steps(), StatusActive); n > 1 {
			t.Fatalf("found %d active steps, want at most 1", n)
		}
	}
	if !p.Done() {
		t.Error("pipeline not done after advancing through all steps")
	}
}

func TestPipelineNoRegression(t *testing.T) {
	p := NewPipeline(DefaultSteps())
	p.Advance()
	p.Advance()

	steps := p.Steps()
	if steps[0].Status != StatusCompleted {
		t.Fatalf("first step = %s, want completed", steps[0].Status)
	}

	// Further advances must never move a completed step backwards.
	p.Advance()
	p.Advance()
	steps = p.Steps()
	if steps[0].Status != StatusCompleted || steps[1].Status != StatusCompleted {
		t.Errorf("completed steps regressed: %+v", steps)
	}
}

func TestPipelineFail(t *testing.T) {
	p := NewPipeline(DefaultSteps())
	p.Advance()
	p.Advance()
	p.Fail()

	steps := p.Steps()
	if steps[0].Status != StatusCompleted {
		t.Errorf("completed step touched by Fail: %+v", steps[0])
	}
	if steps[1].Status != StatusError {
		t.Errorf("active step = %s, want error", steps[1].Status)
	}
	if countStatus(steps, StatusActive) != 0 {
		t.Error("a step is still active after Fail")
	}
	if p.Done() {
		t.Error("errored pipeline reports done")
	}
}

func TestPipelineAdvanceExhausts(t *testing.T) {
	p := NewPipeline([]StepSpec{
		{ID: "a", Label: "A", Delay: time.Millisecond},
		{ID: "b", Label: "B", Delay: time.Millisecond},
	})
	if !p.Advance() {
		t.Fatal("first Advance = false")
	}
	if !p.Advance() {
		t.Fatal("second Advance = false")
	}
	if p.Advance() {
		t.Error("Advance past the last step = true, want false")
	}
	if !p.Done() {
		t.Error("pipeline not done")
	}
}
