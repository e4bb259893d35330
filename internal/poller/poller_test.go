package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kyodoai/dealdesk/internal/platform"
	"go.uber.org/zap"
)

// fakeFetcher serves canned conversations per deal and counts fetches.
type fakeFetcher struct {
	mu     sync.Mutex
	convs  map[string][]platform.MessageWithActions
	counts map[string]int
	block  chan struct{} // when set, fetches wait on it
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		convs:  make(map[string][]platform.MessageWithActions),
		counts: make(map[string]int),
	}
}

func (f *fakeFetcher) ListMessagesWithActions(ctx context.Context, dealID string) ([]platform.MessageWithActions, error) {
	f.mu.Lock()
	f.counts[dealID]++
	block := f.block
	conv := f.convs[dealID]
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return conv, nil
}

func (f *fakeFetcher) fetchCount(dealID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[dealID]
}

// recordingIngester remembers which deals were applied.
type recordingIngester struct {
	mu      sync.Mutex
	applied []string
}

func (r *recordingIngester) IngestConversation(dealID string, conv []platform.MessageWithActions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, dealID)
	return nil
}

func (r *recordingIngester) appliedDeals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.applied))
	copy(out, r.applied)
	return out
}

func msg(id, body string) platform.MessageWithActions {
	return platform.MessageWithActions{
		Message: platform.Message{ID: id, Author: platform.AuthorAI, Body: body, CreatedAt: time.Now()},
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWatchFetchesImmediately(t *testing.T) {
	f := newFakeFetcher()
	f.convs["d1"] = []platform.MessageWithActions{msg("m1", "hi")}
	ing := &recordingIngester{}
	p := New(f, ing, time.Hour, zap.NewNop())
	defer p.Stop()

	p.Watch(context.Background(), "d1")

	waitFor(t, func() bool { return len(ing.appliedDeals()) == 1 }, "initial fetch")
	if f.fetchCount("d1") != 1 {
		t.Errorf("fetch count = %d, want 1", f.fetchCount("d1"))
	}
}

func TestWatchPollsOnInterval(t *testing.T) {
	f := newFakeFetcher()
	f.convs["d1"] = []platform.MessageWithActions{msg("m1", "hi")}
	ing := &recordingIngester{}
	p := New(f, ing, 20*time.Millisecond, zap.NewNop())
	defer p.Stop()

	p.Watch(context.Background(), "d1")

	waitFor(t, func() bool { return f.fetchCount("d1") >= 3 }, "repeated fetches")
}

func TestUnchangedSnapshotNotReapplied(t *testing.T) {
	f := newFakeFetcher()
	f.convs["d1"] = []platform.MessageWithActions{msg("m1", "hi")}
	ing := &recordingIngester{}
	p := New(f, ing, 15*time.Millisecond, zap.NewNop())
	defer p.Stop()

	p.Watch(context.Background(), "d1")

	waitFor(t, func() bool { return f.fetchCount("d1") >= 4 }, "repeated fetches")
	if n := len(ing.appliedDeals()); n != 1 {
		t.Errorf("unchanged snapshot applied %d times, want 1", n)
	}

	// Growing the conversation triggers a new apply.
	f.mu.Lock()
	f.convs["d1"] = append(f.convs["d1"], msg("m2", "reply"))
	f.mu.Unlock()

	waitFor(t, func() bool { return len(ing.appliedDeals()) == 2 }, "apply after growth")
}

func TestNewWatchCancelsPrevious(t *testing.T) {
	f := newFakeFetcher()
	f.convs["d1"] = []platform.MessageWithActions{msg("m1", "hi")}
	f.convs["d2"] = []platform.MessageWithActions{msg("m2", "yo")}
	ing := &recordingIngester{}
	p := New(f, ing, 10*time.Millisecond, zap.NewNop())
	defer p.Stop()

	p.Watch(context.Background(), "d1")
	waitFor(t, func() bool { return f.fetchCount("d1") >= 1 }, "d1 fetch")

	p.Watch(context.Background(), "d2")
	waitFor(t, func() bool { return f.fetchCount("d2") >= 2 }, "d2 fetches")

	before := f.fetchCount("d1")
	time.Sleep(50 * time.Millisecond)
	if after := f.fetchCount("d1"); after != before {
		t.Errorf("d1 still being fetched after rewatch (%d -> %d)", before, after)
	}
}

func TestStaleFetchDiscarded(t *testing.T) {
	f := newFakeFetcher()
	f.convs["d1"] = []platform.MessageWithActions{msg("m1", "hi")}
	f.convs["d2"] = []platform.MessageWithActions{msg("m2", "yo")}
	ing := &recordingIngester{}
	p := New(f, ing, time.Hour, zap.NewNop())
	defer p.Stop()

	// Hold the d1 fetch in flight while the watch moves to d2.
	block := make(chan struct{})
	f.mu.Lock()
	f.block = block
	f.mu.Unlock()

	p.Watch(context.Background(), "d1")
	waitFor(t, func() bool { return f.fetchCount("d1") == 1 }, "d1 fetch started")

	f.mu.Lock()
	f.block = nil
	f.mu.Unlock()
	p.Watch(context.Background(), "d2")
	close(block)

	waitFor(t, func() bool { return len(ing.appliedDeals()) >= 1 }, "d2 applied")
	time.Sleep(50 * time.Millisecond)

	for _, d := range ing.appliedDeals() {
		if d == "d1" {
			t.Error("stale d1 fetch was applied after rewatch")
		}
	}
}

func TestSubscriptionCancel(t *testing.T) {
	f := newFakeFetcher()
	f.convs["d1"] = []platform.MessageWithActions{msg("m1", "hi")}
	ing := &recordingIngester{}
	p := New(f, ing, 10*time.Millisecond, zap.NewNop())

	sub := p.Watch(context.Background(), "d1")
	waitFor(t, func() bool { return f.fetchCount("d1") >= 1 }, "first fetch")

	sub.Cancel()
	sub.Cancel() // idempotent

	before := f.fetchCount("d1")
	time.Sleep(50 * time.Millisecond)
	if after := f.fetchCount("d1"); after != before {
		t.Errorf("fetches continued after cancel (%d -> %d)", before, after)
	}
}
