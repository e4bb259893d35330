package poller

import (
	"context"
	"sync"
	"time"

	"github.com/kyodoai/dealdesk/internal/platform"
	"go.uber.org/zap"
)

// ConversationFetcher is the slice of the platform client the poller
// needs.
type ConversationFetcher interface {
	ListMessagesWithActions(ctx context.Context, dealID string) ([]platform.MessageWithActions, error)
}

// Ingester applies a fetched transcript to the local cache.
type Ingester interface {
	IngestConversation(dealID string, conv []platform.MessageWithActions) error
}

// Poller refetches one deal's conversation on a fixed period. At most
// one subscription is live: starting a new watch cancels the previous
// one, and a fetch that completes after its subscription was replaced is
// discarded rather than applied.
type Poller struct {
	client   ConversationFetcher
	engine   Ingester
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	current *Subscription
	gen     uint64
}

// Subscription is one live watch on a deal's conversation.
type Subscription struct {
	DealID string

	p      *Poller
	gen    uint64
	cancel context.CancelFunc

	// freshness snapshot from the last applied fetch
	lastCount      int
	lastActionTail int
	fetchedOnce    bool
}

func New(client ConversationFetcher, engine Ingester, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		client:   client,
		engine:   engine,
		logger:   logger,
		interval: interval,
	}
}

// Watch starts polling the deal's conversation: one immediate fetch,
// then one per interval. Any previous subscription is cancelled first.
func (p *Poller) Watch(ctx context.Context, dealID string) *Subscription {
	p.mu.Lock()
	if p.current != nil {
		p.current.cancel()
	}
	p.gen++
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{DealID: dealID, p: p, gen: p.gen, cancel: cancel}
	p.current = sub
	p.mu.Unlock()

	go sub.loop(ctx)
	return sub
}

// Stop cancels the live subscription, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.cancel()
		p.current = nil
	}
}

// Cancel stops this subscription's timer. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
	s.p.mu.Lock()
	if s.p.current == s {
		s.p.current = nil
	}
	s.p.mu.Unlock()
}

func (s *Subscription) loop(ctx context.Context) {
	s.fetch(ctx)

	ticker := time.NewTicker(s.p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fetch(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// fetch pulls the conversation once and applies it if this subscription
// is still the current one and the snapshot looks different from the
// last applied one.
func (s *Subscription) fetch(ctx context.Context) {
	conv, err := s.p.client.ListMessagesWithActions(ctx, s.DealID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.p.logger.Warn("conversation fetch failed",
			zap.String("deal_id", s.DealID), zap.Error(err))
		return
	}

	// The watched deal may have changed while the request was in flight.
	if !s.live() || ctx.Err() != nil {
		s.p.logger.Debug("discarding stale fetch", zap.String("deal_id", s.DealID))
		return
	}

	count := len(conv)
	actionTail := 0
	if count > 0 {
		actionTail = len(conv[count-1].Actions)
	}
	if s.fetchedOnce && count == s.lastCount && actionTail == s.lastActionTail {
		return
	}
	s.fetchedOnce = true
	s.lastCount = count
	s.lastActionTail = actionTail

	if err := s.p.engine.IngestConversation(s.DealID, conv); err != nil {
		s.p.logger.Error("conversation ingest failed",
			zap.String("deal_id", s.DealID), zap.Error(err))
	}
}

func (s *Subscription) live() bool {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return s.p.current == s && s.p.gen == s.gen
}
