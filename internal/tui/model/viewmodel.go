package model

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kyodoai/dealdesk/internal/bus"
	"github.com/kyodoai/dealdesk/internal/platform"
	"github.com/kyodoai/dealdesk/internal/poller"
	"github.com/kyodoai/dealdesk/internal/store"
	"github.com/kyodoai/dealdesk/internal/timeline"
)

// PlatformOps is the slice of the platform client the view model uses.
type PlatformOps interface {
	ListActiveDeals(ctx context.Context, userID string) ([]platform.Deal, error)
	ToggleAIActivation(ctx context.Context, dealID string, newState bool) error
	SearchEmails(ctx context.Context) (*platform.ScanResult, error)
}

// DealIngester writes platform deal listings through to the cache.
type DealIngester interface {
	IngestDeals(deals []platform.Deal) error
}

// Watcher re-scopes conversation polling to one deal at a time.
type Watcher interface {
	Watch(ctx context.Context, dealID string) *poller.Subscription
	Stop()
}

// ProgressRunner drives the scripted reply pipeline per deal.
type ProgressRunner interface {
	Start(ctx context.Context, dealID string)
	Cancel(dealID string)
}

// Transcript is one immutable snapshot of the active conversation, built
// under the view model lock so the placeholder and the final AI reply
// are never visible together.
type Transcript struct {
	Deal     *store.Deal
	Messages []store.Message
	Actions  map[string][]store.Action // keyed by msg_id

	// ShowTimeline is true while a reply is awaited; Steps is the
	// progress pipeline to render in place of the reply.
	ShowTimeline bool
	Steps        []timeline.Step
}

// ViewModel caches deal and conversation state for the UI and owns the
// optimistic-update bookkeeping.
type ViewModel struct {
	mu sync.RWMutex

	db     *store.DB
	client PlatformOps
	engine DealIngester
	poll   Watcher
	runner ProgressRunner
	bus    *bus.Bus

	UserID       string
	Deals        []store.Deal
	ActiveDealID string
	Flash        Flash

	messages []store.Message
	actions  map[string][]store.Action

	// awaiting maps deal id to the send timestamp we expect an AI reply
	// after; while set, the transcript shows the timeline placeholder.
	awaiting map[string]int64
	steps    map[string][]timeline.Step

	refreshCh chan struct{}
}

func NewViewModel(db *store.DB, client PlatformOps, engine DealIngester, poll Watcher, runner ProgressRunner, b *bus.Bus) *ViewModel {
	return &ViewModel{
		db:        db,
		client:    client,
		engine:    engine,
		poll:      poll,
		runner:    runner,
		bus:       b,
		actions:   make(map[string][]store.Action),
		awaiting:  make(map[string]int64),
		steps:     make(map[string][]timeline.Step),
		refreshCh: make(chan struct{}, 1),
	}
}

// SetUserID scopes store queries to the signed-in user. Called whenever
// a sign-in completes, not just at construction.
func (vm *ViewModel) SetUserID(id string) {
	vm.mu.Lock()
	vm.UserID = id
	vm.mu.Unlock()
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadDeals reads the cached deal list.
func (vm *ViewModel) LoadDeals() error {
	deals, err := vm.db.ListDeals(100)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.Deals = deals
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// RefreshDeals pulls the activated deal list from the hosted store and
// reloads the cache. When the store is unreachable the cached list keeps
// rendering and a warning flash is shown.
func (vm *ViewModel) RefreshDeals(ctx context.Context) error {
	vm.mu.RLock()
	userID := vm.UserID
	vm.mu.RUnlock()

	deals, err := vm.client.ListActiveDeals(ctx, userID)
	if err != nil {
		if errors.Is(err, platform.ErrStoreUnavailable) {
			vm.Flash.Set("Store unreachable, showing cached deals", LevelWarn, 5*time.Second)
			vm.signalRefresh()
			return nil
		}
		return err
	}
	if err := vm.engine.IngestDeals(deals); err != nil {
		return err
	}
	return vm.LoadDeals()
}

// SelectDeal makes the deal the active conversation and re-scopes the
// poller to it. The composer draft is untouched by design of the caller.
func (vm *ViewModel) SelectDeal(ctx context.Context, dealID string) error {
	vm.mu.Lock()
	vm.ActiveDealID = dealID
	vm.mu.Unlock()

	if err := vm.LoadTranscript(); err != nil {
		return err
	}
	vm.poll.Watch(ctx, dealID)
	return nil
}

// LoadTranscript reloads the active conversation from the cache. It also
// resolves a pending placeholder: once an AI reply newer than the send
// is present, the placeholder is dropped in the same snapshot.
func (vm *ViewModel) LoadTranscript() error {
	vm.mu.RLock()
	dealID := vm.ActiveDealID
	vm.mu.RUnlock()
	if dealID == "" {
		return nil
	}

	msgs, err := vm.db.ListMessages(dealID)
	if err != nil {
		return err
	}
	acts, err := vm.db.ListActions(dealID)
	if err != nil {
		return err
	}
	byMsg := make(map[string][]store.Action)
	for _, a := range acts {
		byMsg[a.MsgID] = append(byMsg[a.MsgID], a)
	}

	vm.mu.Lock()
	vm.messages = msgs
	vm.actions = byMsg
	if since, ok := vm.awaiting[dealID]; ok {
		for _, m := range msgs {
			if m.Author == platform.AuthorAI && m.CreatedAt >= since {
				delete(vm.awaiting, dealID)
				delete(vm.steps, dealID)
				vm.runner.Cancel(dealID)
				break
			}
		}
	}
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// GetDeals returns a snapshot of the cached deal list.
func (vm *ViewModel) GetDeals() []store.Deal {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]store.Deal, len(vm.Deals))
	copy(out, vm.Deals)
	return out
}

// Transcript returns a snapshot of the active conversation.
func (vm *ViewModel) Transcript() Transcript {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	t := Transcript{
		Messages: vm.messages,
		Actions:  vm.actions,
	}
	for i := range vm.Deals {
		if vm.Deals[i].ID == vm.ActiveDealID {
			d := vm.Deals[i]
			t.Deal = &d
			break
		}
	}
	if _, ok := vm.awaiting[vm.ActiveDealID]; ok {
		t.ShowTimeline = true
		t.Steps = vm.steps[vm.ActiveDealID]
	}
	return t
}

// SendMessage appends the text as an optimistic user message, queues it
// for delivery and starts the reply pipeline. Whitespace-only input is a
// no-op; returns true when a send was actually queued so the caller
// knows to clear the composer.
func (vm *ViewModel) SendMessage(ctx context.Context, text string) (bool, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return false, nil
	}

	vm.mu.RLock()
	dealID := vm.ActiveDealID
	vm.mu.RUnlock()
	if dealID == "" {
		return false, nil
	}

	now := time.Now().UnixMilli()
	clientMsgID := uuid.New().String()
	if err := vm.db.UpsertMessage(&store.Message{
		DealID:    dealID,
		MsgID:     clientMsgID,
		Author:    platform.AuthorUser,
		Body:      body,
		State:     store.StatePendingLocal,
		CreatedAt: now,
	}); err != nil {
		return false, err
	}
	if err := vm.db.QueueOutbound(clientMsgID, dealID, body); err != nil {
		return false, err
	}

	vm.mu.Lock()
	vm.awaiting[dealID] = now
	vm.steps[dealID] = nil
	vm.mu.Unlock()

	vm.runner.Start(ctx, dealID)
	return true, vm.LoadTranscript()
}

// SendSuggested sends a suggested action as a regular user message with
// the action's description as the body.
func (vm *ViewModel) SendSuggested(ctx context.Context, sa store.SuggestedAction) (bool, error) {
	return vm.SendMessage(ctx, sa.Description)
}

// ToggleAI flips the active deal's agent activation optimistically and
// reconciles with the platform. A kickoff failure keeps the flag and
// warns; a store failure reverts the flip.
func (vm *ViewModel) ToggleAI(ctx context.Context) error {
	vm.mu.RLock()
	dealID := vm.ActiveDealID
	vm.mu.RUnlock()
	if dealID == "" {
		return nil
	}
	deal, err := vm.db.GetDeal(dealID)
	if err != nil {
		return err
	}
	if deal == nil {
		return nil
	}

	target := !deal.AIActivated
	if err := vm.db.SetAIActivated(dealID, target); err != nil {
		return err
	}
	_ = vm.LoadDeals()

	if err := vm.client.ToggleAIActivation(ctx, dealID, target); err != nil {
		if errors.Is(err, platform.ErrProcessKickoff) {
			// Activation itself persisted; only the agent kickoff failed.
			vm.publishActivation(dealID, target)
			vm.Flash.Set("Agent activated, but kickoff failed", LevelWarn, 5*time.Second)
			vm.signalRefresh()
			return nil
		}
		if revertErr := vm.db.SetAIActivated(dealID, !target); revertErr == nil {
			_ = vm.LoadDeals()
		}
		vm.Flash.Set("Activation failed: "+err.Error(), LevelError, 5*time.Second)
		vm.signalRefresh()
		return err
	}

	vm.publishActivation(dealID, target)
	if target {
		vm.Flash.Set("Agent activated", LevelInfo, 3*time.Second)
	} else {
		vm.Flash.Set("Agent deactivated", LevelInfo, 3*time.Second)
	}
	vm.signalRefresh()
	return nil
}

func (vm *ViewModel) publishActivation(dealID string, activated bool) {
	vm.bus.Publish(bus.Event{
		Kind:      bus.KindDealActivated,
		Timestamp: time.Now(),
		Payload:   map[string]string{"deal_id": dealID, "activated": strconv.FormatBool(activated)},
	})
}

// ScanDeals asks the agent backend to rescan the mailbox, then refreshes
// the deal list.
func (vm *ViewModel) ScanDeals(ctx context.Context) error {
	result, err := vm.client.SearchEmails(ctx)
	if err != nil {
		vm.Flash.Set("Scan failed: "+err.Error(), LevelError, 5*time.Second)
		vm.signalRefresh()
		return err
	}
	if err := vm.db.SetCheckpoint(store.CheckpointLastScan, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		return err
	}
	vm.Flash.Set(scanSummaryLine(result), LevelInfo, 5*time.Second)
	return vm.RefreshDeals(ctx)
}

// ConfirmSend re-anchors a pending reply placeholder to the server's
// timestamp for the delivered message, so the swap check in LoadTranscript
// compares store clock against store clock instead of against the local
// clock captured at send time.
func (vm *ViewModel) ConfirmSend(dealID string, sentAt int64) {
	if sentAt <= 0 {
		return
	}
	vm.mu.Lock()
	if _, ok := vm.awaiting[dealID]; ok {
		vm.awaiting[dealID] = sentAt
	}
	vm.mu.Unlock()
}

// FailSend resolves the reply placeholder for a deal whose outbound send
// failed: no reply is coming, so the pipeline stops and the failure is
// surfaced. The message row keeps its failed marker in the transcript.
func (vm *ViewModel) FailSend(dealID string) {
	vm.mu.Lock()
	_, waiting := vm.awaiting[dealID]
	if waiting {
		delete(vm.awaiting, dealID)
		delete(vm.steps, dealID)
	}
	vm.mu.Unlock()
	if !waiting {
		return
	}

	vm.runner.Cancel(dealID)
	vm.Flash.Set("Message not delivered", LevelError, 5*time.Second)
	vm.signalRefresh()
}

// ApplyTimeline records a progress update from the runner for its deal.
func (vm *ViewModel) ApplyTimeline(u timeline.Update) {
	vm.mu.Lock()
	if _, ok := vm.awaiting[u.DealID]; ok {
		vm.steps[u.DealID] = u.Steps
	}
	vm.mu.Unlock()
	vm.signalRefresh()
}

func scanSummaryLine(r *platform.ScanResult) string {
	if r == nil {
		return "Scan complete"
	}
	return fmt.Sprintf("Scan complete: %d deals found", r.Summary.TotalFound)
}
