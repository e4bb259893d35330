package ingest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kyodoai/dealdesk/internal/bus"
	"github.com/kyodoai/dealdesk/internal/platform"
	"github.com/kyodoai/dealdesk/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of hosted-store rows into the local
// cache. The poller and scanner hand it raw platform payloads; it writes
// them through the store and announces changes on the bus.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// IngestDeals writes a full deal listing in one transaction and publishes
// one deal.upserted event per row.
func (e *Engine) IngestDeals(deals []platform.Deal) error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, d := range deals {
		if _, err := tx.Exec(`
			INSERT INTO deals (deal_id, from_name, from_email, subject, summary, company, budget, status,
				received_at, labels, tags, relevance_score, ai_activated, last_message_at, last_message_preview, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)
			ON CONFLICT(deal_id) DO UPDATE SET
				from_name = excluded.from_name,
				from_email = excluded.from_email,
				subject = excluded.subject,
				summary = excluded.summary,
				company = excluded.company,
				budget = excluded.budget,
				status = excluded.status,
				received_at = excluded.received_at,
				labels = excluded.labels,
				tags = excluded.tags,
				relevance_score = excluded.relevance_score,
				ai_activated = excluded.ai_activated,
				updated_at = excluded.updated_at`,
			d.ID, d.FromName, d.FromEmail, d.Subject, d.Summary, d.Company, d.Budget, d.Status,
			d.ReceivedAt.UnixMilli(), store.EncodeStrings(d.Labels), store.EncodeStrings(d.Tags),
			d.RelevanceScore, d.AIActivated, now); err != nil {
			return fmt.Errorf("upsert deal %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deals: %w", err)
	}

	for _, d := range deals {
		e.bus.Publish(bus.Event{
			Kind:      bus.KindDealUpserted,
			Timestamp: time.Now(),
			Payload:   map[string]string{"deal_id": d.ID},
		})
	}
	e.logger.Debug("deals ingested", zap.Int("count", len(deals)))
	return nil
}

// IngestConversation merges one deal's polled transcript into the cache.
// Server copies of messages we sent ourselves and have not yet confirmed
// are skipped so the pending local row is not duplicated; everything else
// is upserted idempotently.
func (e *Engine) IngestConversation(dealID string, conv []platform.MessageWithActions) error {
	var lastAt int64
	var lastPreview string

	for _, mwa := range conv {
		m := mwa.Message

		if m.Author == platform.AuthorUser {
			pending, err := e.db.HasPendingSend(dealID, m.Body)
			if err != nil {
				return fmt.Errorf("check pending send: %w", err)
			}
			if pending {
				// Our own optimistic send, still in flight. The sender
				// confirms and rewrites the local row itself.
				continue
			}
		}

		sm := &store.Message{
			DealID:           dealID,
			MsgID:            m.ID,
			Author:           m.Author,
			Body:             m.Body,
			SuggestedActions: convertSuggested(m.SuggestedActions),
			State:            store.StateConfirmed,
			CreatedAt:        m.CreatedAt.UnixMilli(),
		}
		if err := e.db.UpsertMessage(sm); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}

		for _, a := range mwa.Actions {
			if err := e.db.UpsertAction(&store.Action{
				ActionID:  a.ID,
				DealID:    dealID,
				MsgID:     a.MessageID,
				Summary:   a.Summary,
				Actor:     a.Actor,
				Detail:    string(a.Detail),
				Type:      a.Type,
				CreatedAt: a.CreatedAt.UnixMilli(),
			}); err != nil {
				return fmt.Errorf("upsert action %s: %w", a.ID, err)
			}
		}

		if ts := m.CreatedAt.UnixMilli(); ts >= lastAt {
			lastAt = ts
			lastPreview = m.Body
		}
	}

	if lastAt > 0 {
		if err := e.db.TouchDealPreview(dealID, lastAt, lastPreview); err != nil {
			return fmt.Errorf("touch deal preview: %w", err)
		}
	}

	if err := e.db.SetCheckpoint(store.CheckpointLastPoll, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to record poll checkpoint", zap.Error(err))
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload:   map[string]string{"deal_id": dealID},
	})
	return nil
}

func convertSuggested(in []platform.SuggestedAction) []store.SuggestedAction {
	if len(in) == 0 {
		return nil
	}
	out := make([]store.SuggestedAction, len(in))
	for i, sa := range in {
		out[i] = store.SuggestedAction{Name: sa.Name, Description: sa.Description}
	}
	return out
}
