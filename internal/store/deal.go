package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertDeal inserts or updates a deal record (idempotent on deal_id).
// Sidebar bookkeeping columns keep their cached value unless the incoming
// row carries a newer one.
func (db *DB) UpsertDeal(d *Deal) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO deals (deal_id, from_name, from_email, subject, summary, company, budget, status,
			received_at, labels, tags, relevance_score, ai_activated, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			last_message_at = MAX(deals.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at > deals.last_message_at
				THEN excluded.last_message_preview ELSE deals.last_message_preview END,
			updated_at = excluded.updated_at`,
		d.ID, d.FromName, d.FromEmail, d.Subject, d.Summary, d.Company, d.Budget, d.Status,
		d.ReceivedAt, EncodeStrings(d.Labels), EncodeStrings(d.Tags), d.RelevanceScore,
		d.AIActivated, d.LastMessageAt, d.LastMessagePreview, now)
	return err
}

// ListDeals returns cached deals sorted by received timestamp descending.
func (db *DB) ListDeals(limit int) ([]Deal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT deal_id, from_name, from_email, subject, summary, company, budget, status,
			received_at, labels, tags, relevance_score, ai_activated, last_message_at, last_message_preview
		FROM deals
		ORDER BY received_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var deals []Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// GetDeal returns a single cached deal, or nil when absent.
func (db *DB) GetDeal(dealID string) (*Deal, error) {
	row := db.QueryRow(`
		SELECT deal_id, from_name, from_email, subject, summary, company, budget, status,
			received_at, labels, tags, relevance_score, ai_activated, last_message_at, last_message_preview
		FROM deals WHERE deal_id = ?`, dealID)
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// SetAIActivated flips only the activation flag, used for optimistic
// toggles and their reverts.
func (db *DB) SetAIActivated(dealID string, on bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE deals SET ai_activated = ?, updated_at = ? WHERE deal_id = ?`, on, now, dealID)
	return err
}

// TouchDealPreview advances the sidebar preview columns if the given
// timestamp is newer than what is cached.
func (db *DB) TouchDealPreview(dealID string, lastMessageAt int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE deals SET
			last_message_preview = CASE WHEN ? > last_message_at THEN ? ELSE last_message_preview END,
			last_message_at = MAX(last_message_at, ?),
			updated_at = ?
		WHERE deal_id = ?`,
		lastMessageAt, truncate(preview, 100), lastMessageAt, now, dealID)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(r rowScanner) (Deal, error) {
	var d Deal
	var labels, tags string
	err := r.Scan(&d.ID, &d.FromName, &d.FromEmail, &d.Subject, &d.Summary, &d.Company, &d.Budget,
		&d.Status, &d.ReceivedAt, &labels, &tags, &d.RelevanceScore, &d.AIActivated,
		&d.LastMessageAt, &d.LastMessagePreview)
	if err != nil {
		return Deal{}, err
	}
	d.Labels = DecodeStrings(labels)
	d.Tags = DecodeStrings(tags)
	return d, nil
}

// EncodeStrings serializes a string slice for a TEXT column. Nil and
// empty both encode as "[]".
func EncodeStrings(s []string) string {
	if len(s) == 0 {
		return "[]"
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeStrings is the inverse of EncodeStrings; bad data decodes as nil.
func DecodeStrings(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
