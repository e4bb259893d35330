package store

import "encoding/json"

// UpsertMessage inserts or updates a message (idempotent on deal_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (deal_id, msg_id, author, body, suggested_actions, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deal_id, msg_id) DO UPDATE SET
			body = excluded.body,
			suggested_actions = excluded.suggested_actions,
			state = excluded.state`,
		m.DealID, m.MsgID, m.Author, m.Body, encodeSuggested(m.SuggestedActions), m.State, m.CreatedAt)
	return err
}

// ListMessages returns the full transcript for a deal in display order:
// creation time ascending, insertion sequence breaking ties.
func (db *DB) ListMessages(dealID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, deal_id, msg_id, author, body, suggested_actions, state, created_at
		FROM messages
		WHERE deal_id = ?
		ORDER BY created_at ASC, id ASC`, dealID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var suggested string
		if err := rows.Scan(&m.ID, &m.DealID, &m.MsgID, &m.Author, &m.Body, &suggested, &m.State, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SuggestedActions = decodeSuggested(suggested)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ConfirmMessage rewrites a pending-local row with the canonical server
// identifier and creation time once the hosted store acknowledges it.
// Subsequent polls upsert on the server id and land on the same row.
func (db *DB) ConfirmMessage(dealID, clientMsgID, serverMsgID string, createdAt int64) error {
	_, err := db.Exec(`
		UPDATE messages SET msg_id = ?, state = ?, created_at = ?
		WHERE deal_id = ? AND msg_id = ?`,
		serverMsgID, StateConfirmed, createdAt, dealID, clientMsgID)
	return err
}

// MarkMessageFailed flags a pending-local row whose persist attempt failed.
func (db *DB) MarkMessageFailed(dealID, clientMsgID string) error {
	_, err := db.Exec(`
		UPDATE messages SET state = ? WHERE deal_id = ? AND msg_id = ?`,
		StateFailed, dealID, clientMsgID)
	return err
}

func encodeSuggested(s []SuggestedAction) string {
	if len(s) == 0 {
		return "[]"
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeSuggested(s string) []SuggestedAction {
	var out []SuggestedAction
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
