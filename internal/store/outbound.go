package store

import "time"

// QueueOutbound records an optimistic send awaiting persistence.
func (db *DB) QueueOutbound(clientMsgID, dealID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbound (client_msg_id, deal_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, dealID, body, now, now)
	return err
}

// MarkOutboundSending updates an entry to 'sending' status.
func (db *DB) MarkOutboundSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbound SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboundConfirmed records the canonical server id for a sent entry.
func (db *DB) MarkOutboundConfirmed(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbound SET status = 'confirmed', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboundFailed updates an entry to 'failed' with an error message.
func (db *DB) MarkOutboundFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbound SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// PendingOutbound returns entries that are still queued, oldest first.
func (db *DB) PendingOutbound() ([]OutboundEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, deal_id, body, status, error_message, server_msg_id
		FROM outbound WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboundEntry
	for rows.Next() {
		var e OutboundEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.DealID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasPendingSend reports whether an in-flight optimistic send matches the
// given deal and body. Used by ingestion to merge a poll-returned copy of
// a user message with its still-unconfirmed local row instead of
// rendering a duplicate.
func (db *DB) HasPendingSend(dealID, body string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM outbound
		WHERE deal_id = ? AND body = ? AND status IN ('queued', 'sending')`,
		dealID, body).Scan(&n)
	return n > 0, err
}
