package store

// UpsertAction inserts or updates a reasoning-trace step (idempotent on
// action_id).
func (db *DB) UpsertAction(a *Action) error {
	_, err := db.Exec(`
		INSERT INTO actions (action_id, deal_id, msg_id, summary, actor, detail, action_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			summary = excluded.summary,
			actor = excluded.actor,
			detail = excluded.detail,
			action_type = excluded.action_type`,
		a.ActionID, a.DealID, a.MsgID, a.Summary, a.Actor, a.Detail, a.Type, a.CreatedAt)
	return err
}

// ListActions returns every action for a deal in creation order. Callers
// group them under their owning message.
func (db *DB) ListActions(dealID string) ([]Action, error) {
	rows, err := db.Query(`
		SELECT action_id, deal_id, msg_id, summary, actor, detail, action_type, created_at
		FROM actions
		WHERE deal_id = ?
		ORDER BY created_at ASC, action_id ASC`, dealID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ActionID, &a.DealID, &a.MsgID, &a.Summary, &a.Actor, &a.Detail, &a.Type, &a.CreatedAt); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
