package store

// SearchMessages performs a full-text search on message bodies within
// one account, optionally restricted to a single chat.
func (db *DB) SearchMessages(account, query, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.msg_id, m.account, m.chat_id, m.body, m.kind, m.from_me,
		       m.author, m.author_id, m.timestamp, m.status, m.is_deleted,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ? AND m.account = ?`

	args := []any{query, account}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.MsgID, &r.Message.Account, &r.Message.ChatID,
			&r.Message.Body, &r.Message.Kind, &r.Message.FromMe,
			&r.Message.Author, &r.Message.AuthorID, &r.Message.Timestamp,
			&r.Message.Status, &r.Message.IsDeleted, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// UnreadInboundMessageIDs returns the remote ids of inbound messages that
// arrived after the chat was last read, newest last. Used to acknowledge
// them on the remote side when a chat is marked read.
func (db *DB) UnreadInboundMessageIDs(account, chatID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT msg_id FROM messages
		WHERE account = ? AND chat_id = ? AND from_me = 0
		ORDER BY timestamp DESC LIMIT ?`, account, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	// Reverse to ascending order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, rows.Err()
}
