package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertMessageIfAbsent inserts a message keyed by its remote id.
// Redelivery of an already-stored id is a no-op; the bool reports whether
// a row was actually inserted.
func (db *DB) InsertMessageIfAbsent(m *Message) (bool, error) {
	now := time.Now().UnixMilli()
	media := m.Media
	if media == nil {
		media = &Media{}
	}
	loc := m.Location
	if loc == nil {
		loc = &Location{}
	}
	res, err := db.Exec(`
		INSERT OR IGNORE INTO messages (msg_id, account, chat_id, body, kind, from_me,
			author, author_id, timestamp, status, is_deleted, quoted_id, quoted_preview,
			media_url, media_mimetype, media_filename, media_size, media_duration,
			media_caption, media_thumbnail, location_lat, location_lng, location_address,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MsgID, m.Account, m.ChatID, m.Body, m.Kind, m.FromMe,
		m.Author, m.AuthorID, m.Timestamp, m.Status, m.IsDeleted, m.QuotedID, m.QuotedPreview,
		media.URL, media.MimeType, media.Filename, media.Size, media.Duration,
		media.Caption, media.Thumbnail, loc.Latitude, loc.Longitude, loc.Address,
		now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const messageColumns = `id, msg_id, account, chat_id, body, kind, from_me,
	author, author_id, timestamp, status, is_deleted, quoted_id, quoted_preview,
	media_url, media_mimetype, media_filename, media_size, media_duration,
	media_caption, media_thumbnail, location_lat, location_lng, location_address`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var media Media
	var loc Location
	err := row.Scan(&m.ID, &m.MsgID, &m.Account, &m.ChatID, &m.Body, &m.Kind, &m.FromMe,
		&m.Author, &m.AuthorID, &m.Timestamp, &m.Status, &m.IsDeleted, &m.QuotedID, &m.QuotedPreview,
		&media.URL, &media.MimeType, &media.Filename, &media.Size, &media.Duration,
		&media.Caption, &media.Thumbnail, &loc.Latitude, &loc.Longitude, &loc.Address)
	if err != nil {
		return nil, err
	}
	if media.URL != "" || media.MimeType != "" {
		m.Media = &media
	}
	if loc.Latitude != 0 || loc.Longitude != 0 || loc.Address != "" {
		m.Location = &loc
	}
	return &m, nil
}

// GetMessage returns a message by its remote id, or nil if unknown.
func (db *DB) GetMessage(msgID string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE msg_id = ?`, msgID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListMessages returns messages for a chat using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(account, chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, account, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// ListAllMessages returns every message of a chat in ascending timestamp
// order, for export.
func (db *DB) ListAllMessages(account, chatID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND chat_id = ?
		ORDER BY timestamp ASC`, account, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// AdvanceMessageStatus moves an outbound message's delivery status
// forward. Unknown ids and non-forward transitions are no-ops; the bool
// reports whether the status actually changed.
func (db *DB) AdvanceMessageStatus(msgID, newStatus string) (bool, error) {
	newRank := StatusRank(newStatus)
	if newRank < 0 {
		return false, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	var fromMe bool
	err = tx.QueryRow(`SELECT status, from_me FROM messages WHERE msg_id = ?`, msgID).
		Scan(&current, &fromMe)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !fromMe || current == StatusFailed || StatusRank(current) >= newRank {
		return false, nil
	}

	if _, err := tx.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, newStatus, msgID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// MarkMessageDeleted soft-deletes a message. The row and body stay for
// the record; the UI renders it as removed.
func (db *DB) MarkMessageDeleted(msgID string) error {
	_, err := db.Exec(`UPDATE messages SET is_deleted = 1 WHERE msg_id = ?`, msgID)
	return err
}

// MessageCount returns the total number of messages for an account.
func (db *DB) MessageCount(account string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE account = ?`, account).Scan(&count)
	return count, err
}
