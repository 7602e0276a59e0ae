package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertChat inserts or updates a chat record. Display fields are
// refreshed when the incoming value is non-empty; unread_count never
// regresses here (explicit reset only via ResetChatUnread).
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (account, chat_id, name, phone, avatar_url, is_group,
			is_archived, is_muted, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, chat_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE chats.phone END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE chats.avatar_url END,
			is_group = excluded.is_group,
			is_archived = excluded.is_archived,
			is_muted = excluded.is_muted,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.Account, c.ChatID, c.Name, c.Phone, c.AvatarURL, c.IsGroup,
		c.IsArchived, c.IsMuted, c.LastMessageAt, now, now)
	return err
}

// EnsureChat creates a chat row on first reference, leaving an existing
// row completely untouched. Display fields and flags of known chats are
// only refreshed through UpsertChat with a synced remote payload.
func (db *DB) EnsureChat(account, chatID, name string, isGroup bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (account, chat_id, name, is_group, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, chat_id) DO NOTHING`,
		account, chatID, name, isGroup, now, now)
	return err
}

const chatColumns = `account, chat_id, name, phone, avatar_url, is_group,
	is_archived, is_muted, last_message_at, last_message_id, unread_count,
	crm_status, tags, contact_fields`

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	var tags, fields string
	err := row.Scan(&c.Account, &c.ChatID, &c.Name, &c.Phone, &c.AvatarURL, &c.IsGroup,
		&c.IsArchived, &c.IsMuted, &c.LastMessageAt, &c.LastMessageID, &c.UnreadCount,
		&c.CRMStatus, &tags, &fields)
	if err != nil {
		return nil, err
	}
	c.Tags = decodeTags(tags)
	c.Fields = decodeFields(fields)
	return &c, nil
}

// GetChat returns a single chat, or nil if absent.
func (db *DB) GetChat(account, chatID string) (*Chat, error) {
	row := db.QueryRow(`SELECT `+chatColumns+` FROM chats WHERE account = ? AND chat_id = ?`,
		account, chatID)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListChats returns an account's chats sorted by last message timestamp
// descending, with optional name/phone substring filtering.
func (db *DB) ListChats(account string, limit, offset int, search string) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + chatColumns + ` FROM chats WHERE account = ?`
	args := []any{account}
	if search != "" {
		q += ` AND (name LIKE ? OR phone LIKE ?)`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY last_message_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// CountChats returns the number of chats matching the same filter as ListChats.
func (db *DB) CountChats(account, search string) (int64, error) {
	q := `SELECT COUNT(*) FROM chats WHERE account = ?`
	args := []any{account}
	if search != "" {
		q += ` AND (name LIKE ? OR phone LIKE ?)`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	var count int64
	err := db.QueryRow(q, args...).Scan(&count)
	return count, err
}

// IncrementChatUnread bumps the unread counter by one.
func (db *DB) IncrementChatUnread(account, chatID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE chats SET unread_count = unread_count + 1, updated_at = ?
		WHERE account = ? AND chat_id = ?`, now, account, chatID)
	return err
}

// ResetChatUnread sets the unread counter to zero. Idempotent.
func (db *DB) ResetChatUnread(account, chatID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE chats SET unread_count = 0, updated_at = ?
		WHERE account = ? AND chat_id = ?`, now, account, chatID)
	return err
}

// TouchChatLastMessage records the chat's most recent message. The
// timestamp never moves backwards (history backfill must not clobber a
// newer live message).
func (db *DB) TouchChatLastMessage(account, chatID string, ts int64, msgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE chats SET
			last_message_id = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_id END,
			last_message_at = MAX(last_message_at, ?),
			updated_at = ?
		WHERE account = ? AND chat_id = ?`,
		ts, msgID, ts, now, account, chatID)
	return err
}

// UpdateChatCRM replaces the chat's CRM metadata.
func (db *DB) UpdateChatCRM(account, chatID, crmStatus string, tags []string, fields []Field) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE chats SET crm_status = ?, tags = ?, contact_fields = ?, updated_at = ?
		WHERE account = ? AND chat_id = ?`,
		crmStatus, encodeJSON(tags), encodeJSON(fields), now, account, chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chat %s/%s: %w", account, chatID, sql.ErrNoRows)
	}
	return nil
}

// ChatCount returns the total number of chats for an account.
func (db *DB) ChatCount(account string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats WHERE account = ?`, account).Scan(&count)
	return count, err
}
