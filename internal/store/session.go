package store

import (
	"database/sql"
	"time"
)

// EnsureSession creates the session row for an account if it does not
// exist yet and returns it. An existing row keeps its state; only the
// display name is refreshed when a non-empty one is given.
func (db *DB) EnsureSession(account, name string) (*Session, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sessions (account, name, status, created_at, updated_at)
		VALUES (?, ?, 'disconnected', ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE sessions.name END,
			updated_at = excluded.updated_at`,
		account, name, now, now)
	if err != nil {
		return nil, err
	}
	return db.GetSession(account)
}

const sessionColumns = `account, name, status, qr_code, qr_issued_at,
	device_platform, device_name, device_version,
	messages_sent, messages_received, last_message_at, chat_count,
	is_active, last_connected_at, last_error`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	err := row.Scan(&s.Account, &s.Name, &s.Status, &s.QRCode, &s.QRIssuedAt,
		&s.DevicePlatform, &s.DeviceName, &s.DeviceVersion,
		&s.MessagesSent, &s.MessagesReceived, &s.LastMessageAt, &s.ChatCount,
		&s.Active, &s.LastConnectedAt, &s.LastError)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession returns the session for an account, or nil if absent.
func (db *DB) GetSession(account string) (*Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE account = ?`, account)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListSessions returns all sessions ordered by account.
func (db *DB) ListSessions() ([]Session, error) {
	rows, err := db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ActiveSessions returns sessions flagged for startup re-initialization.
func (db *DB) ActiveSessions() ([]Session, error) {
	rows, err := db.Query(`SELECT ` + sessionColumns + ` FROM sessions WHERE is_active = 1 ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// SetSessionStatus persists a status change. The connected and
// authenticated statuses also stamp last_connected_at and clear the QR
// and any previous error; the error status records lastErr.
func (db *DB) SetSessionStatus(account, status, lastErr string) error {
	now := time.Now().UnixMilli()
	switch status {
	case SessionConnected, SessionAuthenticated:
		_, err := db.Exec(`
			UPDATE sessions SET status = ?, last_connected_at = ?, last_error = '',
				qr_code = '', qr_issued_at = 0, updated_at = ?
			WHERE account = ?`, status, now, now, account)
		return err
	case SessionError:
		_, err := db.Exec(`
			UPDATE sessions SET status = ?, last_error = ?, updated_at = ?
			WHERE account = ?`, status, lastErr, now, account)
		return err
	default:
		_, err := db.Exec(`
			UPDATE sessions SET status = ?, updated_at = ?
			WHERE account = ?`, status, now, account)
		return err
	}
}

// SetSessionQR stores a freshly issued QR payload. A new QR supersedes
// the previous one; the status is untouched.
func (db *DB) SetSessionQR(account, qr string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sessions SET qr_code = ?, qr_issued_at = ?, updated_at = ?
		WHERE account = ?`, qr, now, now, account)
	return err
}

// SetSessionDevice records the linked device descriptor.
func (db *DB) SetSessionDevice(account, platform, name, version string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sessions SET device_platform = ?, device_name = ?, device_version = ?, updated_at = ?
		WHERE account = ?`, platform, name, version, now, account)
	return err
}

// SetSessionActive flips the auto-reconnect flag. Sessions are never
// deleted, only deactivated.
func (db *DB) SetSessionActive(account string, active bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE sessions SET is_active = ?, updated_at = ? WHERE account = ?`,
		active, now, account)
	return err
}

// BumpSessionSent increments the outbound counter and last-message time.
func (db *DB) BumpSessionSent(account string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sessions SET messages_sent = messages_sent + 1, last_message_at = ?, updated_at = ?
		WHERE account = ?`, now, now, account)
	return err
}

// BumpSessionReceived increments the inbound counter and last-message time.
func (db *DB) BumpSessionReceived(account string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sessions SET messages_received = messages_received + 1, last_message_at = ?, updated_at = ?
		WHERE account = ?`, now, now, account)
	return err
}

// RefreshSessionChatCount recomputes the chat counter from the chats table.
func (db *DB) RefreshSessionChatCount(account string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sessions SET chat_count = (SELECT COUNT(*) FROM chats WHERE account = ?), updated_at = ?
		WHERE account = ?`, account, now, account)
	return err
}
