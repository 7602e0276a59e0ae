package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact. CRM metadata is preserved
// on update; only identity fields are refreshed, and never to empty.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (account, phone, jid, name, is_group, is_known, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, phone) DO UPDATE SET
			jid = CASE WHEN excluded.jid != '' THEN excluded.jid ELSE contacts.jid END,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			is_group = excluded.is_group,
			is_known = excluded.is_known,
			updated_at = excluded.updated_at`,
		c.Account, c.Phone, c.JID, c.Name, c.IsGroup, c.IsKnown, now)
	return err
}

// BulkUpsertContacts upserts multiple contacts in a single transaction.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (account, phone, jid, name, is_group, is_known, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account, phone) DO UPDATE SET
				jid = CASE WHEN excluded.jid != '' THEN excluded.jid ELSE contacts.jid END,
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
				is_group = excluded.is_group,
				is_known = excluded.is_known,
				updated_at = excluded.updated_at`,
			c.Account, c.Phone, c.JID, c.Name, c.IsGroup, c.IsKnown, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.Phone, err)
		}
	}
	return tx.Commit()
}

const contactColumns = `account, phone, jid, name, is_group, is_known,
	crm_status, tags, contact_fields, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*Contact, error) {
	var c Contact
	var tags, fields string
	err := row.Scan(&c.Account, &c.Phone, &c.JID, &c.Name, &c.IsGroup, &c.IsKnown,
		&c.CRMStatus, &tags, &fields, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Tags = decodeTags(tags)
	c.Fields = decodeFields(fields)
	return &c, nil
}

// GetContact returns a contact by phone number, or nil if absent.
func (db *DB) GetContact(account, phone string) (*Contact, error) {
	row := db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE account = ? AND phone = ?`,
		account, phone)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListContacts returns an account's contacts ordered by name, with
// optional name/phone substring filtering.
func (db *DB) ListContacts(account string, limit, offset int, search string) ([]Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE account = ?`
	args := []any{account}
	if search != "" {
		q += ` AND (name LIKE ? OR phone LIKE ?)`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY name ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// CountContacts returns the number of contacts matching the ListContacts filter.
func (db *DB) CountContacts(account, search string) (int64, error) {
	q := `SELECT COUNT(*) FROM contacts WHERE account = ?`
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
