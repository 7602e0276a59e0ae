package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestEnsureSessionKeepsState(t *testing.T) {
	db := testDB(t)

	s, err := db.EnsureSession("+5511999990000", "Work")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != SessionDisconnected {
		t.Errorf("status = %q, want disconnected", s.Status)
	}

	if err := db.SetSessionStatus(s.Account, SessionConnected, ""); err != nil {
		t.Fatal(err)
	}

	// Re-ensuring must not reset the status, and an empty name keeps the old one.
	again, err := db.EnsureSession(s.Account, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != SessionConnected {
		t.Errorf("status after re-ensure = %q, want connected", again.Status)
	}
	if again.Name != "Work" {
		t.Errorf("name = %q, want Work", again.Name)
	}
}

func TestSetSessionStatusConnectedClearsQR(t *testing.T) {
	db := testDB(t)
	if _, err := db.EnsureSession("+551199", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSessionQR("+551199", "data:image/png;base64,abc"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSessionStatus("+551199", SessionConnected, ""); err != nil {
		t.Fatal(err)
	}

	s, err := db.GetSession("+551199")
	if err != nil {
		t.Fatal(err)
	}
	if s.QRCode != "" || s.QRIssuedAt != 0 {
		t.Error("connected status should clear the stored QR")
	}
	if s.LastConnectedAt == 0 {
		t.Error("connected status should stamp last_connected_at")
	}
}

func TestUpsertChatDoesNotRegress(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{Account: "a", ChatID: "c@s", Name: "Alice", LastMessageAt: 2000}); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementChatUnread("a", "c@s"); err != nil {
		t.Fatal(err)
	}

	// A resync with an older timestamp and empty name must keep both.
	if err := db.UpsertChat(&Chat{Account: "a", ChatID: "c@s", LastMessageAt: 1000}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("a", "c@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice", c.Name)
	}
	if c.LastMessageAt != 2000 {
		t.Errorf("last_message_at = %d, want 2000", c.LastMessageAt)
	}
	if c.UnreadCount != 1 {
		t.Errorf("unread_count = %d, want 1", c.UnreadCount)
	}
}

func TestEnsureChatLeavesExistingRowUntouched(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{
		Account: "a", ChatID: "g@g.us", Name: "Team",
		IsGroup: true, IsArchived: true, IsMuted: true,
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.EnsureChat("a", "g@g.us", "Alice", false); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("a", "g@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Team" || !c.IsGroup || !c.IsArchived || !c.IsMuted {
		t.Errorf("chat = %+v, want all synced state preserved", c)
	}

	// First reference creates the row with the given seed values.
	if err := db.EnsureChat("a", "new@s.whatsapp.net", "Bob", false); err != nil {
		t.Fatal(err)
	}
	c, err = db.GetChat("a", "new@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "Bob" || c.IsGroup {
		t.Errorf("chat = %+v, want fresh row named Bob", c)
	}
}

func TestTouchChatLastMessageNeverMovesBack(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{Account: "a", ChatID: "c@s"}); err != nil {
		t.Fatal(err)
	}

	if err := db.TouchChatLastMessage("a", "c@s", 5000, "m2"); err != nil {
		t.Fatal(err)
	}
	// Backfill of an older message.
	if err := db.TouchChatLastMessage("a", "c@s", 1000, "m1"); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("a", "c@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageAt != 5000 || c.LastMessageID != "m2" {
		t.Errorf("last message = (%d, %q), want (5000, m2)", c.LastMessageAt, c.LastMessageID)
	}
}

func TestInsertMessageIfAbsent(t *testing.T) {
	db := testDB(t)

	m := &Message{MsgID: "m1", Account: "a", ChatID: "c@s", Body: "hello", Kind: "text", Timestamp: 1000, Status: StatusReceived}
	inserted, err := db.InsertMessageIfAbsent(m)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted=true")
	}

	// Redelivery with a different body must not overwrite.
	dup := &Message{MsgID: "m1", Account: "a", ChatID: "c@s", Body: "changed", Kind: "text", Timestamp: 2000, Status: StatusReceived}
	inserted, err = db.InsertMessageIfAbsent(dup)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate insert should report inserted=false")
	}

	got, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "hello" {
		t.Errorf("body = %q, want hello (first write wins)", got.Body)
	}
}

func TestAdvanceMessageStatus(t *testing.T) {
	db := testDB(t)

	out := &Message{MsgID: "out1", Account: "a", ChatID: "c@s", Body: "hi", Kind: "text", FromMe: true, Timestamp: 1000, Status: StatusSent}
	if _, err := db.InsertMessageIfAbsent(out); err != nil {
		t.Fatal(err)
	}
	in := &Message{MsgID: "in1", Account: "a", ChatID: "c@s", Body: "yo", Kind: "text", Timestamp: 1001, Status: StatusReceived}
	if _, err := db.InsertMessageIfAbsent(in); err != nil {
		t.Fatal(err)
	}

	t.Run("forward", func(t *testing.T) {
		changed, err := db.AdvanceMessageStatus("out1", StatusRead)
		if err != nil {
			t.Fatal(err)
		}
		if !changed {
			t.Error("sent -> read should advance")
		}
	})

	t.Run("never backwards", func(t *testing.T) {
		changed, err := db.AdvanceMessageStatus("out1", StatusDelivered)
		if err != nil {
			t.Fatal(err)
		}
		if changed {
			t.Error("read -> delivered must be a no-op")
		}
		m, _ := db.GetMessage("out1")
		if m.Status != StatusRead {
			t.Errorf("status = %q, want read", m.Status)
		}
	})

	t.Run("inbound untouched", func(t *testing.T) {
		changed, err := db.AdvanceMessageStatus("in1", StatusRead)
		if err != nil {
			t.Fatal(err)
		}
		if changed {
			t.Error("inbound messages must not receive delivery acks")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		changed, err := db.AdvanceMessageStatus("missing", StatusDelivered)
		if err != nil {
			t.Fatal(err)
		}
		if changed {
			t.Error("unknown id must be a no-op")
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		changed, err := db.AdvanceMessageStatus("out1", "bogus")
		if err != nil {
			t.Fatal(err)
		}
		if changed {
			t.Error("unknown status must be a no-op")
		}
	})
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)
	for i := 1; i <= 5; i++ {
		m := &Message{
			MsgID: string(rune('a' + i)), Account: "a", ChatID: "c@s",
			Body: "msg", Kind: "text", Timestamp: int64(i * 1000), Status: StatusReceived,
		}
		if _, err := db.InsertMessageIfAbsent(m); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages("a", "c@s", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Timestamp != 5000 || page[1].Timestamp != 4000 {
		t.Fatalf("first page = %+v, want ts 5000,4000", page)
	}

	next, err := db.ListMessages("a", "c@s", page[1].Timestamp, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 2 || next[0].Timestamp != 3000 || next[1].Timestamp != 2000 {
		t.Fatalf("second page = %+v, want ts 3000,2000", next)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	msgs := []Message{
		{MsgID: "s1", Account: "a", ChatID: "c1", Body: "the quarterly invoice is attached", Kind: "text", Timestamp: 1000, Status: StatusReceived},
		{MsgID: "s2", Account: "a", ChatID: "c2", Body: "invoice overdue", Kind: "text", Timestamp: 2000, Status: StatusReceived},
		{MsgID: "s3", Account: "b", ChatID: "c1", Body: "invoice from another account", Kind: "text", Timestamp: 3000, Status: StatusReceived},
	}
	for i := range msgs {
		if _, err := db.InsertMessageIfAbsent(&msgs[i]); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("a", "invoice", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (account-scoped)", len(results))
	}

	scoped, err := db.SearchMessages("a", "invoice", "c2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].Message.MsgID != "s2" {
		t.Fatalf("chat-scoped results = %+v, want only s2", scoped)
	}
	if scoped[0].Snippet == "" {
		t.Error("expected a non-empty snippet")
	}
}

func TestUpdateChatCRM(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{Account: "a", ChatID: "c@s"}); err != nil {
		t.Fatal(err)
	}

	tags := []string{"vip", "follow-up"}
	fields := []Field{{Key: "company", Value: "Acme"}}
	if err := db.UpdateChatCRM("a", "c@s", "customer", tags, fields); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("a", "c@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.CRMStatus != "customer" {
		t.Errorf("crm_status = %q, want customer", c.CRMStatus)
	}
	if len(c.Tags) != 2 || c.Tags[0] != "vip" {
		t.Errorf("tags = %v", c.Tags)
	}
	if len(c.Fields) != 1 || c.Fields[0].Value != "Acme" {
		t.Errorf("fields = %v", c.Fields)
	}

	if err := db.UpdateChatCRM("a", "missing", "customer", nil, nil); err == nil {
		t.Error("updating an unknown chat should fail")
	}
}

func TestBulkUpsertContactsPreservesCRM(t *testing.T) {
	db := testDB(t)

	if err := db.BulkUpsertContacts([]Contact{
		{Account: "a", Phone: "111", Name: "Alice"},
		{Account: "a", Phone: "222", Name: "Bob"},
	}); err != nil {
		t.Fatal(err)
	}

	// Tag Alice through the chats-equivalent CRM path on the contact row.
	if _, err := db.Exec(`UPDATE contacts SET crm_status = 'customer' WHERE account = 'a' AND phone = '111'`); err != nil {
		t.Fatal(err)
	}

	// Resync refreshes identity but keeps CRM data.
	if err := db.BulkUpsertContacts([]Contact{
		{Account: "a", Phone: "111", Name: "Alice Smith"},
	}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact("a", "111")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alice Smith" {
		t.Errorf("name = %q, want refreshed Alice Smith", c.Name)
	}
	if c.CRMStatus != "customer" {
		t.Errorf("crm_status = %q, want preserved customer", c.CRMStatus)
	}

	total, err := db.CountContacts("a", "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("count = %d, want 2", total)
	}
}

func TestUnreadInboundMessageIDsAscending(t *testing.T) {
	db := testDB(t)
	seed := []Message{
		{MsgID: "u1", Account: "a", ChatID: "c@s", Timestamp: 1000, Status: StatusReceived},
		{MsgID: "u2", Account: "a", ChatID: "c@s", Timestamp: 2000, Status: StatusReceived},
		{MsgID: "mine", Account: "a", ChatID: "c@s", FromMe: true, Timestamp: 3000, Status: StatusSent},
	}
	for i := range seed {
		seed[i].Kind = "text"
		if _, err := db.InsertMessageIfAbsent(&seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := db.UnreadInboundMessageIDs("a", "c@s", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("ids = %v, want [u1 u2] ascending without own messages", ids)
	}
}
