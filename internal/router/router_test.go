package router

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wappdesk/wappdesk/internal/bus"
	"github.com/wappdesk/wappdesk/internal/media"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"github.com/wappdesk/wappdesk/internal/session"
	"github.com/wappdesk/wappdesk/internal/store"
	enginesync "github.com/wappdesk/wappdesk/internal/sync"
	"go.uber.org/zap"
)

const account = "+5511999990000"

type stubSource struct {
	client protocol.Client
	err    error
}

func (s *stubSource) Acquire(acct string) (protocol.Client, error) {
	return s.client, s.err
}

type listClient struct {
	protocol.Client
	chats []protocol.RemoteChat
}

func (c *listClient) FetchChats(ctx context.Context) ([]protocol.RemoteChat, error) {
	return c.chats, nil
}

func setup(t *testing.T, source enginesync.ClientSource) (*Router, *session.Machine, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	m, err := media.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.EnsureSession(account, ""); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	logger := zap.NewNop()
	engine := enginesync.NewEngine(db, b, m, source, logger)
	machine := session.NewMachine(account, session.Connecting, db, b, logger)
	return New(engine, b, logger), machine, db, b
}

func TestQRRenderedAsDataURL(t *testing.T) {
	r, machine, db, b := setup(t, &stubSource{err: protocol.ErrNotConnected})
	events, cancel := b.Subscribe(account, "qr", 8)
	defer cancel()

	h := r.Bind(account, machine, func() {})
	h.QR("pairing-payload-1")
	r.Release(account)

	sess, err := db.GetSession(account)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sess.QRCode, "data:image/png;base64,") {
		t.Errorf("qr = %.40q, want a PNG data URL", sess.QRCode)
	}
	if sess.QRIssuedAt == 0 {
		t.Error("qr_issued_at should be stamped")
	}
	if len(events) != 1 {
		t.Errorf("qr events = %d, want 1", len(events))
	}
}

func TestQRRefreshOverwrites(t *testing.T) {
	r, machine, db, b := setup(t, &stubSource{err: protocol.ErrNotConnected})
	events, cancel := b.Subscribe(account, "qr", 8)
	defer cancel()

	h := r.Bind(account, machine, func() {})
	h.QR("first")
	h.QR("second")
	r.Release(account)

	if len(events) != 2 {
		t.Fatalf("qr events = %d, want 2", len(events))
	}
	<-events
	last := <-events
	payload := last.Payload.(map[string]string)

	sess, _ := db.GetSession(account)
	if sess.QRCode != payload["qr"] {
		t.Error("stored QR should be the most recently issued one")
	}
	if machine.Current() != session.Connecting {
		t.Errorf("state = %s, QR issuance must not change it", machine.Current())
	}
}

func TestReadyTransitionsAndSyncs(t *testing.T) {
	client := &listClient{chats: []protocol.RemoteChat{{ID: "g@g.us", Name: "Team", IsGroup: true}}}
	r, machine, db, b := setup(t, &stubSource{client: client})
	events, cancel := b.Subscribe(account, "ready", 8)
	defer cancel()

	h := r.Bind(account, machine, func() {})
	h.Authenticated()
	h.Ready(protocol.DeviceInfo{Platform: "android", Name: "Pixel"})
	r.Release(account)

	if machine.Current() != session.Connected {
		t.Errorf("state = %s, want connected", machine.Current())
	}
	if len(events) != 1 {
		t.Errorf("ready events = %d, want 1", len(events))
	}

	sess, _ := db.GetSession(account)
	if sess.DevicePlatform != "android" || sess.DeviceName != "Pixel" {
		t.Errorf("device = (%q, %q)", sess.DevicePlatform, sess.DeviceName)
	}

	// The post-connect chat sync ran on the worker.
	chat, err := db.GetChat(account, "g@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil {
		t.Error("expected the chat list to be reconciled on ready")
	}
}

func TestRedundantAuthenticatedIsSilent(t *testing.T) {
	r, machine, _, b := setup(t, &stubSource{client: &listClient{}})
	events, cancel := b.Subscribe(account, "authenticated", 8)
	defer cancel()

	h := r.Bind(account, machine, func() {})
	h.Authenticated()
	h.Authenticated()
	r.Release(account)

	if len(events) != 1 {
		t.Errorf("authenticated events = %d, want 1 (redundant callback suppressed)", len(events))
	}
}

func TestDisconnectedEvicts(t *testing.T) {
	r, machine, _, _ := setup(t, &stubSource{err: protocol.ErrNotConnected})

	evicted := false
	h := r.Bind(account, machine, func() { evicted = true })
	h.Authenticated()
	h.Disconnected("connection closed")
	r.Release(account)

	if !evicted {
		t.Error("disconnect should evict the client")
	}
	if machine.Current() != session.Disconnected {
		t.Errorf("state = %s, want disconnected", machine.Current())
	}
}

func TestAuthFailureFailsSession(t *testing.T) {
	r, machine, db, _ := setup(t, &stubSource{err: protocol.ErrNotConnected})

	evicted := false
	h := r.Bind(account, machine, func() { evicted = true })
	h.AuthFailure("logged out: device removed")
	r.Release(account)

	if !evicted {
		t.Error("auth failure should evict the client")
	}
	if machine.Current() != session.Failed {
		t.Errorf("state = %s, want error", machine.Current())
	}
	sess, _ := db.GetSession(account)
	if sess.LastError == "" {
		t.Error("failure reason should be persisted")
	}
}

func TestMessagesProcessedInOrder(t *testing.T) {
	r, machine, db, _ := setup(t, &stubSource{err: protocol.ErrNotConnected})

	h := r.Bind(account, machine, func() {})
	for i := 0; i < 20; i++ {
		h.Message(protocol.RemoteMessage{
			ID:        "ord" + string(rune('a'+i)),
			ChatID:    "123@s.whatsapp.net",
			Body:      "m",
			Kind:      "text",
			Timestamp: time.UnixMilli(int64(1000 + i)),
		})
	}
	r.Release(account)

	chat, err := db.GetChat(account, "123@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if chat.UnreadCount != 20 {
		t.Errorf("unread = %d, want 20", chat.UnreadCount)
	}
	// The newest message won the last-message slot, so processing was ordered.
	if chat.LastMessageID != "ord"+string(rune('a'+19)) {
		t.Errorf("last_message_id = %q, want the final message", chat.LastMessageID)
	}
}

func TestOwnDeviceEchoRecordedAsOutbound(t *testing.T) {
	r, machine, db, _ := setup(t, &stubSource{err: protocol.ErrNotConnected})

	h := r.Bind(account, machine, func() {})
	h.Message(protocol.RemoteMessage{
		ID: "echo1", ChatID: "123@s.whatsapp.net", Body: "from my phone",
		Kind: "text", FromMe: true, Timestamp: time.UnixMilli(1000),
	})
	r.Release(account)

	m, err := db.GetMessage("echo1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || !m.FromMe || m.Status != store.StatusSent {
		t.Errorf("echo = %+v, want outbound with sent status", m)
	}
	chat, _ := db.GetChat(account, "123@s.whatsapp.net")
	if chat.UnreadCount != 0 {
		t.Errorf("unread = %d, own messages must not count", chat.UnreadCount)
	}
}

func TestAckFlowsToStore(t *testing.T) {
	r, machine, db, _ := setup(t, &stubSource{err: protocol.ErrNotConnected})

	h := r.Bind(account, machine, func() {})
	h.Message(protocol.RemoteMessage{
		ID: "out1", ChatID: "123@s.whatsapp.net", Body: "x",
		Kind: "text", FromMe: true, Timestamp: time.UnixMilli(1000),
	})
	h.Ack("out1", store.StatusDelivered)
	h.Ack("out1", store.StatusRead)
	h.Ack("out1", store.StatusDelivered) // late duplicate
	r.Release(account)

	m, err := db.GetMessage("out1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != store.StatusRead {
		t.Errorf("status = %q, want read", m.Status)
	}
}
