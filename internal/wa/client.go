// Package wa implements the protocol client on top of whatsmeow. Each
// account owns its own credential container on disk; lifecycle and
// content events are normalized and forwarded through the registered
// handler callbacks.
package wa

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wappdesk/wappdesk/internal/config"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

var osInfoOnce sync.Once

// Factory returns a protocol.Factory producing whatsmeow-backed clients
// with credentials stored under the configured data directory.
func Factory(cfg *config.Config, logger *zap.Logger) protocol.Factory {
	return func(ctx context.Context, account string, h protocol.Handler) (protocol.Client, error) {
		return newClient(ctx, cfg, account, h, logger.With(zap.String("account", account)))
	}
}

type client struct {
	wm        *whatsmeow.Client
	container *sqlstore.Container
	account   string
	handler   protocol.Handler
	logger    *zap.Logger
}

func newClient(ctx context.Context, cfg *config.Config, account string, h protocol.Handler, logger *zap.Logger) (*client, error) {
	// Device name shown on the phone's linked devices list.
	osInfoOnce.Do(func() {
		wastore.SetOSInfo(cfg.DeviceName, [3]uint32{1, 0, 0})
	})

	if err := os.MkdirAll(cfg.AccountDir(account), 0700); err != nil {
		return nil, fmt.Errorf("create account dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", cfg.CredentialDBPath(account)),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create credential store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	c := &client{
		wm:        whatsmeow.NewClient(deviceStore, nil),
		container: container,
		account:   account,
		handler:   h,
		logger:    logger,
	}
	c.wm.AddEventHandler(c.handleEvent)
	return c, nil
}

func (c *client) isLoggedIn() bool {
	return c.wm.Store.ID != nil
}

// Start connects to the network. Unauthenticated sessions first obtain
// the QR channel, so pairing codes stream through the handler while the
// connection is established.
func (c *client) Start(ctx context.Context) error {
	if c.isLoggedIn() {
		c.logger.Info("connecting with stored credentials")
		if err := c.wm.Connect(); err != nil {
			return protocol.Transport("connect", err)
		}
		return nil
	}

	// The QR flow outlives the initiating request; it ends when pairing
	// succeeds, times out or fails.
	qrChan, err := c.wm.GetQRChannel(context.Background())
	if err != nil {
		return protocol.Transport("get qr channel", err)
	}
	go c.consumeQR(qrChan)

	c.logger.Info("connecting for pairing")
	if err := c.wm.Connect(); err != nil {
		return protocol.Transport("connect", err)
	}
	return nil
}

func (c *client) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			if c.handler.QR != nil {
				c.handler.QR(item.Code)
			}
		case "success":
			// PairSuccess arrives through the event handler.
			return
		case "timeout":
			if c.handler.AuthFailure != nil {
				c.handler.AuthFailure("pairing timed out")
			}
			return
		default:
			if item.Error != nil {
				if c.handler.AuthFailure != nil {
					c.handler.AuthFailure(item.Error.Error())
				}
				return
			}
		}
	}
}

func (c *client) Logout(ctx context.Context) error {
	return c.wm.Logout(ctx)
}

func (c *client) Disconnect() {
	c.wm.Disconnect()
}

func (c *client) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		c.logger.Info("paired", zap.String("jid", evt.ID.String()))
		if c.handler.Authenticated != nil {
			c.handler.Authenticated()
		}
	case *events.Connected:
		if c.handler.Authenticated != nil {
			c.handler.Authenticated()
		}
		if c.handler.Ready != nil {
			c.handler.Ready(c.deviceInfo())
		}
	case *events.Disconnected:
		if c.handler.Disconnected != nil {
			c.handler.Disconnected("connection closed")
		}
	case *events.StreamReplaced:
		if c.handler.Disconnected != nil {
			c.handler.Disconnected("stream replaced by another device")
		}
	case *events.LoggedOut:
		if c.handler.AuthFailure != nil {
			c.handler.AuthFailure("logged out: " + evt.Reason.String())
		}
	case *events.Message:
		rm, ok := c.parseMessage(evt)
		if !ok {
			return
		}
		if c.handler.Message != nil {
			c.handler.Message(rm)
		}
	case *events.Receipt:
		c.handleReceipt(evt)
	}
}

func (c *client) handleReceipt(evt *events.Receipt) {
	if c.handler.Ack == nil {
		return
	}
	var status string
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		status = "delivered"
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		status = "read"
	default:
		return
	}
	for _, id := range evt.MessageIDs {
		c.handler.Ack(id, status)
	}
}

func (c *client) deviceInfo() protocol.DeviceInfo {
	info := protocol.DeviceInfo{
		Platform: c.wm.Store.Platform,
		Name:     c.wm.Store.PushName,
	}
	if c.wm.Store.ID != nil {
		info.Version = fmt.Sprintf("device %d", c.wm.Store.ID.Device)
	}
	return info
}

// toJID parses a chat identifier, defaulting bare phone numbers to the
// standard user server.
func toJID(id string) (types.JID, error) {
	jid, err := types.ParseJID(id)
	if err != nil || jid.Server == "" {
		jid = types.NewJID(id, types.DefaultUserServer)
	}
	if jid.User == "" {
		return jid, fmt.Errorf("invalid chat id %q", id)
	}
	return jid, nil
}

func (c *client) SendText(ctx context.Context, to, body string) (protocol.RemoteMessage, error) {
	jid, err := toJID(to)
	if err != nil {
		return protocol.RemoteMessage{}, err
	}
	resp, err := c.wm.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return protocol.RemoteMessage{}, fmt.Errorf("send message: %w", err)
	}
	return protocol.RemoteMessage{
		ID:        resp.ID,
		ChatID:    jid.String(),
		Body:      body,
		Kind:      "text",
		FromMe:    true,
		Timestamp: resp.Timestamp,
	}, nil
}

func (c *client) SendMedia(ctx context.Context, to string, media protocol.Media) (protocol.RemoteMessage, error) {
	jid, err := toJID(to)
	if err != nil {
		return protocol.RemoteMessage{}, err
	}

	kind := protocol.KindFromMime(media.MimeType)
	up, err := c.wm.Upload(ctx, media.Data, uploadType(kind))
	if err != nil {
		return protocol.RemoteMessage{}, fmt.Errorf("upload media: %w", err)
	}

	length := uint64(len(media.Data))
	var msg *waE2E.Message
	switch kind {
	case "image":
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}
	case "video":
		msg = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}
	case "audio":
		msg = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}
	default:
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(media.Filename),
			FileName:      proto.String(media.Filename),
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}
	}

	resp, err := c.wm.SendMessage(ctx, jid, msg)
	if err != nil {
		return protocol.RemoteMessage{}, fmt.Errorf("send media: %w", err)
	}
	return protocol.RemoteMessage{
		ID:        resp.ID,
		ChatID:    jid.String(),
		Body:      media.Caption,
		Kind:      kind,
		FromMe:    true,
		Timestamp: resp.Timestamp,
		Media: &protocol.MediaRef{
			MimeType: media.MimeType,
			Filename: media.Filename,
			Size:     int64(len(media.Data)),
			Caption:  media.Caption,
		},
	}, nil
}

func uploadType(kind string) whatsmeow.MediaType {
	switch kind {
	case "image":
		return whatsmeow.MediaImage
	case "video":
		return whatsmeow.MediaVideo
	case "audio":
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func (c *client) MarkSeen(ctx context.Context, chatID string, messageIDs []string) error {
	jid, err := toJID(chatID)
	if err != nil {
		return err
	}
	ids := make([]types.MessageID, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, types.MessageID(id))
	}
	if err := c.wm.MarkRead(ctx, ids, time.Now(), jid, types.EmptyJID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// FetchChats lists joined groups plus one direct chat per known contact.
func (c *client) FetchChats(ctx context.Context) ([]protocol.RemoteChat, error) {
	groups, err := c.wm.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("get joined groups: %w", err)
	}

	var chats []protocol.RemoteChat
	for _, g := range groups {
		chats = append(chats, protocol.RemoteChat{
			ID:      g.JID.String(),
			Name:    g.Name,
			IsGroup: true,
		})
	}

	contacts, err := c.wm.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		c.logger.Warn("contact listing failed", zap.Error(err))
		return chats, nil
	}
	for jid, info := range contacts {
		normalized := jid.ToNonAD()
		if normalized.Server != types.DefaultUserServer {
			continue
		}
		chats = append(chats, protocol.RemoteChat{
			ID:    normalized.String(),
			Name:  contactName(info),
			Phone: normalized.User,
		})
	}
	return chats, nil
}

func (c *client) FetchContacts(ctx context.Context) ([]protocol.RemoteContact, error) {
	all, err := c.wm.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	contacts := make([]protocol.RemoteContact, 0, len(all))
	for jid, info := range all {
		normalized := jid.ToNonAD()
		if normalized.Server != types.DefaultUserServer {
			continue
		}
		contacts = append(contacts, protocol.RemoteContact{
			ID:      normalized.String(),
			Phone:   normalized.User,
			Name:    contactName(info),
			IsKnown: info.Found,
		})
	}
	return contacts, nil
}

func contactName(info types.ContactInfo) string {
	if info.FullName != "" {
		return info.FullName
	}
	if info.FirstName != "" {
		return info.FirstName
	}
	return info.PushName
}

// resolveLID maps a hidden-user (LID) JID to its phone number JID when
// the device store knows the mapping.
func (c *client) resolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if c.wm.Store.LIDs == nil {
		return jid
	}
	pn, err := c.wm.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
