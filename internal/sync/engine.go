// Package sync reconciles remote protocol state (chats, messages,
// contacts) into local storage. Every operation is idempotent: re-running
// it with the same remote payload leaves storage unchanged.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wappdesk/wappdesk/internal/bus"
	"github.com/wappdesk/wappdesk/internal/media"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"github.com/wappdesk/wappdesk/internal/store"
	"go.uber.org/zap"
)

// ClientSource resolves an account to its live, connected client.
type ClientSource interface {
	Acquire(account string) (protocol.Client, error)
}

// Engine performs idempotent ingestion of remote payloads.
type Engine struct {
	db      *store.DB
	bus     *bus.Bus
	media   *media.Store
	clients ClientSource
	logger  *zap.Logger
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, b *bus.Bus, m *media.Store, clients ClientSource, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		bus:     b,
		media:   m,
		clients: clients,
		logger:  logger,
	}
}

// UpsertChat creates or refreshes a chat from its remote representation.
// The unread counter is never touched here.
func (e *Engine) UpsertChat(account string, rc protocol.RemoteChat) error {
	c := &store.Chat{
		Account:       account,
		ChatID:        rc.ID,
		Name:          rc.Name,
		Phone:         rc.Phone,
		AvatarURL:     rc.AvatarURL,
		IsGroup:       rc.IsGroup,
		IsArchived:    rc.IsArchived,
		IsMuted:       rc.IsMuted,
		LastMessageAt: rc.LastMessageAt.UnixMilli(),
	}
	if rc.LastMessageAt.IsZero() {
		c.LastMessageAt = 0
	}
	if err := e.db.UpsertChat(c); err != nil {
		return fmt.Errorf("upsert chat %s: %w", rc.ID, err)
	}
	return nil
}

// RecordInbound stores an inbound message. Duplicate delivery of the same
// remote id is a benign no-op that leaves counters untouched. On a real
// insert the chat's unread counter, last-message reference and the
// session's inbound counter advance, and a "message" event is published.
func (e *Engine) RecordInbound(account string, rm protocol.RemoteMessage) (*store.Message, error) {
	msg, err := e.toStoreMessage(account, rm, store.StatusReceived)
	if err != nil {
		return nil, err
	}

	// Lazily create the chat on first reference. Known chats are left
	// untouched; their state is only refreshed by SyncAllChats.
	if err := e.db.EnsureChat(account, rm.ChatID, chatNameFor(rm), isGroupChat(rm.ChatID)); err != nil {
		return nil, fmt.Errorf("ensure chat %s: %w", rm.ChatID, err)
	}

	inserted, err := e.db.InsertMessageIfAbsent(msg)
	if err != nil {
		return nil, fmt.Errorf("insert message %s: %w", rm.ID, err)
	}
	if !inserted {
		existing, err := e.db.GetMessage(rm.ID)
		if err != nil {
			return nil, err
		}
		return existing, nil
	}

	if err := e.db.IncrementChatUnread(account, rm.ChatID); err != nil {
		return nil, err
	}
	if err := e.db.TouchChatLastMessage(account, rm.ChatID, msg.Timestamp, msg.MsgID); err != nil {
		return nil, err
	}
	if err := e.db.BumpSessionReceived(account); err != nil {
		return nil, err
	}

	e.publishMessage(account, msg)
	return msg, nil
}

// RecordOutbound stores a successfully sent message with status "sent",
// resets the chat's unread counter and advances the session's outbound
// counter. Idempotent on the remote message id.
func (e *Engine) RecordOutbound(account string, rm protocol.RemoteMessage) (*store.Message, error) {
	msg, err := e.toStoreMessage(account, rm, store.StatusSent)
	if err != nil {
		return nil, err
	}

	if err := e.db.EnsureChat(account, rm.ChatID, "", isGroupChat(rm.ChatID)); err != nil {
		return nil, fmt.Errorf("ensure chat %s: %w", rm.ChatID, err)
	}

	inserted, err := e.db.InsertMessageIfAbsent(msg)
	if err != nil {
		return nil, fmt.Errorf("insert message %s: %w", rm.ID, err)
	}
	if !inserted {
		existing, err := e.db.GetMessage(rm.ID)
		if err != nil {
			return nil, err
		}
		return existing, nil
	}

	if err := e.db.ResetChatUnread(account, rm.ChatID); err != nil {
		return nil, err
	}
	if err := e.db.TouchChatLastMessage(account, rm.ChatID, msg.Timestamp, msg.MsgID); err != nil {
		return nil, err
	}
	if err := e.db.BumpSessionSent(account); err != nil {
		return nil, err
	}

	e.publishMessage(account, msg)
	return msg, nil
}

// ApplyDeliveryAck advances an outbound message's delivery status.
// Unknown ids and out-of-order acks are no-ops; the status never moves
// backwards. Returns whether anything changed.
func (e *Engine) ApplyDeliveryAck(account, msgID, newStatus string) (bool, error) {
	changed, err := e.db.AdvanceMessageStatus(msgID, newStatus)
	if err != nil {
		return false, fmt.Errorf("advance status %s: %w", msgID, err)
	}
	if changed {
		e.bus.Publish(bus.Event{
			Kind:      "message_status",
			Account:   account,
			Timestamp: time.Now(),
			Payload:   map[string]string{"message_id": msgID, "status": newStatus},
		})
	}
	return changed, nil
}

// SyncAllChats pulls the remote chat list and upserts every entry.
// Individual malformed records are logged and skipped; chats absent from
// the remote listing are never deleted locally. Returns the number of
// chats reconciled.
func (e *Engine) SyncAllChats(ctx context.Context, account string) (int, error) {
	client, err := e.clients.Acquire(account)
	if err != nil {
		return 0, err
	}
	chats, err := client.FetchChats(ctx)
	if err != nil {
		return 0, protocol.Transport("fetch chats", err)
	}

	count := 0
	for _, rc := range chats {
		if rc.ID == "" {
			e.logger.Warn("skipping chat without id", zap.String("account", account))
			continue
		}
		if err := e.UpsertChat(account, rc); err != nil {
			e.logger.Error("chat sync failed",
				zap.String("account", account), zap.String("chat", rc.ID), zap.Error(err))
			continue
		}
		count++
	}

	if err := e.db.RefreshSessionChatCount(account); err != nil {
		e.logger.Error("refresh chat count failed", zap.String("account", account), zap.Error(err))
	}
	e.logger.Info("chats synced", zap.String("account", account), zap.Int("count", count))
	return count, nil
}

// SyncAllContacts pulls the remote contact list and upserts every entry.
// Contacts absent from the remote listing are never deleted locally.
func (e *Engine) SyncAllContacts(ctx context.Context, account string) (int, error) {
	client, err := e.clients.Acquire(account)
	if err != nil {
		return 0, err
	}
	remote, err := client.FetchContacts(ctx)
	if err != nil {
		return 0, protocol.Transport("fetch contacts", err)
	}

	contacts := make([]store.Contact, 0, len(remote))
	for _, rc := range remote {
		if rc.Phone == "" {
			continue
		}
		contacts = append(contacts, store.Contact{
			Account: account,
			Phone:   rc.Phone,
			JID:     rc.ID,
			Name:    rc.Name,
			IsGroup: rc.IsGroup,
			IsKnown: rc.IsKnown,
		})
	}
	if err := e.db.BulkUpsertContacts(contacts); err != nil {
		return 0, fmt.Errorf("bulk upsert contacts: %w", err)
	}
	e.logger.Info("contacts synced", zap.String("account", account), zap.Int("count", len(contacts)))
	return len(contacts), nil
}

// toStoreMessage converts a remote message, persisting any downloaded
// attachment payload into the media store first.
func (e *Engine) toStoreMessage(account string, rm protocol.RemoteMessage, status string) (*store.Message, error) {
	msg := &store.Message{
		MsgID:     rm.ID,
		Account:   account,
		ChatID:    rm.ChatID,
		Body:      rm.Body,
		Kind:      rm.Kind,
		FromMe:    rm.FromMe,
		Author:    rm.Author,
		AuthorID:  rm.AuthorID,
		Timestamp: rm.Timestamp.UnixMilli(),
		Status:    status,
	}
	if msg.Kind == "" {
		msg.Kind = "text"
	}
	if rm.Quoted != nil {
		msg.QuotedID = rm.Quoted.ID
		msg.QuotedPreview = rm.Quoted.Body
	}
	if rm.Location != nil {
		msg.Location = &store.Location{
			Latitude:  rm.Location.Latitude,
			Longitude: rm.Location.Longitude,
			Address:   rm.Location.Address,
		}
	}
	if rm.Media != nil {
		m := &store.Media{
			URL:       rm.Media.URL,
			MimeType:  rm.Media.MimeType,
			Filename:  rm.Media.Filename,
			Size:      rm.Media.Size,
			Duration:  rm.Media.Duration,
			Caption:   rm.Media.Caption,
			Thumbnail: rm.Media.Thumbnail,
		}
		if len(rm.Media.Data) > 0 && m.URL == "" {
			locator, size, err := e.media.Put(account, rm.Media.Data, rm.Media.MimeType)
			if err != nil {
				// Keep the message; losing the attachment payload must not
				// drop the record.
				e.logger.Error("store inbound media failed",
					zap.String("account", account), zap.String("msg", rm.ID), zap.Error(err))
			} else {
				m.URL = locator
				m.Size = size
			}
		}
		msg.Media = m
	}
	return msg, nil
}

func (e *Engine) publishMessage(account string, msg *store.Message) {
	e.bus.Publish(bus.Event{
		Kind:      "message",
		Account:   account,
		Timestamp: time.Now(),
		Payload:   msg,
	})
}

// chatNameFor seeds a freshly created 1:1 chat's name from the sender.
// Group chats are named by the group subject, never by a participant.
func chatNameFor(rm protocol.RemoteMessage) string {
	if !rm.FromMe && !isGroupChat(rm.ChatID) {
		return rm.Author
	}
	return ""
}

func isGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@g.us")
}
