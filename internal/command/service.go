// Package command implements the user-facing operations: sending
// messages, marking chats read, exporting history and logging sessions
// out. Every operation resolves the live client through the pool and
// records its result through the sync engine, so command-path writes and
// event-path writes share the same idempotent storage rules.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/wappdesk/wappdesk/internal/media"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"github.com/wappdesk/wappdesk/internal/session"
	enginesync "github.com/wappdesk/wappdesk/internal/sync"
	"github.com/wappdesk/wappdesk/internal/store"
	"go.uber.org/zap"
)

// Service executes commands against live sessions.
type Service struct {
	pool   *session.Pool
	engine *enginesync.Engine
	media  *media.Store
	db     *store.DB
	logger *zap.Logger
}

// NewService creates a command service.
func NewService(pool *session.Pool, engine *enginesync.Engine, m *media.Store, db *store.DB, logger *zap.Logger) *Service {
	return &Service{pool: pool, engine: engine, media: m, db: db, logger: logger}
}

// SendText sends a text message and records it. Fails with
// ErrNotConnected when the account has no connected client; nothing is
// recorded on a failed send.
func (s *Service) SendText(ctx context.Context, account, chatID, body string) (*store.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, protocol.ErrEmptyMessageBody
	}
	client, err := s.pool.Acquire(account)
	if err != nil {
		return nil, err
	}

	rm, err := client.SendText(ctx, chatID, body)
	if err != nil {
		return nil, protocol.Transport("send text", err)
	}

	msg, err := s.engine.RecordOutbound(account, rm)
	if err != nil {
		// The message left the device; a storage failure here must surface
		// loudly but cannot be rolled back.
		s.logger.Error("sent message not recorded",
			zap.String("account", account), zap.String("msg", rm.ID), zap.Error(err))
		return nil, err
	}
	return msg, nil
}

// SendMedia sends a previously uploaded attachment, referenced by its
// media store locator, and records the resulting message.
func (s *Service) SendMedia(ctx context.Context, account, chatID, locator, caption string) (*store.Message, error) {
	data, mimeType, err := s.media.Get(locator)
	if err != nil {
		return nil, err
	}
	client, err := s.pool.Acquire(account)
	if err != nil {
		return nil, err
	}

	rm, err := client.SendMedia(ctx, chatID, protocol.Media{
		Data:     data,
		MimeType: mimeType,
		Filename: path.Base(locator),
		Caption:  caption,
	})
	if err != nil {
		return nil, protocol.Transport("send media", err)
	}

	// The payload already lives in the media store; point the record at it
	// instead of persisting a second copy.
	if rm.Media == nil {
		rm.Media = &protocol.MediaRef{MimeType: mimeType}
	}
	rm.Media.URL = locator
	rm.Media.Data = nil
	rm.Media.Size = int64(len(data))
	if rm.Media.Caption == "" {
		rm.Media.Caption = caption
	}

	return s.engine.RecordOutbound(account, rm)
}

// MarkRead acknowledges a chat's unread inbound messages on the remote
// side and zeroes the local unread counter. Idempotent: a chat with
// nothing unread only re-runs the local reset.
func (s *Service) MarkRead(ctx context.Context, account, chatID string) error {
	chat, err := s.db.GetChat(account, chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return fmt.Errorf("chat %s: %w", chatID, protocol.ErrChatNotFound)
	}

	if chat.UnreadCount > 0 {
		client, err := s.pool.Acquire(account)
		if err != nil {
			return err
		}
		ids, err := s.db.UnreadInboundMessageIDs(account, chatID, chat.UnreadCount)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := client.MarkSeen(ctx, chatID, ids); err != nil {
				return protocol.Transport("mark seen", err)
			}
		}
	}
	return s.db.ResetChatUnread(account, chatID)
}

// Logout terminates the account's session, invalidating its credentials.
func (s *Service) Logout(ctx context.Context, account string) error {
	return s.pool.Terminate(ctx, account)
}

// exportedMessage is the JSON shape of one exported history entry.
type exportedMessage struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	FromMe    bool            `json:"from_me"`
	Author    string          `json:"author,omitempty"`
	Kind      string          `json:"kind"`
	Body      string          `json:"body"`
	Media     *store.Media    `json:"media,omitempty"`
	Location  *store.Location `json:"location,omitempty"`
	Status    string          `json:"status"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// ExportHistory renders a chat's full history in ascending time order.
// format is "json" or "txt"; the returned string is the content type.
func (s *Service) ExportHistory(account, chatID, format string) ([]byte, string, error) {
	chat, err := s.db.GetChat(account, chatID)
	if err != nil {
		return nil, "", err
	}
	if chat == nil {
		return nil, "", fmt.Errorf("chat %s: %w", chatID, protocol.ErrChatNotFound)
	}
	msgs, err := s.db.ListAllMessages(account, chatID)
	if err != nil {
		return nil, "", err
	}

	switch format {
	case "json":
		out := make([]exportedMessage, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, exportedMessage{
				ID:        m.MsgID,
				Timestamp: time.UnixMilli(m.Timestamp),
				FromMe:    m.FromMe,
				Author:    m.Author,
				Kind:      m.Kind,
				Body:      m.Body,
				Media:     m.Media,
				Location:  m.Location,
				Status:    m.Status,
				Deleted:   m.IsDeleted,
			})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	case "txt":
		var b strings.Builder
		for _, m := range msgs {
			b.WriteString(formatTextLine(&m))
			b.WriteByte('\n')
		}
		return []byte(b.String()), "text/plain; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("%q: %w", format, protocol.ErrUnsupportedExportFormat)
	}
}

func formatTextLine(m *store.Message) string {
	who := "You"
	if !m.FromMe {
		who = m.Author
		if who == "" {
			who = m.AuthorID
		}
	}
	body := m.Body
	if m.IsDeleted {
		body = "(deleted)"
	} else if body == "" && m.Media != nil {
		body = "(" + m.Kind + ": " + m.Media.URL + ")"
	} else if body == "" && m.Location != nil {
		body = fmt.Sprintf("(location: %.6f, %.6f)", m.Location.Latitude, m.Location.Longitude)
	}
	ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
	return fmt.Sprintf("[%s] %s: %s", ts, who, body)
}
