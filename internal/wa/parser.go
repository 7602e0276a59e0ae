package wa

import (
	"context"

	"github.com/wappdesk/wappdesk/internal/protocol"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// parseMessage normalizes a live message event. Returns false for
// payloads that carry no renderable content (protocol bookkeeping,
// reactions, empty envelopes).
func (c *client) parseMessage(evt *events.Message) (protocol.RemoteMessage, bool) {
	msg := evt.Message
	if msg == nil {
		return protocol.RemoteMessage{}, false
	}
	// Ephemeral wrappers carry the real payload one level down.
	if eph := msg.GetEphemeralMessage(); eph != nil && eph.GetMessage() != nil {
		msg = eph.GetMessage()
	}
	if msg.GetProtocolMessage() != nil || msg.GetReactionMessage() != nil {
		return protocol.RemoteMessage{}, false
	}

	kind := detectKind(msg)
	if kind == "unknown" {
		return protocol.RemoteMessage{}, false
	}

	ctx := context.Background()
	chat := c.resolveLID(ctx, evt.Info.Chat)
	sender := c.resolveLID(ctx, evt.Info.Sender)

	rm := protocol.RemoteMessage{
		ID:        evt.Info.ID,
		ChatID:    chat.String(),
		Body:      extractBody(msg),
		Kind:      kind,
		FromMe:    evt.Info.IsFromMe,
		Author:    evt.Info.PushName,
		AuthorID:  sender.ToNonAD().String(),
		Timestamp: evt.Info.Timestamp,
	}
	rm.Quoted = extractQuoted(msg)
	rm.Location = extractLocation(msg)
	rm.Media = c.extractMedia(ctx, msg, kind)
	return rm, true
}

func detectKind(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}

func extractBody(msg *waE2E.Message) string {
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	if contact := msg.GetContactMessage(); contact != nil {
		return contact.GetDisplayName()
	}
	if loc := msg.GetLocationMessage(); loc != nil {
		return loc.GetName()
	}
	return ""
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	default:
		return nil
	}
}

func extractQuoted(msg *waE2E.Message) *protocol.QuotedSummary {
	info := contextInfo(msg)
	if info == nil || info.GetStanzaID() == "" {
		return nil
	}
	q := &protocol.QuotedSummary{
		ID:     info.GetStanzaID(),
		Author: info.GetParticipant(),
	}
	if quoted := info.GetQuotedMessage(); quoted != nil {
		q.Body = extractBody(quoted)
		q.Kind = detectKind(quoted)
	}
	return q
}

func extractLocation(msg *waE2E.Message) *protocol.Location {
	loc := msg.GetLocationMessage()
	if loc == nil {
		return nil
	}
	return &protocol.Location{
		Latitude:  loc.GetDegreesLatitude(),
		Longitude: loc.GetDegreesLongitude(),
		Address:   loc.GetAddress(),
	}
}

// extractMedia describes the attachment and downloads its payload. A
// failed download degrades to metadata only; the message still flows.
func (c *client) extractMedia(ctx context.Context, msg *waE2E.Message, kind string) *protocol.MediaRef {
	var (
		ref          protocol.MediaRef
		downloadable whatsmeow.DownloadableMessage
	)

	switch kind {
	case "image":
		img := msg.GetImageMessage()
		ref = protocol.MediaRef{
			MimeType: img.GetMimetype(),
			Size:     int64(img.GetFileLength()),
			Caption:  img.GetCaption(),
		}
		downloadable = img
	case "video":
		vid := msg.GetVideoMessage()
		ref = protocol.MediaRef{
			MimeType: vid.GetMimetype(),
			Size:     int64(vid.GetFileLength()),
			Duration: int(vid.GetSeconds()),
			Caption:  vid.GetCaption(),
		}
		downloadable = vid
	case "audio":
		aud := msg.GetAudioMessage()
		ref = protocol.MediaRef{
			MimeType: aud.GetMimetype(),
			Size:     int64(aud.GetFileLength()),
			Duration: int(aud.GetSeconds()),
		}
		downloadable = aud
	case "document":
		doc := msg.GetDocumentMessage()
		ref = protocol.MediaRef{
			MimeType: doc.GetMimetype(),
			Size:     int64(doc.GetFileLength()),
			Filename: doc.GetFileName(),
			Caption:  doc.GetCaption(),
		}
		downloadable = doc
	case "sticker":
		stk := msg.GetStickerMessage()
		ref = protocol.MediaRef{
			MimeType: stk.GetMimetype(),
			Size:     int64(stk.GetFileLength()),
		}
		downloadable = stk
	default:
		return nil
	}

	data, err := c.wm.Download(ctx, downloadable)
	if err != nil {
		c.logger.Warn("media download failed", zap.Error(err))
	} else {
		ref.Data = data
	}
	return &ref
}
