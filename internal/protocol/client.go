// Package protocol defines the boundary to the underlying messaging
// network: a narrow client interface, the normalized payloads it emits,
// and the error taxonomy shared by the layers built on top of it.
package protocol

import (
	"context"
	"strings"
	"time"
)

// DeviceInfo describes the remote device a session is linked to.
type DeviceInfo struct {
	Platform string
	Name     string
	Version  string
}

// RemoteChat is a conversation as reported by the remote network.
type RemoteChat struct {
	ID            string // remote chat identifier (JID)
	Name          string
	Phone         string // empty for groups
	AvatarURL     string
	IsGroup       bool
	IsArchived    bool
	IsMuted       bool
	LastMessageAt time.Time
}

// RemoteContact is an address-book entry as reported by the remote network.
type RemoteContact struct {
	ID      string // remote identifier (JID)
	Phone   string
	Name    string
	IsGroup bool
	IsKnown bool // true if present in the device's own contact list
}

// QuotedSummary is a compact reference to a quoted message.
type QuotedSummary struct {
	ID     string
	Body   string
	Kind   string
	Author string
}

// MediaRef describes an attachment carried by a message. Data holds the
// raw payload for inbound attachments that were downloaded; the sync
// engine persists it and replaces it with a locator.
type MediaRef struct {
	URL       string
	MimeType  string
	Filename  string
	Size      int64
	Duration  int
	Caption   string
	Thumbnail string
	Data      []byte
}

// Location is a shared geographic position.
type Location struct {
	Latitude  float64
	Longitude float64
	Address   string
}

// RemoteMessage is a message normalized from the wire representation.
type RemoteMessage struct {
	ID        string // remote message identifier, globally unique
	ChatID    string
	Body      string
	Kind      string // text, image, video, audio, document, location, contact, sticker, call, system, deleted
	FromMe    bool
	Author    string // display name
	AuthorID  string // remote identifier
	Timestamp time.Time
	Quoted    *QuotedSummary
	Media     *MediaRef
	Location  *Location
}

// Media is an outbound attachment handed to SendMedia.
type Media struct {
	Data     []byte
	MimeType string
	Filename string
	Caption  string
}

// Handler carries the callbacks a client invokes on lifecycle and content
// events. Nil funcs are skipped. Callbacks for one account are always
// invoked in emission order.
type Handler struct {
	QR            func(code string)
	Authenticated func()
	Ready         func(device DeviceInfo)
	Disconnected  func(reason string)
	AuthFailure   func(message string)
	Message       func(msg RemoteMessage)
	Ack           func(messageID, status string)
}

// Client is the capability set this service needs from a connection to
// the remote messaging network. Implementations must be safe for the
// serialized per-account call pattern the orchestrator guarantees.
type Client interface {
	// Start begins the connect/login flow. For unauthenticated sessions it
	// triggers QR issuance through the handler.
	Start(ctx context.Context) error
	// Logout invalidates the stored credentials on the remote side.
	Logout(ctx context.Context) error
	// Disconnect tears down the transport without invalidating credentials.
	Disconnect()

	SendText(ctx context.Context, to, body string) (RemoteMessage, error)
	SendMedia(ctx context.Context, to string, media Media) (RemoteMessage, error)
	// MarkSeen reports the given messages of a chat as read.
	MarkSeen(ctx context.Context, chatID string, messageIDs []string) error

	FetchChats(ctx context.Context) ([]RemoteChat, error)
	FetchContacts(ctx context.Context) ([]RemoteContact, error)
}

// Factory constructs a client for an account with its callbacks registered.
type Factory func(ctx context.Context, account string, h Handler) (Client, error)

// KindFromMime maps an attachment MIME type to a message content kind.
func KindFromMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}
