package store

import "encoding/json"

// Session status values, driven by the state machine.
const (
	SessionDisconnected  = "disconnected"
	SessionConnecting    = "connecting"
	SessionAuthenticated = "authenticated"
	SessionConnected     = "connected"
	SessionError         = "error"
	SessionLoggedOut     = "logged_out"
)

// Message delivery status values. Outbound messages advance forward only;
// inbound messages are created in the terminal "received" status.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
	StatusReceived  = "received"
)

// StatusRank orders outbound delivery statuses. Unknown statuses rank -1
// so they can never advance a message.
func StatusRank(status string) int {
	switch status {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// Session is the persisted connection state for one account.
type Session struct {
	Account          string
	Name             string
	Status           string
	QRCode           string
	QRIssuedAt       int64
	DevicePlatform   string
	DeviceName       string
	DeviceVersion    string
	MessagesSent     int64
	MessagesReceived int64
	LastMessageAt    int64
	ChatCount        int64
	Active           bool
	LastConnectedAt  int64
	LastError        string
}

// Field is one entry of the ordered CRM key/value metadata.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Chat is one remote conversation, unique per (account, chat id).
type Chat struct {
	Account       string
	ChatID        string
	Name          string
	Phone         string // empty for groups
	AvatarURL     string
	IsGroup       bool
	IsArchived    bool
	IsMuted       bool
	LastMessageAt int64
	LastMessageID string
	UnreadCount   int
	CRMStatus     string // prospect, customer, inactive, other
	Tags          []string
	Fields        []Field
}

// Media describes a message attachment, referenced by locator.
type Media struct {
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	Filename  string `json:"filename,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Location is a shared geographic position attached to a message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Message is one remote message, keyed globally by MsgID.
type Message struct {
	ID            int64
	MsgID         string
	Account       string
	ChatID        string
	Body          string
	Kind          string
	FromMe        bool
	Author        string
	AuthorID      string
	Timestamp     int64
	Status        string
	IsDeleted     bool
	QuotedID      string
	QuotedPreview string
	Media         *Media
	Location      *Location
}

// Contact is one address-book entry, unique per (account, phone).
type Contact struct {
	Account   string
	Phone     string
	JID       string
	Name      string
	IsGroup   bool
	IsKnown   bool
	CRMStatus string
	Tags      []string
	Fields    []Field
	UpdatedAt int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}

func encodeJSON(v any) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeTags(s string) []string {
	var tags []string
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &tags)
	return tags
}

func decodeFields(s string) []Field {
	var fields []Field
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &fields)
	return fields
}
