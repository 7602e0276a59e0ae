package wa

import (
	"testing"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestDetectKind(t *testing.T) {
	cases := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, "contact"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, "location"},
		{"empty", &waE2E.Message{}, "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectKind(tc.msg); got != tc.want {
				t.Errorf("detectKind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractBody(t *testing.T) {
	cases := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("plain")}, "plain"},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("linked")}}, "linked"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look"},
		{"document caption", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("report")}}, "report"},
		{"location name", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{Name: proto.String("Office")}}, "Office"},
		{"empty", &waE2E.Message{}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractBody(tc.msg); got != tc.want {
				t.Errorf("extractBody = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractQuoted(t *testing.T) {
	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String("replying"),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:    proto.String("orig1"),
				Participant: proto.String("123@s.whatsapp.net"),
				QuotedMessage: &waE2E.Message{
					Conversation: proto.String("original text"),
				},
			},
		},
	}

	q := extractQuoted(msg)
	if q == nil {
		t.Fatal("expected a quoted summary")
	}
	if q.ID != "orig1" || q.Body != "original text" || q.Kind != "text" {
		t.Errorf("quoted = %+v", q)
	}
	if q.Author != "123@s.whatsapp.net" {
		t.Errorf("author = %q", q.Author)
	}

	if q := extractQuoted(&waE2E.Message{Conversation: proto.String("plain")}); q != nil {
		t.Errorf("plain message: quoted = %+v, want nil", q)
	}
}

func TestExtractLocation(t *testing.T) {
	msg := &waE2E.Message{
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(-23.55),
			DegreesLongitude: proto.Float64(-46.63),
			Address:          proto.String("São Paulo"),
		},
	}

	loc := extractLocation(msg)
	if loc == nil {
		t.Fatal("expected a location")
	}
	if loc.Latitude != -23.55 || loc.Longitude != -46.63 || loc.Address != "São Paulo" {
		t.Errorf("location = %+v", loc)
	}

	if loc := extractLocation(&waE2E.Message{}); loc != nil {
		t.Errorf("no location message: got %+v", loc)
	}
}

func TestToJID(t *testing.T) {
	jid, err := toJID("5511999990000@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if jid.User != "5511999990000" {
		t.Errorf("user = %q", jid.User)
	}

	// Bare phone numbers default to the user server.
	bare, err := toJID("5511999990000")
	if err != nil {
		t.Fatal(err)
	}
	if bare.Server != "s.whatsapp.net" {
		t.Errorf("server = %q, want s.whatsapp.net", bare.Server)
	}

	group, err := toJID("123456-789@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if group.Server != "g.us" {
		t.Errorf("server = %q, want g.us", group.Server)
	}

	if _, err := toJID(""); err == nil {
		t.Error("empty id should fail")
	}
}

func TestUploadType(t *testing.T) {
	cases := map[string]whatsmeow.MediaType{
		"image":    whatsmeow.MediaImage,
		"video":    whatsmeow.MediaVideo,
		"audio":    whatsmeow.MediaAudio,
		"document": whatsmeow.MediaDocument,
		"sticker":  whatsmeow.MediaDocument,
	}
	for kind, want := range cases {
		if got := uploadType(kind); got != want {
			t.Errorf("uploadType(%q) = %v, want %v", kind, got, want)
		}
	}
}
