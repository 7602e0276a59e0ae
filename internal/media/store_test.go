package media

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/wappdesk/wappdesk/internal/protocol"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := testStore(t)
	payload := []byte("fake image bytes")

	locator, size, err := s.Put("+5511999990000", payload, "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", size, len(payload))
	}
	if !strings.HasPrefix(locator, "+5511999990000/") {
		t.Errorf("locator = %q, want account prefix", locator)
	}
	if !strings.HasSuffix(locator, ".jpg") {
		t.Errorf("locator = %q, want .jpg", locator)
	}

	data, mimeType, err := s.Get(locator)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("payload mismatch")
	}
	if mimeType != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg", mimeType)
	}
}

func TestPutUnknownMimeFallsBack(t *testing.T) {
	s := testStore(t)
	locator, _, err := s.Put("+551199", []byte("x"), "application/x-unheard-of")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(locator, ".bin") {
		t.Errorf("locator = %q, want .bin fallback", locator)
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	_, _, err := s.Get("+551199/00000000-0000-0000-0000-000000000000.jpg")
	if !errors.Is(err, protocol.ErrMediaNotFound) {
		t.Errorf("err = %v, want ErrMediaNotFound", err)
	}
}

func TestGetDirectoryLocator(t *testing.T) {
	s := testStore(t)
	if _, _, err := s.Put("+551199", []byte("x"), "image/png"); err != nil {
		t.Fatal(err)
	}

	// A bare account id points at the namespace directory, not a file.
	_, _, err := s.Get("+551199")
	if !errors.Is(err, protocol.ErrInvalidMediaLocator) {
		t.Errorf("err = %v, want ErrInvalidMediaLocator", err)
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	s := testStore(t)
	bad := []string{
		"",
		"..",
		"../etc/passwd",
		"+551199/../../etc/passwd",
		"/etc/passwd",
		"+551199\\..\\secret",
		"+551199",
		"+551199/",
		"+551199/a/b.jpg",
	}
	for _, locator := range bad {
		if _, err := s.Path(locator); !errors.Is(err, protocol.ErrInvalidMediaLocator) {
			t.Errorf("Path(%q) = %v, want ErrInvalidMediaLocator", locator, err)
		}
	}
}
