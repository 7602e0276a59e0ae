// Package media is a file-backed store for message attachments. Files
// live under an account-scoped namespace and are addressed by a stable
// relative locator ("<account>/<uuid>.<ext>").
package media

import (
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/wappdesk/wappdesk/internal/protocol"
)

// Store persists attachment payloads on disk.
type Store struct {
	root string
}

// New creates a media store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// extByMime maps common attachment types directly; mime.ExtensionsByType
// is platform-dependent and can pick odd aliases (e.g. ".jpe").
var extByMime = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"application/pdf": ".pdf",
}

func extensionFor(mimeType string) string {
	if ext, ok := extByMime[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// Put writes a payload under the account's namespace and returns its
// locator and size. The namespace directory is created on first use.
func (s *Store) Put(account string, data []byte, mimeType string) (string, int64, error) {
	if account == "" {
		return "", 0, protocol.ErrInvalidMediaLocator
	}
	dir := filepath.Join(s.root, account)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", 0, fmt.Errorf("create account media dir: %w", err)
	}

	filename := uuid.NewString() + extensionFor(mimeType)
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0600); err != nil {
		return "", 0, fmt.Errorf("write media file: %w", err)
	}
	return path.Join(account, filename), int64(len(data)), nil
}

// Get reads back the payload for a locator along with its MIME type
// (derived from the stored extension). Unknown locators fail with
// ErrMediaNotFound; locators escaping the managed namespace fail with
// ErrInvalidMediaLocator.
func (s *Store) Get(locator string) ([]byte, string, error) {
	full, err := s.Path(locator)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, "", fmt.Errorf("%q: %w", locator, protocol.ErrMediaNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(full))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

// Path validates a locator and maps it to its absolute file path. A
// locator is always "<account>/<file>"; anything else, including path
// traversal out of the media root, is rejected.
func (s *Store) Path(locator string) (string, error) {
	if locator == "" || strings.ContainsRune(locator, '\\') || path.IsAbs(locator) {
		return "", fmt.Errorf("%q: %w", locator, protocol.ErrInvalidMediaLocator)
	}
	clean := path.Clean(locator)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%q: %w", locator, protocol.ErrInvalidMediaLocator)
	}
	segs := strings.Split(clean, "/")
	if len(segs) != 2 || segs[0] == "" || segs[1] == "" {
		return "", fmt.Errorf("%q: %w", locator, protocol.ErrInvalidMediaLocator)
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", locator, protocol.ErrInvalidMediaLocator)
	}
	return full, nil
}
