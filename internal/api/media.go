package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wappdesk/wappdesk/internal/session"
)

// maxUploadBytes caps a single attachment upload.
const maxUploadBytes = 64 << 20

// handleUploadMedia accepts a multipart upload and stages it in the
// media store. The returned locator is what the send endpoint takes.
func (a *API) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if err := session.ValidateAccount(account); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "multipart field 'file' required")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	locator, size, err := a.media.Put(account, data, mimeType)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"media_id":  locator,
		"mime_type": mimeType,
		"size":      size,
		"filename":  header.Filename,
	})
}

// handleServeMedia serves a stored attachment by locator.
func (a *API) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	locator := chi.URLParam(r, "*")
	full, err := a.media.Path(locator)
	if err != nil {
		a.httpError(w, err)
		return
	}
	http.ServeFile(w, r, full)
}
