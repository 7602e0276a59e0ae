package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wappdesk/wappdesk/internal/store"
)

type messageDTO struct {
	MsgID         string          `json:"msg_id"`
	ChatID        string          `json:"chat_id"`
	Body          string          `json:"body"`
	Kind          string          `json:"kind"`
	FromMe        bool            `json:"from_me"`
	Author        string          `json:"author,omitempty"`
	AuthorID      string          `json:"author_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        string          `json:"status"`
	IsDeleted     bool            `json:"is_deleted,omitempty"`
	QuotedID      string          `json:"quoted_id,omitempty"`
	QuotedPreview string          `json:"quoted_preview,omitempty"`
	Media         *store.Media    `json:"media,omitempty"`
	Location      *store.Location `json:"location,omitempty"`
}

func toMessageDTO(m *store.Message) messageDTO {
	return messageDTO{
		MsgID:         m.MsgID,
		ChatID:        m.ChatID,
		Body:          m.Body,
		Kind:          m.Kind,
		FromMe:        m.FromMe,
		Author:        m.Author,
		AuthorID:      m.AuthorID,
		Timestamp:     time.UnixMilli(m.Timestamp),
		Status:        m.Status,
		IsDeleted:     m.IsDeleted,
		QuotedID:      m.QuotedID,
		QuotedPreview: m.QuotedPreview,
		Media:         m.Media,
		Location:      m.Location,
	}
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	chatID := chatParam(r)
	limit := queryInt(r, "limit", 50)
	before := int64(queryInt(r, "before", 0))

	msgs, err := a.db.ListMessages(account, chatID, before, limit)
	if err != nil {
		a.httpError(w, err)
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageDTO(&msgs[i]))
	}

	// Cursor for the next (older) page.
	var nextBefore int64
	if len(msgs) == limit {
		nextBefore = msgs[len(msgs)-1].Timestamp
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":    out,
		"next_before": nextBefore,
	})
}

type sendTextReq struct {
	ChatID string `json:"chat_id"`
	Body   string `json:"body"`
}

func (a *API) handleSendText(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var req sendTextReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ChatID == "" || req.Body == "" {
		writeErr(w, http.StatusBadRequest, "chat_id and body required")
		return
	}

	msg, err := a.commands.SendText(r.Context(), account, req.ChatID, req.Body)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageDTO(msg))
}

type sendMediaReq struct {
	ChatID  string `json:"chat_id"`
	MediaID string `json:"media_id"`
	Caption string `json:"caption"`
}

func (a *API) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var req sendMediaReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ChatID == "" || req.MediaID == "" {
		writeErr(w, http.StatusBadRequest, "chat_id and media_id required")
		return
	}

	msg, err := a.commands.SendMedia(r.Context(), account, req.ChatID, req.MediaID, req.Caption)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageDTO(msg))
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeErr(w, http.StatusBadRequest, "q required")
		return
	}
	chatID := r.URL.Query().Get("chat_id")
	limit := queryInt(r, "limit", 50)

	results, err := a.db.SearchMessages(account, query, chatID, limit)
	if err != nil {
		a.httpError(w, err)
		return
	}

	type hit struct {
		Message messageDTO `json:"message"`
		Snippet string     `json:"snippet"`
	}
	out := make([]hit, 0, len(results))
	for i := range results {
		out = append(out, hit{
			Message: toMessageDTO(&results[i].Message),
			Snippet: results[i].Snippet,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	chatID := chatParam(r)
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, contentType, err := a.commands.ExportHistory(account, chatID, format)
	if err != nil {
		a.httpError(w, err)
		return
	}

	filename := fmt.Sprintf("chat-%s.%s", time.Now().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
