package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wappdesk/wappdesk/internal/store"
)

type chatDTO struct {
	ChatID        string        `json:"chat_id"`
	Name          string        `json:"name"`
	Phone         string        `json:"phone,omitempty"`
	AvatarURL     string        `json:"avatar_url,omitempty"`
	IsGroup       bool          `json:"is_group"`
	IsArchived    bool          `json:"is_archived"`
	IsMuted       bool          `json:"is_muted"`
	LastMessageAt *time.Time    `json:"last_message_at,omitempty"`
	LastMessageID string        `json:"last_message_id,omitempty"`
	UnreadCount   int           `json:"unread_count"`
	CRMStatus     string        `json:"crm_status,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	Fields        []store.Field `json:"fields,omitempty"`
}

func toChatDTO(c *store.Chat) chatDTO {
	dto := chatDTO{
		ChatID:        c.ChatID,
		Name:          c.Name,
		Phone:         c.Phone,
		AvatarURL:     c.AvatarURL,
		IsGroup:       c.IsGroup,
		IsArchived:    c.IsArchived,
		IsMuted:       c.IsMuted,
		LastMessageID: c.LastMessageID,
		UnreadCount:   c.UnreadCount,
		CRMStatus:     c.CRMStatus,
		Tags:          c.Tags,
		Fields:        c.Fields,
	}
	if c.LastMessageAt > 0 {
		t := time.UnixMilli(c.LastMessageAt)
		dto.LastMessageAt = &t
	}
	return dto
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (a *API) handleListChats(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	search := r.URL.Query().Get("search")

	chats, err := a.db.ListChats(account, limit, offset, search)
	if err != nil {
		a.httpError(w, err)
		return
	}
	total, err := a.db.CountChats(account, search)
	if err != nil {
		a.httpError(w, err)
		return
	}

	out := make([]chatDTO, 0, len(chats))
	for i := range chats {
		out = append(out, toChatDTO(&chats[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chats":  out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) handleGetChat(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	chat, err := a.db.GetChat(account, chatParam(r))
	if err != nil {
		a.httpError(w, err)
		return
	}
	if chat == nil {
		writeErr(w, http.StatusNotFound, "unknown chat")
		return
	}
	writeJSON(w, http.StatusOK, toChatDTO(chat))
}

// crmStatuses are the accepted CRM pipeline stages.
var crmStatuses = map[string]bool{
	"":         true,
	"prospect": true,
	"customer": true,
	"inactive": true,
	"other":    true,
}

type updateCRMReq struct {
	CRMStatus *string        `json:"crm_status"`
	Tags      *[]string      `json:"tags"`
	Fields    *[]store.Field `json:"fields"`
}

func (a *API) handleUpdateChatCRM(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	chatID := chatParam(r)

	var req updateCRMReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	chat, err := a.db.GetChat(account, chatID)
	if err != nil {
		a.httpError(w, err)
		return
	}
	if chat == nil {
		writeErr(w, http.StatusNotFound, "unknown chat")
		return
	}

	// Absent fields keep their current value.
	status := chat.CRMStatus
	if req.CRMStatus != nil {
		status = *req.CRMStatus
	}
	if !crmStatuses[status] {
		writeErr(w, http.StatusBadRequest, "invalid crm_status")
		return
	}
	tags := chat.Tags
	if req.Tags != nil {
		tags = *req.Tags
	}
	fields := chat.Fields
	if req.Fields != nil {
		fields = *req.Fields
	}

	if err := a.db.UpdateChatCRM(account, chatID, status, tags, fields); err != nil {
		a.httpError(w, err)
		return
	}
	updated, err := a.db.GetChat(account, chatID)
	if err != nil || updated == nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatDTO(updated))
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	chatID := chatParam(r)
	if err := a.commands.MarkRead(r.Context(), account, chatID); err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "unread_count": 0})
}

type contactDTO struct {
	Phone   string `json:"phone"`
	JID     string `json:"jid,omitempty"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"is_group"`
	IsKnown bool   `json:"is_known"`
}

func (a *API) handleListContacts(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	search := r.URL.Query().Get("search")

	contacts, err := a.db.ListContacts(account, limit, offset, search)
	if err != nil {
		a.httpError(w, err)
		return
	}
	total, err := a.db.CountContacts(account, search)
	if err != nil {
		a.httpError(w, err)
		return
	}

	out := make([]contactDTO, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactDTO{
			Phone:   c.Phone,
			JID:     c.JID,
			Name:    c.Name,
			IsGroup: c.IsGroup,
			IsKnown: c.IsKnown,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contacts": out,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}
