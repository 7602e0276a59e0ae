package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wappdesk/wappdesk/internal/store"
)

type deviceDTO struct {
	Platform string `json:"platform,omitempty"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
}

type statsDTO struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	ChatCount        int64 `json:"chat_count"`
}

type sessionDTO struct {
	Account         string     `json:"account"`
	Name            string     `json:"name,omitempty"`
	Status          string     `json:"status"`
	QRCode          string     `json:"qr_code,omitempty"`
	QRIssuedAt      *time.Time `json:"qr_issued_at,omitempty"`
	Device          *deviceDTO `json:"device,omitempty"`
	Stats           statsDTO   `json:"stats"`
	Active          bool       `json:"active"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

func toSessionDTO(s *store.Session, includeQR bool) sessionDTO {
	dto := sessionDTO{
		Account:   s.Account,
		Name:      s.Name,
		Status:    s.Status,
		Active:    s.Active,
		LastError: s.LastError,
		Stats: statsDTO{
			MessagesSent:     s.MessagesSent,
			MessagesReceived: s.MessagesReceived,
			ChatCount:        s.ChatCount,
		},
	}
	// The QR payload is large; only the detail endpoint carries it.
	if includeQR && s.QRCode != "" {
		dto.QRCode = s.QRCode
		t := time.UnixMilli(s.QRIssuedAt)
		dto.QRIssuedAt = &t
	}
	if s.DevicePlatform != "" || s.DeviceName != "" {
		dto.Device = &deviceDTO{
			Platform: s.DevicePlatform,
			Name:     s.DeviceName,
			Version:  s.DeviceVersion,
		}
	}
	if s.LastConnectedAt > 0 {
		t := time.UnixMilli(s.LastConnectedAt)
		dto.LastConnectedAt = &t
	}
	return dto
}

type createSessionReq struct {
	Account string `json:"account"`
	Name    string `json:"name"`
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Account == "" {
		writeErr(w, http.StatusBadRequest, "account required")
		return
	}

	machine, err := a.pool.Initialize(r.Context(), req.Account, req.Name)
	if err != nil {
		a.httpError(w, err)
		return
	}

	sess, err := a.db.GetSession(req.Account)
	if err != nil || sess == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"account": req.Account,
			"status":  string(machine.Current()),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, toSessionDTO(sess, true))
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.db.ListSessions()
	if err != nil {
		a.httpError(w, err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionDTO(&sessions[i], false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	sess, err := a.db.GetSession(account)
	if err != nil {
		a.httpError(w, err)
		return
	}
	if sess == nil {
		writeErr(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess, true))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if err := a.commands.Logout(r.Context(), account); err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account, "status": store.SessionLoggedOut})
}

func (a *API) handleSyncChats(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	count, err := a.engine.SyncAllChats(r.Context(), account)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": count})
}

func (a *API) handleSyncContacts(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	count, err := a.engine.SyncAllContacts(r.Context(), account)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": count})
}
