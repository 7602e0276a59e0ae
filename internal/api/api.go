// Package api exposes the daemon's control surface over HTTP: session
// lifecycle, chat and message queries, CRM metadata, media transfer and
// the WebSocket event stream.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wappdesk/wappdesk/internal/command"
	"github.com/wappdesk/wappdesk/internal/media"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"github.com/wappdesk/wappdesk/internal/session"
	"github.com/wappdesk/wappdesk/internal/store"
	enginesync "github.com/wappdesk/wappdesk/internal/sync"
	"github.com/wappdesk/wappdesk/internal/ws"
	"go.uber.org/zap"
)

// API holds the handler dependencies.
type API struct {
	pool     *session.Pool
	engine   *enginesync.Engine
	commands *command.Service
	media    *media.Store
	db       *store.DB
	hub      *ws.Hub
	logger   *zap.Logger
}

// NewRouter builds the chi router with all routes mounted.
func NewRouter(pool *session.Pool, engine *enginesync.Engine, commands *command.Service,
	m *media.Store, db *store.DB, hub *ws.Hub, logger *zap.Logger) *chi.Mux {

	a := &API{
		pool:     pool,
		engine:   engine,
		commands: commands,
		media:    m,
		db:       db,
		hub:      hub,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors)

	r.Get("/api/health", a.handleHealth)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", a.handleListSessions)
		r.Post("/", a.handleCreateSession)
		r.Route("/{account}", func(r chi.Router) {
			r.Get("/", a.handleGetSession)
			r.Delete("/", a.handleLogout)
			r.Post("/sync/chats", a.handleSyncChats)
			r.Post("/sync/contacts", a.handleSyncContacts)

			r.Get("/chats", a.handleListChats)
			r.Get("/chats/{chatID}", a.handleGetChat)
			r.Patch("/chats/{chatID}", a.handleUpdateChatCRM)
			r.Post("/chats/{chatID}/read", a.handleMarkRead)
			r.Get("/chats/{chatID}/messages", a.handleListMessages)
			r.Get("/chats/{chatID}/export", a.handleExport)

			r.Post("/messages/text", a.handleSendText)
			r.Post("/messages/media", a.handleSendMedia)

			r.Get("/search", a.handleSearch)
			r.Get("/contacts", a.handleListContacts)
		})
	})

	r.Post("/api/media/{account}", a.handleUploadMedia)
	r.Get("/media/*", a.handleServeMedia)

	r.Get("/ws", a.handleWS)
	r.Get("/ws/{account}", a.handleWS)

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().Format(time.RFC3339),
	})
}

func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	a.hub.Serve(w, r, chi.URLParam(r, "account"))
}

// chatParam returns the decoded chat id path segment.
func chatParam(r *http.Request) string {
	raw := chi.URLParam(r, "chatID")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	// Encode failures at this point are broken client connections; the
	// status line is already out.
	_ = enc.Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// httpError maps domain errors onto status codes.
func (a *API) httpError(w http.ResponseWriter, err error) {
	var te *protocol.TransportError
	switch {
	case errors.Is(err, protocol.ErrNotConnected):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, protocol.ErrChatNotFound),
		errors.Is(err, protocol.ErrContactNotFound),
		errors.Is(err, protocol.ErrMediaNotFound),
		errors.Is(err, sql.ErrNoRows):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, protocol.ErrInvalidMediaLocator),
		errors.Is(err, protocol.ErrUnsupportedExportFormat),
		errors.Is(err, protocol.ErrEmptyMessageBody):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, protocol.ErrInitializationFailed), errors.As(err, &te):
		writeErr(w, http.StatusBadGateway, err.Error())
	default:
		a.logger.Error("request failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
