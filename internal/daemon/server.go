package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wappdesk/wappdesk/internal/api"
	"github.com/wappdesk/wappdesk/internal/command"
	"github.com/wappdesk/wappdesk/internal/config"
	"github.com/wappdesk/wappdesk/internal/media"
	"github.com/wappdesk/wappdesk/internal/session"
	"github.com/wappdesk/wappdesk/internal/store"
	enginesync "github.com/wappdesk/wappdesk/internal/sync"
	"github.com/wappdesk/wappdesk/internal/ws"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the listen address and mounts the API router. Binding
// happens here so a taken port fails startup instead of the first request.
func NewServer(cfg *config.Config, logger *zap.Logger, pool *session.Pool,
	engine *enginesync.Engine, commands *command.Service, m *media.Store,
	db *store.DB, hub *ws.Hub) (*Server, error) {

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	handler := api.NewRouter(pool, engine, commands, m, db, hub, logger)
	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.Addr()))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
