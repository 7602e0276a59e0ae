// Package ws streams bus events to WebSocket clients. Each connection
// subscribes to one account's topic; slow consumers miss events rather
// than stall the publishers.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/wappdesk/wappdesk/internal/bus"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

// Hub upgrades HTTP requests and pumps account-scoped events out.
type Hub struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewHub creates a hub.
func NewHub(b *bus.Bus, logger *zap.Logger) *Hub {
	return &Hub{bus: b, logger: logger}
}

// frame is the wire shape of one pushed event.
type frame struct {
	Kind      string    `json:"kind"`
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Serve upgrades the request and streams the account's events until the
// client disconnects. An empty account streams every topic.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, account string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The daemon fronts local tooling; origins vary.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, cancel := h.bus.Subscribe(account, "", subscriberBuffer)
	defer cancel()

	// Inbound frames are not part of the protocol; CloseRead surfaces the
	// client going away as context cancellation.
	ctx := conn.CloseRead(r.Context())

	h.logger.Info("websocket subscriber connected", zap.String("account", account))
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket subscriber gone", zap.String("account", account))
			return
		case evt := <-events:
			writeCtx, cancelWrite := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, frame{
				Kind:      evt.Kind,
				Account:   evt.Account,
				Timestamp: evt.Timestamp,
				Payload:   evt.Payload,
			})
			cancelWrite()
			if err != nil {
				h.logger.Warn("websocket write failed",
					zap.String("account", account), zap.Error(err))
				return
			}
		}
	}
}
