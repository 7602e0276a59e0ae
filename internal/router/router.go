// Package router translates raw protocol client callbacks into canonical
// domain events: it drives the session state machine, hands content
// events to the sync engine, and fans results out on the bus. Events for
// one account are processed strictly in emission order on a dedicated
// worker; accounts never block each other.
package router

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/wappdesk/wappdesk/internal/bus"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"github.com/wappdesk/wappdesk/internal/session"
	enginesync "github.com/wappdesk/wappdesk/internal/sync"
	"go.uber.org/zap"
)

// queueSize bounds the per-account callback queue. The protocol client
// blocks when it fills, which keeps ordering without unbounded memory.
const queueSize = 256

// Router binds protocol callbacks for each account.
type Router struct {
	engine *enginesync.Engine
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// New creates a router.
func New(engine *enginesync.Engine, b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{
		engine:  engine,
		bus:     b,
		logger:  logger,
		workers: make(map[string]*worker),
	}
}

type worker struct {
	jobs chan func()
	done chan struct{}
}

func newWorker() *worker {
	w := &worker{
		jobs: make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for job := range w.jobs {
			job()
		}
	}()
	return w
}

func (w *worker) enqueue(job func()) {
	defer func() {
		// Sends on a released worker are dropped, not crashed on: the
		// client may emit a trailing callback during eviction.
		_ = recover()
	}()
	w.jobs <- job
}

// Bind creates the serialized worker for an account and returns the
// handler the client will invoke. evict removes the client from the pool
// and is called on transport loss and auth failure.
func (r *Router) Bind(account string, m *session.Machine, evict func()) protocol.Handler {
	r.mu.Lock()
	if old, ok := r.workers[account]; ok {
		close(old.jobs)
	}
	w := newWorker()
	r.workers[account] = w
	r.mu.Unlock()

	return protocol.Handler{
		QR: func(code string) {
			w.enqueue(func() { r.onQR(account, m, code) })
		},
		Authenticated: func() {
			w.enqueue(func() { r.onAuthenticated(account, m) })
		},
		Ready: func(device protocol.DeviceInfo) {
			w.enqueue(func() { r.onReady(account, m, device) })
		},
		Disconnected: func(reason string) {
			w.enqueue(func() { r.onDisconnected(account, m, evict, reason) })
		},
		AuthFailure: func(message string) {
			w.enqueue(func() { r.onAuthFailure(account, m, evict, message) })
		},
		Message: func(msg protocol.RemoteMessage) {
			w.enqueue(func() { r.onMessage(account, msg) })
		},
		Ack: func(messageID, status string) {
			w.enqueue(func() { r.onAck(account, messageID, status) })
		},
	}
}

// Release stops the account's worker after draining queued callbacks.
func (r *Router) Release(account string) {
	r.mu.Lock()
	w, ok := r.workers[account]
	if ok {
		delete(r.workers, account)
	}
	r.mu.Unlock()
	if ok {
		close(w.jobs)
		<-w.done
	}
}

func (r *Router) onQR(account string, m *session.Machine, code string) {
	// Render the raw pairing payload into a scannable image for clients.
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		r.logger.Error("QR encode failed", zap.String("account", account), zap.Error(err))
		return
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	m.SetQR(dataURL)
	r.publish("qr", account, map[string]string{"qr": dataURL})
	r.logger.Info("QR issued", zap.String("account", account))
}

func (r *Router) onAuthenticated(account string, m *session.Machine) {
	if err := m.Transition(session.Authenticated); err != nil {
		// Redundant authentication callbacks (e.g. on reconnect) are benign.
		return
	}
	r.publish("authenticated", account, nil)
	r.logger.Info("session authenticated", zap.String("account", account))
}

func (r *Router) onReady(account string, m *session.Machine, device protocol.DeviceInfo) {
	m.SetDevice(device)
	if err := m.Transition(session.Connected); err != nil {
		r.logger.Warn("ready in unexpected state",
			zap.String("account", account), zap.String("state", string(m.Current())))
		return
	}
	r.publish("ready", account, map[string]string{
		"platform": device.Platform,
		"name":     device.Name,
		"version":  device.Version,
	})
	r.logger.Info("session ready", zap.String("account", account))

	// Reconcile the chat list right after connecting.
	if _, err := r.engine.SyncAllChats(context.Background(), account); err != nil {
		r.logger.Error("post-connect chat sync failed",
			zap.String("account", account), zap.Error(err))
	}
}

func (r *Router) onDisconnected(account string, m *session.Machine, evict func(), reason string) {
	evict()
	if err := m.Transition(session.Disconnected); err == nil {
		r.publish("disconnected", account, map[string]string{"reason": reason})
	}
	r.logger.Warn("session disconnected", zap.String("account", account), zap.String("reason", reason))
}

func (r *Router) onAuthFailure(account string, m *session.Machine, evict func(), message string) {
	evict()
	m.Fail(message)
	r.publish("auth_failure", account, map[string]string{"error": message})
	r.logger.Error("authentication failed", zap.String("account", account), zap.String("error", message))
}

func (r *Router) onMessage(account string, rm protocol.RemoteMessage) {
	if rm.FromMe {
		// Own messages are recorded by the send path; echoes from other
		// linked devices still need to land in storage.
		if _, err := r.engine.RecordOutbound(account, rm); err != nil {
			r.logger.Error("record outbound echo failed",
				zap.String("account", account), zap.String("msg", rm.ID), zap.Error(err))
		}
		return
	}
	if _, err := r.engine.RecordInbound(account, rm); err != nil {
		r.logger.Error("record inbound failed",
			zap.String("account", account), zap.String("msg", rm.ID), zap.Error(err))
	}
}

func (r *Router) onAck(account, messageID, status string) {
	if _, err := r.engine.ApplyDeliveryAck(account, messageID, status); err != nil {
		r.logger.Error("apply delivery ack failed",
			zap.String("account", account), zap.String("msg", messageID), zap.Error(err))
	}
}

func (r *Router) publish(kind, account string, payload any) {
	r.bus.Publish(bus.Event{
		Kind:      kind,
		Account:   account,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
