// Package session owns the per-account lifecycle: the state machine that
// tracks a session's connection status and the pool orchestrating live
// protocol clients.
package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/wappdesk/wappdesk/internal/bus"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"github.com/wappdesk/wappdesk/internal/store"
	"go.uber.org/zap"
)

// State is a session lifecycle state.
type State string

const (
	Disconnected  State = "disconnected"
	Connecting    State = "connecting"
	Authenticated State = "authenticated"
	Connected     State = "connected"
	Failed        State = "error"
	LoggedOut     State = "logged_out"
)

// validTransitions defines allowed state transitions. Failed and
// LoggedOut are terminal until a fresh initialization request moves the
// session back to Connecting.
var validTransitions = map[State][]State{
	Disconnected:  {Connecting, LoggedOut, Failed},
	Connecting:    {Authenticated, Disconnected, Failed},
	Authenticated: {Connected, Disconnected, Failed},
	Connected:     {Authenticated, Disconnected, LoggedOut, Failed},
	Failed:        {Connecting},
	LoggedOut:     {Connecting},
}

// Machine tracks and enforces one account's lifecycle transitions,
// persisting every change and publishing it on the bus.
type Machine struct {
	mu      sync.RWMutex
	account string
	current State
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewMachine creates a state machine for an account starting in the
// given state (the persisted status, or Disconnected for new sessions).
func NewMachine(account string, initial State, db *store.DB, b *bus.Bus, logger *zap.Logger) *Machine {
	if initial == "" {
		initial = Disconnected
	}
	return &Machine{
		account: account,
		current: initial,
		db:      db,
		bus:     b,
		logger:  logger,
	}
}

// Account returns the owning account id.
func (m *Machine) Account() string { return m.account }

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state, persisting it and
// publishing a session.status_changed event. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if err := m.db.SetSessionStatus(m.account, string(to), ""); err != nil {
		m.logger.Error("persist status failed", zap.String("account", m.account), zap.Error(err))
	}
	m.publish(StatusChange{From: from, To: to})
	return nil
}

// Fail records an unrecoverable failure: any state may move to Failed,
// and the error message is persisted on the session.
func (m *Machine) Fail(message string) {
	m.mu.Lock()
	from := m.current
	m.current = Failed
	m.mu.Unlock()

	if err := m.db.SetSessionStatus(m.account, store.SessionError, message); err != nil {
		m.logger.Error("persist error status failed", zap.String("account", m.account), zap.Error(err))
	}
	m.publish(StatusChange{From: from, To: Failed, Error: message})
}

// SetQR stores a freshly issued QR payload without changing state. A new
// QR supersedes the previous one.
func (m *Machine) SetQR(qr string) {
	if err := m.db.SetSessionQR(m.account, qr); err != nil {
		m.logger.Error("persist QR failed", zap.String("account", m.account), zap.Error(err))
	}
}

// SetDevice records the linked device descriptor.
func (m *Machine) SetDevice(info protocol.DeviceInfo) {
	if err := m.db.SetSessionDevice(m.account, info.Platform, info.Name, info.Version); err != nil {
		m.logger.Error("persist device info failed", zap.String("account", m.account), zap.Error(err))
	}
}

func (m *Machine) publish(change StatusChange) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      "session.status_changed",
		Account:   m.account,
		Timestamp: time.Now(),
		Payload:   change,
	})
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From  State  `json:"from"`
	To    State  `json:"to"`
	Error string `json:"error,omitempty"`
}
