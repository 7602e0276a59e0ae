package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/wappdesk/wappdesk/internal/bus"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"github.com/wappdesk/wappdesk/internal/store"
	"go.uber.org/zap"
)

// Binder supplies the event callbacks wired into a freshly constructed
// client. evict removes the client from the pool; implementations call it
// when the transport is lost or authentication fails.
type Binder interface {
	Bind(account string, m *Machine, evict func()) protocol.Handler
	Release(account string)
}

type entry struct {
	client  protocol.Client
	machine *Machine

	// ops serializes every operation against this account's client:
	// command handlers and the event worker never touch it concurrently.
	ops sync.Mutex
}

// Pool owns the table of live protocol clients, one per account. All
// construction and eviction is serialized per account; lookups take only
// a read lock.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	factory protocol.Factory
	binder  Binder
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewPool creates an empty pool. SetBinder must be called before any
// client is initialized.
func NewPool(factory protocol.Factory, db *store.DB, b *bus.Bus, logger *zap.Logger) *Pool {
	return &Pool{
		entries: make(map[string]*entry),
		keys:    make(map[string]*sync.Mutex),
		factory: factory,
		db:      db,
		bus:     b,
		logger:  logger,
	}
}

// SetBinder wires the event router in. Done post-construction because the
// router needs the sync engine, which needs the pool for client lookups.
func (p *Pool) SetBinder(b Binder) {
	p.binder = b
}

// keyLock returns the mutex guarding construction/eviction for one account.
func (p *Pool) keyLock(account string) *sync.Mutex {
	p.keysMu.Lock()
	defer p.keysMu.Unlock()
	l, ok := p.keys[account]
	if !ok {
		l = &sync.Mutex{}
		p.keys[account] = l
	}
	return l
}

// Initialize ensures a live client exists for the account. Idempotent: a
// concurrent or repeated call for the same account returns the existing
// machine without constructing a second client. New sessions are created
// in the store; existing ones are revived from their persisted state.
func (p *Pool) Initialize(ctx context.Context, account, name string) (*Machine, error) {
	if err := ValidateAccount(account); err != nil {
		return nil, err
	}

	lock := p.keyLock(account)
	lock.Lock()
	defer lock.Unlock()

	p.mu.RLock()
	e, ok := p.entries[account]
	p.mu.RUnlock()
	if ok {
		return e.machine, nil
	}

	sess, err := p.db.EnsureSession(account, name)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	if err := p.db.SetSessionActive(account, true); err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}

	machine := NewMachine(account, State(sess.Status), p.db, p.bus, p.logger)
	if err := machine.Transition(Connecting); err != nil {
		// Stale statuses like authenticated can linger after a crash;
		// force through disconnected.
		_ = machine.Transition(Disconnected)
		if err := machine.Transition(Connecting); err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrInitializationFailed, err)
		}
	}

	handler := p.binder.Bind(account, machine, func() {
		p.remove(account)
		// The worker invokes evict from its own goroutine; draining it
		// synchronously here would deadlock, so stop it off to the side.
		go p.binder.Release(account)
	})

	client, err := p.factory(ctx, account, handler)
	if err != nil {
		machine.Fail(err.Error())
		p.binder.Release(account)
		return nil, fmt.Errorf("%w: %v", protocol.ErrInitializationFailed, err)
	}

	p.mu.Lock()
	p.entries[account] = &entry{client: client, machine: machine}
	p.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		p.remove(account)
		p.binder.Release(account)
		machine.Fail(err.Error())
		return nil, fmt.Errorf("%w: %v", protocol.ErrInitializationFailed, err)
	}

	p.logger.Info("session initialized", zap.String("account", account))
	return machine, nil
}

// Acquire returns the live client for an account in the connected state.
// Fails with ErrNotConnected otherwise.
func (p *Pool) Acquire(account string) (protocol.Client, error) {
	p.mu.RLock()
	e, ok := p.entries[account]
	p.mu.RUnlock()
	if !ok || e.machine.Current() != Connected {
		return nil, fmt.Errorf("account %s: %w", account, protocol.ErrNotConnected)
	}
	return &serialClient{mu: &e.ops, c: e.client}, nil
}

// Machine returns the state machine for an account, if a live entry exists.
func (p *Pool) Machine(account string) (*Machine, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[account]
	if !ok {
		return nil, false
	}
	return e.machine, true
}

// Accounts returns the account ids with live entries.
func (p *Pool) Accounts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	accounts := make([]string, 0, len(p.entries))
	for account := range p.entries {
		accounts = append(accounts, account)
	}
	return accounts
}

// Terminate logs the account out, evicts its client and marks the
// session logged out and inactive. Tolerates an already-absent client: in
// that case only the persisted state is updated. Waits on the account's
// key lock so an in-flight Initialize resolves first.
func (p *Pool) Terminate(ctx context.Context, account string) error {
	lock := p.keyLock(account)
	lock.Lock()
	defer lock.Unlock()

	p.mu.RLock()
	e, ok := p.entries[account]
	p.mu.RUnlock()

	if err := p.db.SetSessionActive(account, false); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}

	if !ok {
		// Client already gone; update state only.
		if err := p.db.SetSessionStatus(account, store.SessionLoggedOut, ""); err != nil {
			return fmt.Errorf("persist logout: %w", err)
		}
		return nil
	}

	// Wait for any in-flight operation before invalidating the client.
	e.ops.Lock()
	logoutErr := e.client.Logout(ctx)
	e.ops.Unlock()
	p.remove(account)
	p.binder.Release(account)

	if logoutErr != nil {
		e.machine.Fail(logoutErr.Error())
		return protocol.Transport("logout", logoutErr)
	}
	if err := e.machine.Transition(LoggedOut); err != nil {
		// Already disconnected is fine; persist terminal state directly.
		if err := p.db.SetSessionStatus(account, store.SessionLoggedOut, ""); err != nil {
			return fmt.Errorf("persist logout: %w", err)
		}
	}
	p.logger.Info("session terminated", zap.String("account", account))
	return nil
}

// StartAll re-initializes every session flagged active. Best effort: one
// account's failure is logged and does not block the others.
func (p *Pool) StartAll(ctx context.Context) {
	sessions, err := p.db.ActiveSessions()
	if err != nil {
		p.logger.Error("load active sessions failed", zap.Error(err))
		return
	}
	p.logger.Info("restoring active sessions", zap.Int("count", len(sessions)))

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(account, name string) {
			defer wg.Done()
			if _, err := p.Initialize(ctx, account, name); err != nil {
				p.logger.Error("session restore failed",
					zap.String("account", account), zap.Error(err))
			}
		}(s.Account, s.Name)
	}
	wg.Wait()
}

// Shutdown disconnects every live client without logging out, so the
// credentials survive a restart.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for account, e := range entries {
		e.ops.Lock()
		e.client.Disconnect()
		e.ops.Unlock()
		p.binder.Release(account)
		if err := p.db.SetSessionStatus(account, store.SessionDisconnected, ""); err != nil {
			p.logger.Error("persist shutdown status failed",
				zap.String("account", account), zap.Error(err))
		}
	}
}

func (p *Pool) remove(account string) {
	p.mu.Lock()
	delete(p.entries, account)
	p.mu.Unlock()
}

// serialClient guards a live client with its entry's operation mutex, so
// concurrent command handlers and the event worker take turns.
type serialClient struct {
	mu *sync.Mutex
	c  protocol.Client
}

func (s *serialClient) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Start(ctx)
}

func (s *serialClient) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Logout(ctx)
}

func (s *serialClient) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Disconnect()
}

func (s *serialClient) SendText(ctx context.Context, to, body string) (protocol.RemoteMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.SendText(ctx, to, body)
}

func (s *serialClient) SendMedia(ctx context.Context, to string, m protocol.Media) (protocol.RemoteMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.SendMedia(ctx, to, m)
}

func (s *serialClient) MarkSeen(ctx context.Context, chatID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.MarkSeen(ctx, chatID, messageIDs)
}

func (s *serialClient) FetchChats(ctx context.Context) ([]protocol.RemoteChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.FetchChats(ctx)
}

func (s *serialClient) FetchContacts(ctx context.Context) ([]protocol.RemoteContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.FetchContacts(ctx)
}
