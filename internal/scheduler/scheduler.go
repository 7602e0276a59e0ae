// Package scheduler runs periodic chat and contact resyncs for connected
// accounts on a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/wappdesk/wappdesk/internal/session"
	enginesync "github.com/wappdesk/wappdesk/internal/sync"
	"go.uber.org/zap"
)

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	pool   *session.Pool
	engine *enginesync.Engine
	logger *zap.Logger
}

// New creates a scheduler. An empty spec disables it.
func New(spec string, pool *session.Pool, engine *enginesync.Engine, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		spec:   spec,
		pool:   pool,
		engine: engine,
		logger: logger,
	}
}

// Start registers the resync job and starts the runner.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		s.logger.Info("periodic resync disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, s.resync); err != nil {
		return fmt.Errorf("invalid resync spec %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("periodic resync scheduled", zap.String("spec", s.spec))
	return nil
}

// Stop halts the runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) resync() {
	ctx := context.Background()
	for _, account := range s.pool.Accounts() {
		m, ok := s.pool.Machine(account)
		if !ok || m.Current() != session.Connected {
			continue
		}
		if _, err := s.engine.SyncAllChats(ctx, account); err != nil {
			s.logger.Error("scheduled chat resync failed",
				zap.String("account", account), zap.Error(err))
		}
		if _, err := s.engine.SyncAllContacts(ctx, account); err != nil {
			s.logger.Error("scheduled contact resync failed",
				zap.String("account", account), zap.Error(err))
		}
	}
}
