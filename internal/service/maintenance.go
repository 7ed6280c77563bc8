package service

import (
	"time"

	"economybot/internal/logger"
	"economybot/internal/storage"

	"github.com/robfig/cron/v3"
)

// Maintenance schedules the engine's background jobs: sweeping expired
// trade sessions and pruning old backup snapshots
type Maintenance struct {
	cron      *cron.Cron
	trades    *TradeManager
	store     *storage.Store
	retention time.Duration
}

// NewMaintenance registers the maintenance jobs on a seconds-precision
// UTC cron. sweepSpec and pruneSpec are cron expressions.
func NewMaintenance(trades *TradeManager, store *storage.Store, sweepSpec, pruneSpec string, retention time.Duration) (*Maintenance, error) {
	if retention <= 0 {
		retention = storage.DefaultBackupRetention
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	m := &Maintenance{
		cron:      c,
		trades:    trades,
		store:     store,
		retention: retention,
	}

	if _, err := c.AddFunc(sweepSpec, m.sweepTrades); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(pruneSpec, m.pruneBackups); err != nil {
		return nil, err
	}
	return m, nil
}

// Start begins the cron scheduler
func (m *Maintenance) Start() {
	m.cron.Start()
	logger.Info("maintenance scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	logger.Info("maintenance scheduler stopped")
}

func (m *Maintenance) sweepTrades() {
	if n := m.trades.Sweep(); n > 0 {
		logger.Info("expired trade sessions swept", "count", n)
	}
}

func (m *Maintenance) pruneBackups() {
	n, err := m.store.PruneBackups(m.retention)
	if err != nil {
		logger.Warn("backup pruning failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("old backups pruned", "count", n)
	}
}
