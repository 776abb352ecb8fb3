package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProfileSweeper expires face profiles past their expiry
type ProfileSweeper interface {
	ProcessExpiredProfiles(ctx context.Context) (int, error)
}

// OperationLogCleaner removes old operation log entries
type OperationLogCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// ExpiryConfig controls how often the manager runs and how long each run may take
type ExpiryConfig struct {
	Interval     time.Duration
	RunTimeout   time.Duration
	LogRetention time.Duration
}

// ExpiryManager periodically expires face profiles and prunes the operation log
type ExpiryManager struct {
	sweeper  ProfileSweeper
	cleaner  OperationLogCleaner
	config   ExpiryConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewExpiryManager creates a new expiry manager. cleaner may be nil.
func NewExpiryManager(sweeper ProfileSweeper, cleaner OperationLogCleaner, cfg ExpiryConfig, logger *slog.Logger) *ExpiryManager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	return &ExpiryManager{
		sweeper: sweeper,
		cleaner: cleaner,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the periodic tasks until Stop is called or ctx is done
func (m *ExpiryManager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	m.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			m.RunOnce(ctx)
		case <-m.stopCh:
			m.logger.Info("expiry manager stopped")
			return
		case <-ctx.Done():
			m.logger.Info("expiry manager context cancelled")
			return
		}
	}
}

// RunOnce performs one sweep and one log cleanup
func (m *ExpiryManager) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, m.config.RunTimeout)
	defer cancel()

	expired, err := m.sweeper.ProcessExpiredProfiles(runCtx)
	if err != nil {
		m.logger.Error("face profile expiry sweep failed", slog.Int("expired", expired), slog.Any("error", err))
	} else if expired > 0 {
		m.logger.Info("face profile expiry sweep completed", slog.Int("expired", expired))
	}

	if m.cleaner == nil || m.config.LogRetention <= 0 {
		return
	}
	if _, err := m.cleaner.Cleanup(runCtx, m.config.LogRetention); err != nil {
		m.logger.Error("failed to cleanup operation logs", slog.Any("error", err))
	}
}

// Stop signals the manager to stop. Safe to call more than once.
func (m *ExpiryManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
