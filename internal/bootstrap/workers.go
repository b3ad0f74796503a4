package bootstrap

import (
	"github.com/emirks/tercihify-chat/internal/adapters/config"
	domain "github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/workers"
	usageworkers "github.com/emirks/tercihify-chat/internal/workers/usage"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// provideWorkers registers all background workers
func provideWorkers(cfg *config.Config, rollups domain.RollupRepository, log *logger.Logger) *workers.Scheduler {
	log.Info("Initializing workers...")

	scheduler := workers.NewScheduler(log)

	scheduler.RegisterWorker(usageworkers.NewDailyRollupWorker(
		rollups,
		cfg.Workers.DailyRollupInterval,
		cfg.Workers.DailyRollupEnabled,
	))

	log.Infow("✓ Workers initialized", "count", len(scheduler.GetWorkers()))
	return scheduler
}
