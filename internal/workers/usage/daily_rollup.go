package usage

import (
	"context"
	"time"

	domain "github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/workers"
	"github.com/emirks/tercihify-chat/pkg/errors"
)

// DailyRollupWorker refreshes the per-day, per-model rollups.
// Each run recomputes yesterday and today so late turns around midnight are folded in.
type DailyRollupWorker struct {
	*workers.BaseWorker
	rollups domain.RollupRepository
	now     func() time.Time
}

// NewDailyRollupWorker creates a new daily rollup worker
func NewDailyRollupWorker(rollups domain.RollupRepository, interval time.Duration, enabled bool) *DailyRollupWorker {
	return &DailyRollupWorker{
		BaseWorker: workers.NewBaseWorker("usage_daily_rollup", interval, enabled),
		rollups:    rollups,
		now:        time.Now,
	}
}

// Run upserts yesterday's and today's rollups
func (w *DailyRollupWorker) Run(ctx context.Context) error {
	today := w.now().UTC().Truncate(24 * time.Hour)
	days := []time.Time{today.AddDate(0, 0, -1), today}

	var errs errors.MultiError
	total := 0
	for _, day := range days {
		n, err := w.rollups.UpsertDailyModelRollups(ctx, day)
		if err != nil {
			errs.Add(errors.Wrapf(err, "rollup %s", day.Format("2006-01-02")))
			continue
		}
		total += n
	}

	if errs.HasErrors() {
		return errs.ToError()
	}

	w.Log().Debugw("Daily rollups refreshed", "rows", total, "today", today.Format("2006-01-02"))
	return nil
}
