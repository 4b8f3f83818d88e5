package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultReapSchedule runs the idempotency reaper every 15 minutes.
const DefaultReapSchedule = "*/15 * * * *"

const reapTimeout = time.Minute

// Reaper deletes expired records. idempotency.Guard satisfies it.
type Reaper interface {
	Reap(ctx context.Context) (int64, error)
}

// ScheduleReap registers reaper on c under spec (standard five-field cron syntax).
func ScheduleReap(c *cron.Cron, spec string, reaper Reaper, logger *zap.Logger) (cron.EntryID, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultReapSchedule
	}
	return c.AddFunc(spec, func() { RunReap(context.Background(), reaper, logger) })
}

// RunReap runs one reaper pass with a bounded timeout.
func RunReap(ctx context.Context, reaper Reaper, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, reapTimeout)
	defer cancel()
	n, err := reaper.Reap(ctx)
	if err != nil {
		logger.Error("reap idempotency records", zap.Error(err))
		return
	}
	logger.Info("idempotency records reaped", zap.Int64("deleted", n))
}
