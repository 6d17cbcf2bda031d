package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"neuron/internal/domain"
)

// SnapshotJobName is the registered name of the scheduled snapshot job.
const SnapshotJobName = "snapshots"

// SnapshotTaker snapshots every program.
type SnapshotTaker interface {
	TakeAllSnapshots(ctx context.Context) ([]domain.Snapshot, error)
}

// SnapshotJob takes the current-period snapshot of every program on each
// tick. Repeated runs within a period overwrite that period's row.
func SnapshotJob(taker SnapshotTaker, interval time.Duration, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     SnapshotJobName,
		Interval: interval,
		Run: func(ctx context.Context) error {
			snaps, err := taker.TakeAllSnapshots(ctx)
			logger.Info("scheduled snapshots", zap.Int("taken", len(snaps)), zap.Bool("partial", err != nil))
			return err
		},
	}
}
