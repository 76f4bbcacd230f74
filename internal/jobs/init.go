package jobs

import (
	"context"
	"time"

	"infinite-experiment/logbook/internal/common"
	"infinite-experiment/logbook/internal/metrics"
)

// InitializeJobs starts all background jobs. They stop when ctx is done.
func InitializeJobs(
	ctx context.Context,
	tombstones TombstoneDeleter,
	locker common.Locker,
	m *metrics.MetricsRegistry,
	ttl time.Duration,
	sweepInterval time.Duration,
) *TombstoneSweepJob {
	sweep := NewTombstoneSweepJob(tombstones, locker, m, ttl)

	go sweep.RunScheduled(ctx, sweepInterval)

	return sweep
}
