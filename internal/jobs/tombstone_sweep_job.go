package jobs

import (
	"context"
	"fmt"
	"time"

	"infinite-experiment/logbook/internal/common"
	"infinite-experiment/logbook/internal/constants"
	"infinite-experiment/logbook/internal/logging"
	"infinite-experiment/logbook/internal/metrics"

	"go.uber.org/zap"
)

// TombstoneDeleter removes tombstones written before cutoff (epoch ms).
type TombstoneDeleter interface {
	DeleteExpired(ctx context.Context, cutoff int64) (int64, error)
}

// TombstoneSweepJob enforces tombstone retention outside the request path.
type TombstoneSweepJob struct {
	tombstones TombstoneDeleter
	locker     common.Locker
	metrics    *metrics.MetricsRegistry
	ttl        time.Duration
	log        *zap.SugaredLogger
	now        func() time.Time
}

func NewTombstoneSweepJob(tombstones TombstoneDeleter, locker common.Locker, m *metrics.MetricsRegistry, ttl time.Duration) *TombstoneSweepJob {
	return &TombstoneSweepJob{
		tombstones: tombstones,
		locker:     locker,
		metrics:    m,
		ttl:        ttl,
		log:        logging.Component("tombstone_sweep"),
		now:        time.Now,
	}
}

// Run deletes expired tombstones once. It returns 0 without error when
// another instance holds the sweep lock.
func (j *TombstoneSweepJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	release, ok, err := j.locker.TryLock(ctx, string(constants.LockKeyTombstoneSweep), 5*time.Minute)
	if err != nil {
		return 0, err
	}
	if !ok {
		j.log.Debugw("sweep lock held elsewhere, skipping")
		return 0, nil
	}
	defer release()

	cutoff := j.now().Add(-j.ttl).UnixMilli()
	removed, err := j.tombstones.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("tombstone sweep failed: %w", err)
	}

	j.metrics.ObserveSweep(removed, time.Since(start))
	j.log.Infow("tombstone sweep finished",
		"removed", removed,
		"cutoff", cutoff,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return removed, nil
}

// RunScheduled sweeps immediately and then on every tick until ctx is done.
func (j *TombstoneSweepJob) RunScheduled(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := j.Run(ctx); err != nil {
		j.log.Errorw("error in initial sweep", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.log.Errorw("error in scheduled sweep", "error", err)
			}
		case <-ctx.Done():
			j.log.Infow("shutting down scheduled sweep")
			return
		}
	}
}
