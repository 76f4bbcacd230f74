package services

import (
	"context"
	"encoding/json"
	"time"

	"infinite-experiment/logbook/internal/logging"
	"infinite-experiment/logbook/internal/metrics"
	"infinite-experiment/logbook/internal/models/dtos"
	gormModels "infinite-experiment/logbook/internal/models/gorm"

	"go.uber.org/zap"
)

// DeltaService answers pull requests: what changed for a user since a
// watermark.
type DeltaService struct {
	records    RecordStore
	tombstones TombstoneStore
	metrics    *metrics.MetricsRegistry
	log        *zap.SugaredLogger
	now        func() time.Time
}

func NewDeltaService(records RecordStore, tombstones TombstoneStore, m *metrics.MetricsRegistry) *DeltaService {
	return &DeltaService{
		records:    records,
		tombstones: tombstones,
		metrics:    m,
		log:        logging.Component("delta_service"),
		now:        time.Now,
	}
}

func (s *DeltaService) SetClock(now func() time.Time) { s.now = now }

// Delta returns records changed since the watermark plus the local ids of
// records deleted since then. SyncedAt is taken before reading and server
// stamps equal to since are included, so a write landing in the same
// millisecond as a pull is delivered again by the next one.
func (s *DeltaService) Delta(ctx context.Context, userID string, c dtos.Collection, since int64) (dtos.DeltaResponse, error) {
	syncedAt := s.now().UnixMilli()

	rows, err := s.records.ListChangedSince(ctx, userID, string(c), since)
	if err != nil {
		return dtos.DeltaResponse{}, err
	}
	tombstones, err := s.tombstones.ListSince(ctx, userID, string(c), since)
	if err != nil {
		return dtos.DeltaResponse{}, err
	}

	records := make([]json.RawMessage, 0, len(rows))
	for i := range rows {
		raw, err := s.render(c, &rows[i])
		if err != nil {
			s.log.Warnw("skipping undecodable record",
				"collection", c,
				"server_id", rows[i].ServerID,
				"error", err,
			)
			continue
		}
		records = append(records, raw)
	}

	deleted := make([]string, 0, len(tombstones))
	for _, t := range tombstones {
		deleted = append(deleted, t.RecordID)
	}

	s.metrics.ObserveDelta(string(c), len(records))
	return dtos.DeltaResponse{
		Records:  records,
		Deleted:  deleted,
		SyncedAt: syncedAt,
		Count:    len(records),
	}, nil
}

// render decodes a stored row, backfills defaults and overlays the sync
// metadata held in columns.
func (s *DeltaService) render(c dtos.Collection, row *gormModels.SyncRecord) (json.RawMessage, error) {
	e, err := dtos.DecodeEntity(c, []byte(row.Data))
	if err != nil {
		return nil, err
	}
	e.ApplyDefaults()

	meta := e.Meta()
	meta.ID = row.LocalID
	meta.ServerID = row.ServerID
	meta.UserID = row.UserID
	meta.CreatedAt = row.CreatedAt
	meta.UpdatedAt = row.UpdatedAtMillis()
	meta.SyncStatus = dtos.SyncStatusSynced

	return json.Marshal(e)
}
