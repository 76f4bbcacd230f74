package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"infinite-experiment/logbook/internal/logging"
	"infinite-experiment/logbook/internal/lww"
	"infinite-experiment/logbook/internal/metrics"
	"infinite-experiment/logbook/internal/models/dtos"
	gormModels "infinite-experiment/logbook/internal/models/gorm"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReasonDeletedElsewhere is reported when a live tombstone blocks a write.
const ReasonDeletedElsewhere = "deleted on another device"

type RecordStore interface {
	FindExisting(ctx context.Context, userID, collection string, localIDs, serverIDs []string) ([]gormModels.SyncRecord, error)
	FindByLocalIDs(ctx context.Context, userID, collection string, localIDs []string) ([]gormModels.SyncRecord, error)
	Insert(ctx context.Context, rec *gormModels.SyncRecord, recency int64) error
	Update(ctx context.Context, rec *gormModels.SyncRecord, recency int64) error
	Delete(ctx context.Context, userID, collection, localID, serverID string) (int64, error)
	ListChangedSince(ctx context.Context, userID, collection string, since int64) ([]gormModels.SyncRecord, error)
}

type TombstoneStore interface {
	Upsert(ctx context.Context, t *gormModels.Tombstone) error
	FindLive(ctx context.Context, userID, collection string, recordIDs []string, cutoff int64) ([]gormModels.Tombstone, error)
	ListSince(ctx context.Context, userID, collection string, since int64) ([]gormModels.Tombstone, error)
}

type SyncOptions struct {
	TombstoneTTL time.Duration
	BatchSize    int
	Concurrency  int
}

// SyncService reconciles pushed mutations into the server store.
type SyncService struct {
	records    RecordStore
	tombstones TombstoneStore
	opts       SyncOptions
	metrics    *metrics.MetricsRegistry
	log        *zap.SugaredLogger

	now         func() time.Time
	newServerID func() string
}

func NewSyncService(records RecordStore, tombstones TombstoneStore, opts SyncOptions, m *metrics.MetricsRegistry) *SyncService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = 30 * 24 * time.Hour
	}
	return &SyncService{
		records:     records,
		tombstones:  tombstones,
		opts:        opts,
		metrics:     m,
		log:         logging.Component("sync_service"),
		now:         time.Now,
		newServerID: uuid.NewString,
	}
}

// SetClock replaces the service clock. Used by tests and tooling that
// replay traffic.
func (s *SyncService) SetClock(now func() time.Time) { s.now = now }

// Push reconciles a single mutation. A returned error means the store
// failed and the client should retry; validation failures and rejections
// are reported in the response.
func (s *SyncService) Push(ctx context.Context, userID string, req dtos.SyncRequest) (dtos.SyncResponse, error) {
	mut, err := dtos.DecodeMutation(req.Type, req.Collection, req.Data)
	if err != nil {
		s.metrics.ObserveSyncItem(req.Collection, req.Type, metrics.OutcomeFailed)
		return dtos.SyncResponse{Success: false, Reason: err.Error()}, nil
	}

	out := s.reconcileBatch(ctx, userID, mut.Collection, []pendingItem{{index: 0, mut: mut}})[0]
	if out.err != nil {
		return dtos.SyncResponse{Success: false, Reason: out.err.Error()}, out.err
	}
	return dtos.SyncResponse{
		Success:  !out.rejected,
		ServerID: out.serverID,
		Rejected: out.rejected,
		Reason:   out.reason,
	}, nil
}

// PushBulk reconciles a batch of queue items. Collections run concurrently
// and each is split into batches of at most BatchSize items. A failure of
// one item never affects the others.
func (s *SyncService) PushBulk(ctx context.Context, userID string, req dtos.BulkSyncRequest) dtos.BulkSyncResponse {
	results := make([]dtos.BulkItemResult, len(req.Items))
	groups := make(map[dtos.Collection][]pendingItem)
	var order []dtos.Collection

	for i, item := range req.Items {
		results[i].QueueItemID = item.ID
		mut, err := dtos.DecodeMutation(item.Type, item.Collection, item.Data)
		if err != nil {
			results[i].Reason = err.Error()
			s.metrics.ObserveSyncItem(item.Collection, item.Type, metrics.OutcomeFailed)
			continue
		}
		if _, ok := groups[mut.Collection]; !ok {
			order = append(order, mut.Collection)
		}
		groups[mut.Collection] = append(groups[mut.Collection], pendingItem{index: i, mut: mut})
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, c := range order {
		c, items := c, groups[c]
		g.Go(func() error {
			for start := 0; start < len(items); start += s.opts.BatchSize {
				end := min(start+s.opts.BatchSize, len(items))
				batch := items[start:end]

				began := time.Now()
				outcomes := s.reconcileBatch(ctx, userID, c, batch)
				s.metrics.ObserveBulkBatch(string(c), time.Since(began))

				for j, out := range outcomes {
					r := &results[batch[j].index]
					r.Success = out.err == nil && !out.rejected
					r.ServerID = out.serverID
					r.Rejected = out.rejected
					r.Reason = out.reason
					if out.err != nil {
						r.Reason = out.err.Error()
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := dtos.BulkSummary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	if summary.Failed > 0 {
		s.log.Infow("bulk sync finished with failures",
			"user_id", userID,
			"total", summary.Total,
			"failed", summary.Failed,
		)
	}

	return dtos.BulkSyncResponse{Success: true, Results: results, Summary: summary}
}

type pendingItem struct {
	index int
	mut   dtos.Mutation
}

type itemOutcome struct {
	serverID string
	rejected bool
	reason   string
	err      error

	// key is the local id of the record the item resolved to
	key string
}

type writeKind int

const (
	writeInsert writeKind = iota
	writeUpdate
	writeDelete
	writeTombstone
)

type plannedWrite struct {
	kind    writeKind
	item    int
	key     string
	record  gormModels.SyncRecord
	recency int64
	tomb    gormModels.Tombstone
}

// recordState is the in-memory view of one record while a batch is
// classified. Later items in the batch see the effect of earlier ones.
type recordState struct {
	rec     gormModels.SyncRecord
	deleted bool
}

func (st *recordState) CreatedAtMillis() int64 { return st.rec.CreatedAtMillis() }
func (st *recordState) UpdatedAtMillis() int64 { return st.rec.UpdatedAtMillis() }

// reconcileBatch runs the reconciliation algorithm for items of one
// collection: two reads, in-memory classification, then writes that
// continue past individual failures.
func (s *SyncService) reconcileBatch(ctx context.Context, userID string, c dtos.Collection, items []pendingItem) []itemOutcome {
	outcomes := make([]itemOutcome, len(items))
	now := s.now().UnixMilli()
	cutoff := now - s.opts.TombstoneTTL.Milliseconds()

	localIDs := make([]string, 0, len(items))
	var serverIDs []string
	for _, it := range items {
		localIDs = append(localIDs, it.mut.LocalID())
		if sid := it.mut.ServerID(); sid != "" {
			serverIDs = append(serverIDs, sid)
		}
	}

	failAll := func(err error) []itemOutcome {
		for i := range outcomes {
			outcomes[i].err = err
			s.metrics.ObserveSyncItem(string(c), string(items[i].mut.Kind), metrics.OutcomeFailed)
		}
		s.log.Errorw("reconcile batch failed", "user_id", userID, "collection", c, "error", err)
		return outcomes
	}

	live, err := s.tombstones.FindLive(ctx, userID, string(c), localIDs, cutoff)
	if err != nil {
		return failAll(err)
	}
	existing, err := s.records.FindExisting(ctx, userID, string(c), localIDs, serverIDs)
	if err != nil {
		return failAll(err)
	}

	tombstoned := make(map[string]bool, len(live))
	for _, t := range live {
		tombstoned[t.RecordID] = true
	}
	byLocal := make(map[string]*recordState, len(existing))
	byServer := make(map[string]*recordState, len(existing))
	for i := range existing {
		st := &recordState{rec: existing[i]}
		byLocal[st.rec.LocalID] = st
		byServer[st.rec.ServerID] = st
	}

	locate := func(m dtos.Mutation) *recordState {
		if st, ok := byLocal[m.LocalID()]; ok && !st.deleted {
			return st
		}
		if m.Kind == dtos.OpCreate {
			return nil
		}
		if st, ok := byServer[m.ServerID()]; ok && !st.deleted {
			return st
		}
		return nil
	}

	var writes []plannedWrite
	for i, it := range items {
		m := it.mut
		out := &outcomes[i]
		out.key = m.LocalID()

		if m.Kind == dtos.OpDelete {
			serverID := m.ServerID()
			if st := locate(m); st != nil {
				st.deleted = true
				out.key = st.rec.LocalID
				if serverID == "" {
					serverID = st.rec.ServerID
				}
			}
			writes = append(writes, plannedWrite{kind: writeDelete, item: i, key: out.key,
				record: gormModels.SyncRecord{UserID: userID, Collection: string(c), LocalID: m.LocalID(), ServerID: m.ServerID()}})

			tomb := gormModels.Tombstone{UserID: userID, Collection: string(c), RecordID: out.key, DeletedAt: now}
			if serverID != "" {
				tomb.ServerID = &serverID
			}
			writes = append(writes, plannedWrite{kind: writeTombstone, item: i, key: out.key, tomb: tomb})
			tombstoned[out.key] = true
			out.serverID = serverID
			continue
		}

		if tombstoned[m.LocalID()] {
			out.rejected = true
			out.reason = ReasonDeletedElsewhere
			continue
		}

		incoming := lww.Recency(m.Entity, now)
		st := locate(m)
		if st == nil {
			rec, err := s.toRecord(userID, c, m.Entity, s.newServerID(), now)
			if err != nil {
				out.err = err
				continue
			}
			st = &recordState{rec: rec}
			byLocal[rec.LocalID] = st
			byServer[rec.ServerID] = st
			out.serverID = rec.ServerID
			writes = append(writes, plannedWrite{kind: writeInsert, item: i, key: out.key, record: rec, recency: incoming})
			continue
		}

		out.key = st.rec.LocalID
		out.serverID = st.rec.ServerID
		if incoming < lww.Recency(st, 0) {
			// Stale: the stored version is newer. Reported as success.
			continue
		}

		m.Entity.Meta().ID = st.rec.LocalID
		rec, err := s.toRecord(userID, c, m.Entity, st.rec.ServerID, now)
		if err != nil {
			out.err = err
			continue
		}
		st.rec = rec
		writes = append(writes, plannedWrite{kind: writeUpdate, item: i, key: out.key, record: rec, recency: incoming})
	}

	inserted := s.applyWrites(ctx, writes, outcomes)
	s.resolveServerIDs(ctx, userID, c, inserted, outcomes, items)

	for i, out := range outcomes {
		outcome := metrics.OutcomeApplied
		switch {
		case out.err != nil:
			outcome = metrics.OutcomeFailed
		case out.rejected:
			outcome = metrics.OutcomeRejected
		}
		s.metrics.ObserveSyncItem(string(c), string(items[i].mut.Kind), outcome)
	}
	return outcomes
}

// applyWrites executes planned writes in classification order. Once a
// write for a record fails, later writes for the same record are skipped
// and their items fail with the same error. It returns the local ids that
// were inserted.
func (s *SyncService) applyWrites(ctx context.Context, writes []plannedWrite, outcomes []itemOutcome) []string {
	failed := make(map[string]error)
	var inserted []string

	for _, w := range writes {
		if err, ok := failed[w.key]; ok {
			if outcomes[w.item].err == nil {
				outcomes[w.item].err = err
			}
			continue
		}

		var err error
		switch w.kind {
		case writeInsert:
			rec := w.record
			err = s.records.Insert(ctx, &rec, w.recency)
			if err == nil {
				inserted = append(inserted, rec.LocalID)
			}
		case writeUpdate:
			rec := w.record
			err = s.records.Update(ctx, &rec, w.recency)
		case writeDelete:
			_, err = s.records.Delete(ctx, w.record.UserID, w.record.Collection, w.record.LocalID, w.record.ServerID)
		case writeTombstone:
			tomb := w.tomb
			err = s.tombstones.Upsert(ctx, &tomb)
		}

		if err != nil {
			s.log.Warnw("sync write failed", "local_id", w.key, "error", err)
			failed[w.key] = err
			outcomes[w.item].err = err
		}
	}
	return inserted
}

// resolveServerIDs replaces generated server ids with the stored ones. They
// differ when a concurrent request created the same record first.
func (s *SyncService) resolveServerIDs(ctx context.Context, userID string, c dtos.Collection, inserted []string, outcomes []itemOutcome, items []pendingItem) {
	if len(inserted) == 0 {
		return
	}
	stored, err := s.records.FindByLocalIDs(ctx, userID, string(c), inserted)
	if err != nil {
		s.log.Warnw("failed to resolve server ids", "collection", c, "error", err)
		return
	}
	canonical := make(map[string]string, len(stored))
	for _, r := range stored {
		canonical[r.LocalID] = r.ServerID
	}
	for i := range outcomes {
		if items[i].mut.Kind == dtos.OpDelete {
			continue
		}
		if sid, ok := canonical[outcomes[i].key]; ok {
			outcomes[i].serverID = sid
		}
	}
}

// toRecord builds the stored row for an entity. The owner always comes from
// the session, never from the payload.
func (s *SyncService) toRecord(userID string, c dtos.Collection, e dtos.Entity, serverID string, now int64) (gormModels.SyncRecord, error) {
	meta := e.Meta()
	meta.UserID = userID
	meta.ServerID = serverID
	meta.SyncStatus = ""

	data, err := json.Marshal(e)
	if err != nil {
		return gormModels.SyncRecord{}, fmt.Errorf("failed to encode %s record: %w", c, err)
	}

	rec := gormModels.SyncRecord{
		ServerID:   serverID,
		UserID:     userID,
		Collection: string(c),
		LocalID:    meta.ID,
		CreatedAt:  meta.CreatedAt,
		SyncedAt:   now,
		SortDate:   e.SortDate(),
		Data:       string(data),
	}
	if meta.UpdatedAt != 0 {
		updated := meta.UpdatedAt
		rec.UpdatedAt = &updated
	}
	return rec, nil
}
