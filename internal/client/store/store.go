// Package store is the device-local entity store and outbound sync queue.
// Every local mutation and its queue item are written in one transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"infinite-experiment/logbook/internal/ids"
	"infinite-experiment/logbook/internal/lww"
	"infinite-experiment/logbook/internal/models/dtos"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// Fields a patch may not overwrite.
var protectedFields = map[string]bool{
	"id":         true,
	"serverId":   true,
	"userId":     true,
	"createdAt":  true,
	"updatedAt":  true,
	"syncStatus": true,
}

type Store struct {
	db  *gorm.DB
	now func() time.Time

	hookMu sync.RWMutex
	hooks  []func(dtos.Collection)
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the local schema.
func New(db *gorm.DB) (*Store, error) {
	for _, c := range dtos.Collections {
		if err := db.Table(string(c)).AutoMigrate(&localRecord{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", c, err)
		}
	}
	if err := db.AutoMigrate(&QueueItem{}, &syncMeta{}); err != nil {
		return nil, fmt.Errorf("migrate sync tables: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetClock replaces the store clock, for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// OnMutation registers fn to run after every committed local mutation.
func (s *Store) OnMutation(fn func(dtos.Collection)) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *Store) notify(c dtos.Collection) {
	s.hookMu.RLock()
	hooks := append([]func(dtos.Collection){}, s.hooks...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(c)
	}
}

// AddEntity assigns a local id and creation time, stores the entity as
// pending and queues a create.
func (s *Store) AddEntity(ctx context.Context, e dtos.Entity) (dtos.Entity, error) {
	now := s.now()
	meta := e.Meta()
	meta.ID = ids.NewAt(now)
	meta.ServerID = ""
	meta.UserID = ""
	meta.CreatedAt = now.UnixMilli()
	meta.UpdatedAt = 0
	meta.SyncStatus = dtos.SyncStatusPending

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := fromEntity(e)
		if err != nil {
			return err
		}
		if err := tx.Table(string(e.Collection())).Create(&rec).Error; err != nil {
			return fmt.Errorf("insert %s: %w", e.Collection(), err)
		}
		return s.enqueue(tx, dtos.OpCreate, e.Collection(), meta.ID, e, now)
	})
	if err != nil {
		return nil, err
	}

	s.notify(e.Collection())
	return e, nil
}

// UpdateEntity overlays patch on the stored entity, stamps updatedAt and
// queues an update carrying the full merged record. The new updatedAt is
// never before createdAt and always after the previous updatedAt, even when
// the device clock runs behind the device that wrote the stored version.
func (s *Store) UpdateEntity(ctx context.Context, c dtos.Collection, id string, patch map[string]any) (dtos.Entity, error) {
	var updated dtos.Entity
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadRecord(tx, c, id)
		if err != nil {
			return err
		}
		current, err := toEntity(c, rec)
		if err != nil {
			return err
		}
		previous := current.Meta().UpdatedAt
		updated, err = mergePatch(current, patch)
		if err != nil {
			return err
		}

		meta := updated.Meta()
		meta.UpdatedAt = max(now.UnixMilli(), meta.CreatedAt, previous+1)
		meta.SyncStatus = dtos.SyncStatusPending

		row, err := fromEntity(updated)
		if err != nil {
			return err
		}
		if err := tx.Table(string(c)).Save(&row).Error; err != nil {
			return fmt.Errorf("update %s %s: %w", c, id, err)
		}
		return s.enqueue(tx, dtos.OpUpdate, c, id, updated, now)
	})
	if err != nil {
		return nil, err
	}

	s.notify(c)
	return updated, nil
}

// DeleteEntity removes the local row and queues a delete.
func (s *Store) DeleteEntity(ctx context.Context, c dtos.Collection, id string) error {
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadRecord(tx, c, id)
		if err != nil {
			return err
		}
		if err := tx.Table(string(c)).Where("id = ?", id).Delete(&localRecord{}).Error; err != nil {
			return fmt.Errorf("delete %s %s: %w", c, id, err)
		}
		return s.enqueue(tx, dtos.OpDelete, c, id, dtos.DeleteRef{ID: id, ServerID: rec.ServerID}, now)
	})
	if err != nil {
		return err
	}

	s.notify(c)
	return nil
}

func (s *Store) enqueue(tx *gorm.DB, op dtos.OpType, c dtos.Collection, recordID string, payload any, now time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode queue payload: %w", err)
	}
	item := QueueItem{
		ID:         ids.NewAt(now),
		Type:       string(op),
		Collection: string(c),
		RecordID:   recordID,
		Data:       string(data),
		Timestamp:  now.UnixMilli(),
	}
	if err := tx.Create(&item).Error; err != nil {
		return fmt.Errorf("enqueue %s %s: %w", op, c, err)
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, c dtos.Collection, id string) (dtos.Entity, error) {
	rec, err := loadRecord(s.db.WithContext(ctx), c, id)
	if err != nil {
		return nil, err
	}
	return toEntity(c, rec)
}

// ListEntities returns a collection newest first.
func (s *Store) ListEntities(ctx context.Context, c dtos.Collection) ([]dtos.Entity, error) {
	var rows []localRecord
	err := s.db.WithContext(ctx).Table(string(c)).
		Order("sort_date DESC").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}

	out := make([]dtos.Entity, 0, len(rows))
	for i := range rows {
		e, err := toEntity(c, &rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// MarkRecordSynced stores the server id and marks the record synced
// unless newer queue items for it are still waiting.
func (s *Store) MarkRecordSynced(ctx context.Context, c dtos.Collection, id, serverID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadRecord(tx, c, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var pending int64
		if err := tx.Model(&QueueItem{}).
			Where("collection = ? AND record_id = ?", string(c), id).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("count pending queue items: %w", err)
		}

		updates := map[string]any{}
		if serverID != "" && serverID != rec.ServerID {
			updates["server_id"] = serverID
			rec.ServerID = serverID
		}
		if pending == 0 {
			updates["sync_status"] = string(dtos.SyncStatusSynced)
			rec.SyncStatus = string(dtos.SyncStatusSynced)
		}
		if len(updates) == 0 {
			return nil
		}

		// Keep the JSON copy in step with the columns.
		e, err := toEntity(c, rec)
		if err != nil {
			return err
		}
		row, err := fromEntity(e)
		if err != nil {
			return err
		}
		updates["data"] = row.Data

		return tx.Table(string(c)).Where("id = ?", id).Updates(updates).Error
	})
}

// MarkRecordError flags a record whose push failed. Missing records are
// ignored.
func (s *Store) MarkRecordError(ctx context.Context, c dtos.Collection, id string) error {
	err := s.db.WithContext(ctx).Table(string(c)).
		Where("id = ?", id).
		Update("sync_status", string(dtos.SyncStatusError)).Error
	if err != nil {
		return fmt.Errorf("mark %s %s error: %w", c, id, err)
	}
	return nil
}

// DiscardRecord drops a record the server rejected, together with any
// queue items still referring to it.
func (s *Store) DiscardRecord(ctx context.Context, c dtos.Collection, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(string(c)).Where("id = ?", id).Delete(&localRecord{}).Error; err != nil {
			return fmt.Errorf("discard %s %s: %w", c, id, err)
		}
		return tx.Where("collection = ? AND record_id = ?", string(c), id).Delete(&QueueItem{}).Error
	})
}

// QueueItems returns every pending queue item in creation order.
func (s *Store) QueueItems(ctx context.Context) ([]QueueItem, error) {
	var items []QueueItem
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("read sync queue: %w", err)
	}
	return items, nil
}

func (s *Store) DeleteQueueItem(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&QueueItem{}).Error; err != nil {
		return fmt.Errorf("delete queue item %s: %w", id, err)
	}
	return nil
}

func (s *Store) QueueLength(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&QueueItem{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return n, nil
}

// ApplyRemote merges a pulled record through last-write-wins. It reports
// whether the local copy changed. Records with a queued local delete are
// left alone so a pull cannot resurrect them.
func (s *Store) ApplyRemote(ctx context.Context, c dtos.Collection, raw json.RawMessage) (bool, error) {
	remote, err := dtos.DecodeEntity(c, raw)
	if err != nil {
		return false, err
	}
	id := remote.Meta().ID
	if id == "" {
		return false, fmt.Errorf("remote %s record without id", c)
	}

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deletes int64
		if err := tx.Model(&QueueItem{}).
			Where("collection = ? AND record_id = ? AND type = ?", string(c), id, string(dtos.OpDelete)).
			Count(&deletes).Error; err != nil {
			return err
		}
		if deletes > 0 {
			return nil
		}

		existing, err := loadRecord(tx, c, id)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			local := lww.Stamps{CreatedAt: existing.CreatedAt, UpdatedAt: existing.UpdatedAt}
			if !lww.ShouldApply(remote, local, s.now().UnixMilli()) {
				return nil
			}
		}

		remote.Meta().SyncStatus = dtos.SyncStatusSynced
		row, err := fromEntity(remote)
		if err != nil {
			return err
		}
		if err := tx.Table(string(c)).Save(&row).Error; err != nil {
			return fmt.Errorf("apply remote %s %s: %w", c, id, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// ApplyRemoteDeletion removes a record deleted on another device, along
// with any local edits still queued for it.
func (s *Store) ApplyRemoteDeletion(ctx context.Context, c dtos.Collection, id string) error {
	return s.DiscardRecord(ctx, c, id)
}

// LastSyncAt returns the pull watermark, 0 before the first pull.
func (s *Store) LastSyncAt(ctx context.Context) (int64, error) {
	var meta syncMeta
	err := s.db.WithContext(ctx).Where("meta_key = ?", lastSyncKey).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sync meta: %w", err)
	}
	return meta.LastSyncAt, nil
}

func (s *Store) SetLastSyncAt(ctx context.Context, at int64) error {
	meta := syncMeta{Key: lastSyncKey, LastSyncAt: at}
	if err := s.db.WithContext(ctx).Save(&meta).Error; err != nil {
		return fmt.Errorf("write sync meta: %w", err)
	}
	return nil
}

func loadRecord(tx *gorm.DB, c dtos.Collection, id string) (*localRecord, error) {
	var rec localRecord
	err := tx.Table(string(c)).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %s: %w", c, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", c, id, err)
	}
	return &rec, nil
}

func toEntity(c dtos.Collection, rec *localRecord) (dtos.Entity, error) {
	e, err := dtos.DecodeEntity(c, []byte(rec.Data))
	if err != nil {
		return nil, err
	}
	meta := e.Meta()
	meta.ID = rec.ID
	meta.ServerID = rec.ServerID
	meta.CreatedAt = rec.CreatedAt
	meta.UpdatedAt = rec.UpdatedAt
	meta.SyncStatus = dtos.SyncStatus(rec.SyncStatus)
	return e, nil
}

func fromEntity(e dtos.Entity) (localRecord, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return localRecord{}, fmt.Errorf("encode %s: %w", e.Collection(), err)
	}
	meta := e.Meta()
	return localRecord{
		ID:         meta.ID,
		ServerID:   meta.ServerID,
		CreatedAt:  meta.CreatedAt,
		UpdatedAt:  meta.UpdatedAt,
		SyncStatus: string(meta.SyncStatus),
		SortDate:   e.SortDate(),
		Data:       string(data),
	}, nil
}

func mergePatch(e dtos.Entity, patch map[string]any) (dtos.Entity, error) {
	current, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(current, &fields); err != nil {
		return nil, err
	}
	for k, v := range patch {
		if protectedFields[k] {
			continue
		}
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return dtos.DecodeEntity(e.Collection(), merged)
}
