package repositories

import (
	"context"
	"fmt"

	gormModels "infinite-experiment/logbook/internal/models/gorm"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// storedRecency mirrors lww.Recency for a row already in sync_records.
const storedRecency = "COALESCE(NULLIF(sync_records.updated_at, 0), NULLIF(sync_records.created_at, 0), 0)"

type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a GORM-based repository over sync_records
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// FindByLocalIDs fetches the user's records in a collection by client id
func (r *RecordRepository) FindByLocalIDs(ctx context.Context, userID, collection string, localIDs []string) ([]gormModels.SyncRecord, error) {
	var records []gormModels.SyncRecord
	if len(localIDs) == 0 {
		return records, nil
	}

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND collection = ? AND local_id IN ?", userID, collection, localIDs).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records by local id: %w", err)
	}
	return records, nil
}

// FindExisting fetches the user's records in a collection matching any of
// the client ids or server ids.
func (r *RecordRepository) FindExisting(ctx context.Context, userID, collection string, localIDs, serverIDs []string) ([]gormModels.SyncRecord, error) {
	var records []gormModels.SyncRecord
	if len(localIDs) == 0 && len(serverIDs) == 0 {
		return records, nil
	}

	q := r.db.WithContext(ctx).Where("user_id = ? AND collection = ?", userID, collection)
	switch {
	case len(serverIDs) == 0:
		q = q.Where("local_id IN ?", localIDs)
	case len(localIDs) == 0:
		q = q.Where("server_id IN ?", serverIDs)
	default:
		q = q.Where("(local_id IN ? OR server_id IN ?)", localIDs, serverIDs)
	}

	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch existing records: %w", err)
	}
	return records, nil
}

// Insert creates a record. If another writer created the same
// (user, collection, local id) first, the stored row is overwritten only
// when the incoming recency is at least the stored one, and keeps its
// original server id.
func (r *RecordRepository) Insert(ctx context.Context, rec *gormModels.SyncRecord, recency int64) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "collection"}, {Name: "local_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"created_at",
				"updated_at",
				"synced_at",
				"sort_date",
				"data",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: storedRecency + " <= ?", Vars: []interface{}{recency}},
			}},
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.LocalID, err)
	}
	return nil
}

// Update overwrites the user's record with the same collection and client
// id. The write is skipped when a newer version landed since it was read.
func (r *RecordRepository) Update(ctx context.Context, rec *gormModels.SyncRecord, recency int64) error {
	err := r.db.WithContext(ctx).
		Model(&gormModels.SyncRecord{}).
		Where("user_id = ? AND collection = ? AND local_id = ?", rec.UserID, rec.Collection, rec.LocalID).
		Where(storedRecency+" <= ?", recency).
		Updates(map[string]interface{}{
			"created_at": rec.CreatedAt,
			"updated_at": rec.UpdatedAt,
			"synced_at":  rec.SyncedAt,
			"sort_date":  rec.SortDate,
			"data":       rec.Data,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.LocalID, err)
	}
	return nil
}

// Delete removes the record matching either the client id or the server id.
func (r *RecordRepository) Delete(ctx context.Context, userID, collection, localID, serverID string) (int64, error) {
	q := r.db.WithContext(ctx).Where("user_id = ? AND collection = ?", userID, collection)
	if serverID != "" {
		q = q.Where("(local_id = ? OR server_id = ?)", localID, serverID)
	} else {
		q = q.Where("local_id = ?", localID)
	}

	res := q.Delete(&gormModels.SyncRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete record %s: %w", localID, res.Error)
	}
	return res.RowsAffected, nil
}

// ListChangedSince returns records created or updated after since, or
// written by the server at or after since, newest calendar date first.
func (r *RecordRepository) ListChangedSince(ctx context.Context, userID, collection string, since int64) ([]gormModels.SyncRecord, error) {
	var records []gormModels.SyncRecord

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND collection = ?", userID, collection).
		Where("(updated_at > ? OR created_at > ? OR synced_at >= ?)", since, since, since).
		Order("sort_date DESC").
		Order(storedRecency + " DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list changed records: %w", err)
	}
	return records, nil
}
