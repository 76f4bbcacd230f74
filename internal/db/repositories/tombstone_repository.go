package repositories

import (
	"context"
	"fmt"

	gormModels "infinite-experiment/logbook/internal/models/gorm"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const deleteExpiredTombstones = `DELETE FROM tombstones WHERE deleted_at < ?`

type TombstoneRepository struct {
	db  *gorm.DB
	sql *sqlx.DB
}

// NewTombstoneRepository creates the tombstone repository. Lookups go
// through GORM; the retention sweep runs as plain SQL through sqlx.
func NewTombstoneRepository(db *gorm.DB, sqlDB *sqlx.DB) *TombstoneRepository {
	return &TombstoneRepository{db: db, sql: sqlDB}
}

// Upsert creates the tombstone or refreshes its deletion time. A refresh
// without a server id keeps the one already stored.
func (r *TombstoneRepository) Upsert(ctx context.Context, t *gormModels.Tombstone) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "collection"}, {Name: "record_id"}},
			DoUpdates: clause.Set{
				{Column: clause.Column{Name: "deleted_at"}, Value: gorm.Expr("excluded.deleted_at")},
				{Column: clause.Column{Name: "server_id"}, Value: gorm.Expr("COALESCE(excluded.server_id, tombstones.server_id)")},
			},
		}).
		Create(t).Error
	if err != nil {
		return fmt.Errorf("failed to upsert tombstone %s: %w", t.RecordID, err)
	}
	return nil
}

// FindLive returns tombstones for the given record ids that were written
// after cutoff. Expired rows the sweep hasn't reached yet are excluded.
func (r *TombstoneRepository) FindLive(ctx context.Context, userID, collection string, recordIDs []string, cutoff int64) ([]gormModels.Tombstone, error) {
	var tombstones []gormModels.Tombstone
	if len(recordIDs) == 0 {
		return tombstones, nil
	}

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND collection = ? AND record_id IN ? AND deleted_at >= ?", userID, collection, recordIDs, cutoff).
		Find(&tombstones).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tombstones: %w", err)
	}
	return tombstones, nil
}

// ListSince returns tombstones written at or after since, for delta responses.
func (r *TombstoneRepository) ListSince(ctx context.Context, userID, collection string, since int64) ([]gormModels.Tombstone, error) {
	var tombstones []gormModels.Tombstone

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND collection = ? AND deleted_at >= ?", userID, collection, since).
		Order("deleted_at ASC").
		Find(&tombstones).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	return tombstones, nil
}

// DeleteExpired removes every tombstone written before cutoff.
func (r *TombstoneRepository) DeleteExpired(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.sql.ExecContext(ctx, r.sql.Rebind(deleteExpiredTombstones), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tombstones: %w", err)
	}
	return res.RowsAffected()
}
