package db

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"infinite-experiment/logbook/internal/db/migrations"
	gormModels "infinite-experiment/logbook/internal/models/gorm"
)

// Migrate applies the embedded Postgres migrations.
func (h *Handle) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, h.SQL.DB, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// AutoMigrate creates the schema from the GORM models. Used for embedded
// databases (tests, local development) where the SQL migrations don't apply.
func (h *Handle) AutoMigrate() error {
	return h.ORM.AutoMigrate(&gormModels.SyncRecord{}, &gormModels.Tombstone{})
}
