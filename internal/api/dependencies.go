package api

import (
	"infinite-experiment/logbook/internal/auth"
	"infinite-experiment/logbook/internal/config"
	"infinite-experiment/logbook/internal/db"
	"infinite-experiment/logbook/internal/db/repositories"
	"infinite-experiment/logbook/internal/metrics"
	"infinite-experiment/logbook/internal/services"
)

type Repositories struct {
	Records    *repositories.RecordRepository
	Tombstones *repositories.TombstoneRepository
}

type Services struct {
	Sync  *services.SyncService
	Delta *services.DeltaService
}

type Dependencies struct {
	Handle    *db.Handle
	Repo      *Repositories
	Services  *Services
	Metrics   *metrics.MetricsRegistry
	Validator auth.SessionValidator
	Config    *config.Config
}

// InitDependencies wires repositories and services over an open handle.
func InitDependencies(handle *db.Handle, cfg *config.Config, metricsReg *metrics.MetricsRegistry) (*Dependencies, error) {
	repos := &Repositories{
		Records:    repositories.NewRecordRepository(handle.ORM),
		Tombstones: repositories.NewTombstoneRepository(handle.ORM, handle.SQL),
	}

	svcs := &Services{
		Sync: services.NewSyncService(repos.Records, repos.Tombstones, services.SyncOptions{
			TombstoneTTL: cfg.Sync.TombstoneTTL,
			BatchSize:    cfg.Sync.BulkBatchSize,
			Concurrency:  cfg.Sync.BulkConcurrency,
		}, metricsReg),
		Delta: services.NewDeltaService(repos.Records, repos.Tombstones, metricsReg),
	}

	return &Dependencies{
		Handle:    handle,
		Repo:      repos,
		Services:  svcs,
		Metrics:   metricsReg,
		Validator: auth.NewJWTValidator(cfg.JWTSecret),
		Config:    cfg,
	}, nil
}
