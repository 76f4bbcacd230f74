package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"infinite-experiment/logbook/internal/api"
	"infinite-experiment/logbook/internal/common"
	"infinite-experiment/logbook/internal/config"
	"infinite-experiment/logbook/internal/db"
	"infinite-experiment/logbook/internal/jobs"
	"infinite-experiment/logbook/internal/logging"
	"infinite-experiment/logbook/internal/metrics"
	"infinite-experiment/logbook/internal/routes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// @title Logbook Sync API
// @version 1.0
// @description Sync server for offline-first pilot logbook clients.
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	if err := logging.Init(cfg.AppEnv); err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logging.Close()

	logging.Info("Logbook sync server starting up",
		"environment", cfg.AppEnv,
		"timestamp", time.Now().Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := db.Open(ctx, cfg.Postgres.DSN())
	if err != nil {
		logging.Fatal("Failed to connect to Postgres", "error", err.Error())
	}
	defer handle.Close()
	logging.Info("Connected to Postgres")

	if err := handle.Migrate(ctx); err != nil {
		logging.Fatal("Failed to run migrations", "error", err.Error())
	}

	metricsReg := metrics.NewMetricsRegistry(prometheus.DefaultRegisterer)

	deps, err := api.InitDependencies(handle, cfg, metricsReg)
	if err != nil {
		logging.Fatal("Failed to initialize dependencies", "error", err.Error())
	}

	checks := map[string]api.Pinger{"postgres": handle}

	// Redis is optional; without it the sweep lock is process-local.
	var locker common.Locker = common.NewLocalLocker()
	if cfg.Redis.Enabled() {
		client := common.NewRedisClient(cfg.Redis)
		defer client.Close()
		locker = common.NewRedisLocker(client)
		checks["redis"] = redisPinger{client}
	}

	jobs.InitializeJobs(ctx, deps.Repo.Tombstones, locker, metricsReg, cfg.Sync.TombstoneTTL, cfg.Sync.SweepInterval)

	router := routes.RegisterRoutes(deps, checks, prometheus.DefaultGatherer, time.Now())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("Server starting", "addr", cfg.HTTPAddr, "environment", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Server failed", "error", err.Error())
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Graceful shutdown failed", "error", err.Error())
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
