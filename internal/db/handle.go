package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Handle owns the server's database connections. It is opened once at
// service start, passed to repositories and closed at shutdown.
type Handle struct {
	ORM *gorm.DB
	SQL *sqlx.DB

	closeORM bool
}

// Open connects to Postgres through GORM and sqlx, retrying while the
// database comes up.
func Open(ctx context.Context, dsn string) (*Handle, error) {
	var (
		sqlDB *sqlx.DB
		err   error
	)
	for i := 0; i < 10; i++ {
		sqlDB, err = sqlx.ConnectContext(ctx, "postgres", dsn)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres (sqlx): %w", err)
	}

	orm, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to postgres (gorm): %w", err)
	}

	return &Handle{ORM: orm, SQL: sqlDB, closeORM: true}, nil
}

// Wrap builds a Handle around an existing GORM connection; the sqlx side
// shares the same pool. driverName selects sqlx's bind variable style.
func Wrap(orm *gorm.DB, driverName string) (*Handle, error) {
	sqlDB, err := orm.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB from gorm: %w", err)
	}
	return &Handle{ORM: orm, SQL: sqlx.NewDb(sqlDB, driverName)}, nil
}

// Ping checks the connection used by the health endpoint.
func (h *Handle) Ping(ctx context.Context) error {
	return h.SQL.PingContext(ctx)
}

// Close releases both connection pools.
func (h *Handle) Close() error {
	var errs []error
	if h.closeORM {
		if sqlDB, err := h.ORM.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	errs = append(errs, h.SQL.Close())
	return errors.Join(errs...)
}
