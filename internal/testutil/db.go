// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLite opens a private in-memory database named after the test and
// migrates the given models into it.
func SQLite(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	return SQLiteNamed(t, "", models...)
}

// SQLiteNamed is SQLite for tests that need several databases, such as
// one per simulated device.
func SQLiteNamed(t *testing.T, suffix string, models ...interface{}) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name() + suffix)
	orm, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := orm.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		require.NoError(t, orm.AutoMigrate(models...))
	}
	return orm
}
