// Package repotest provides an in-memory Repository for tests.
package repotest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"mailagent-go/internal/db"
	"mailagent-go/internal/repository"
)

// New returns a migrated Repository backed by a private in-memory sqlite database.
func New(t testing.TB) *repository.Repository {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := db.Open(sqlite.Open(dsn))
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return repository.New(gdb)
}
