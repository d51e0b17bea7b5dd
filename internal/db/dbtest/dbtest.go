// Package dbtest opens throwaway databases for repository and service tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/hashjosh/meshauth/internal/db/bunx"
	"github.com/hashjosh/meshauth/internal/migrations"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// NewSQLite returns an in-memory SQLite database with every migration applied.
// The database is closed when the test finishes.
func NewSQLite(t testing.TB) *bun.DB {
	t.Helper()

	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	return db
}
