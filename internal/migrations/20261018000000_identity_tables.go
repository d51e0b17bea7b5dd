package migrations

import (
	"context"
	"fmt"

	"github.com/hashjosh/meshauth/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261018000000, down_20261018000000)
}

// up_20261018000000 creates the users and refresh_sessions tables
func up_20261018000000(ctx context.Context, db *bun.DB) error {
	// 1. Create users table
	fmt.Print(" [up] creating users table...")
	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	fmt.Println(" OK")

	// 2. Create refresh_sessions table
	fmt.Print(" [up] creating refresh_sessions table...")
	_, err = db.NewCreateTable().
		Model((*models.RefreshSession)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create refresh_sessions table: %w", err)
	}

	// Rotation deletes by (user_ref, token_hash); token_hash is already unique.
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_refresh_sessions_user_ref ON refresh_sessions(user_ref)`)
	if err != nil {
		return fmt.Errorf("failed to create refresh_sessions user_ref index: %w", err)
	}

	// Used by the expiry sweep
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_refresh_sessions_expires_at ON refresh_sessions(expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create refresh_sessions expires_at index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20261018000000 drops the identity tables in reverse order
func down_20261018000000(ctx context.Context, db *bun.DB) error {
	tables := []string{
		"refresh_sessions",
		"users",
	}

	for _, table := range tables {
		fmt.Printf(" [down] dropping %s table...", table)
		if err := dropTable(ctx, db, table); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", table, err)
		}
		fmt.Println(" OK")
	}

	return nil
}
