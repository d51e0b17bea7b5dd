package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/hashjosh/meshauth/internal/db/bunx"
	"github.com/hashjosh/meshauth/internal/migrations"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the users and refresh_sessions schema.`,
}

// withMigrator opens the database and runs fn with a migrator over the registered migrations.
func withMigrator(fn func(ctx context.Context, m *migrate.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func(db *bun.DB) { _ = bunx.Close(db) }(db)

		return fn(cmd.Context(), migrate.NewMigrator(db, migrations.Migrations))
	}
}

// locked holds the migration lock around fn.
func locked(ctx context.Context, m *migrate.Migrator, fn func() error) error {
	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := m.Unlock(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to release migration lock")
		}
	}()
	return fn()
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize migration tables",
	Long:  `Creates the migration tracking tables in the database. Run this once during initial setup.`,
	RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
		if err := m.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize migrator: %w", err)
		}
		log.Info().Msg("migration tables initialized")
		return nil
	}),
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Applies all pending migrations to the database with locking to prevent concurrent migrations.`,
	RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
		if err := m.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize migrator: %w", err)
		}
		return locked(ctx, m, func() error {
			group, err := m.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if group.IsZero() {
				log.Info().Msg("no new migrations to apply")
				return nil
			}
			log.Info().Int64("group", group.ID).Msg("applied migration group")
			return nil
		})
	}),
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  `Displays the current migration status and pending migrations.`,
	RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
		ms, err := m.MigrationsWithStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		for _, mig := range ms {
			status := "pending"
			if mig.GroupID > 0 {
				status = fmt.Sprintf("applied (group %d)", mig.GroupID)
			}
			fmt.Printf("  %s: %s\n", mig.Name, status)
		}
		return nil
	}),
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback last migration group",
	Long:  `Rolls back the most recently applied migration group with locking to prevent concurrent operations.`,
	RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
		return locked(ctx, m, func() error {
			group, err := m.Rollback(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if group.IsZero() {
				log.Info().Msg("no migrations to rollback")
				return nil
			}
			log.Info().Int64("group", group.ID).Msg("rolled back migration group")
			return nil
		})
	}),
}

var dbUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force release migration lock",
	Long:  `Force releases the migration lock. Use this if a migration crashed while holding the lock.`,
	RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
		if err := m.Unlock(ctx); err != nil {
			return fmt.Errorf("failed to release migration lock: %w", err)
		}
		log.Info().Msg("migration lock released")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
	dbCmd.AddCommand(dbUnlockCmd)
}
