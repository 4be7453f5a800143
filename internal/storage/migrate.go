package storage

import (
	"context"
	"fmt"
	"io/fs"
	"slices"

	"github.com/jackc/pgx/v5"
)

// migrationLockKey serializes migrators across processes, such as a
// `tasklane migrate` racing a starting server.
const migrationLockKey int64 = 0x7461736b6c616e65 // "tasklane"

// RunMigrations applies every *.sql file in migrationsFS that schema_migrations
// has not recorded, in name order. Each file runs in its own transaction
// together with its version row, so a failing file leaves nothing behind and
// is retried on the next start.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	names, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return fmt.Errorf("storage: list migrations: %w", err)
	}
	slices.Sort(names)

	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	for _, name := range names {
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		applied, err := db.applyMigration(ctx, name, string(content))
		if err != nil {
			return fmt.Errorf("storage: migration %s: %w", name, err)
		}
		if applied {
			db.logger.Info("storage: applied migration", "file", name)
		} else {
			db.logger.Debug("storage: migration already applied", "file", name)
		}
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, name, sql string) (bool, error) {
	var applied bool
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		applied = false
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		var done bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, name,
		).Scan(&done); err != nil {
			return fmt.Errorf("check version: %w", err)
		}
		if done {
			return nil
		}
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("record version: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}
