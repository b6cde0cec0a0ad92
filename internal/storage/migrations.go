package storage

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/gofrs/flock"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// Migration is a single idempotent schema change applied at startup.
type Migration struct {
	Name string
	Func func(ctx context.Context, db DBTX) error
}

// migrationsList is the ordered list of all migrations. The base schema is
// applied first; later entries evolve databases created by earlier builds.
var migrationsList = []Migration{
	{"base_schema", migrateBaseSchema},
	{"tasks_scheduled_at_index", migrateTasksScheduledAtIndex},
	{"distributions_staging_index", migrateDistributionsStagingIndex},
}

func migrateBaseSchema(ctx context.Context, db DBTX) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

func migrateTasksScheduledAtIndex(ctx context.Context, db DBTX) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_scheduled ON tasks(scheduled_at) WHERE scheduled_at IS NOT NULL`)
	return err
}

func migrateDistributionsStagingIndex(ctx context.Context, db DBTX) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_distributions_staging ON distributions(release, staging)`)
	return err
}

// Migrate applies all pending migrations. It takes a lock file next to the
// database so that concurrently starting processes serialize on schema
// changes.
func (s *Store) Migrate(ctx context.Context) error {
	const op = "storage.Migrate"

	lock := flock.New(filepath.Join(filepath.Dir(s.path), ".atr-migrate.lock"))
	if err := lock.Lock(); err != nil {
		return atrerrors.FatalWrap(err, op, "failed to acquire migration lock")
	}
	defer lock.Unlock() //nolint:errcheck

	// The bookkeeping table must exist before we can consult it.
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return atrerrors.FatalWrap(err, op, "failed to create schema_migrations table")
	}

	for _, m := range migrationsList {
		applied, err := s.migrationApplied(ctx, m.Name)
		if err != nil {
			return atrerrors.FatalWrap(err, op, "failed to query schema_migrations")
		}
		if applied {
			continue
		}

		err = s.WithWriteTx(ctx, func(q *Queries) error {
			if err := m.Func(ctx, q.db); err != nil {
				return err
			}
			_, err := q.db.ExecContext(ctx,
				`INSERT INTO schema_migrations (name) VALUES (?)`, m.Name)
			return err
		})
		if err != nil {
			return atrerrors.Wrapf(err, atrerrors.KindFatal, op, "migration %q failed", m.Name)
		}
	}

	return nil
}

func (s *Store) migrationApplied(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	return n > 0, nil
}
