package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"querydesk/migrations"
)

// Apply brings the schema up to the newest migration bundled with the binary.
// A Postgres advisory lock keeps concurrent replicas from migrating twice.
func Apply(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	return apply(ctx, db.DB, migrations.Files, logger)
}

func apply(ctx context.Context, db *sql.DB, files fs.FS, logger *slog.Logger) error {
	latest, err := latestVersion(files)
	if err != nil {
		return err
	}

	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return fmt.Errorf("migrate: session locker: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, files, goose.WithSessionLocker(locker))
	if err != nil {
		return fmt.Errorf("migrate: goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	for _, res := range results {
		logger.Info("migration applied",
			"version", res.Source.Version,
			"file", path.Base(res.Source.Path),
			"duration", res.Duration,
		)
	}
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read version: %w", err)
	}
	if current < latest {
		return fmt.Errorf("migrate: schema at version %d, expected %d", current, latest)
	}

	logger.Info("database schema up to date", "version", current, "applied", len(results))
	return nil
}

// latestVersion checks that bundled migrations are numbered 1..n without gaps
// and returns n.
func latestVersion(files fs.FS) (int64, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return 0, fmt.Errorf("migrate: list migrations: %w", err)
	}
	if len(names) == 0 {
		return 0, fmt.Errorf("migrate: no migrations bundled")
	}

	var want int64 = 1
	for _, name := range names {
		version, err := goose.NumericComponent(name)
		if err != nil {
			return 0, fmt.Errorf("migrate: %s: %w", name, err)
		}
		if version != want {
			return 0, fmt.Errorf("migrate: %s has version %d, expected %d", name, version, want)
		}
		want++
	}
	return want - 1, nil
}
