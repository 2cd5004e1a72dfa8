package sqlstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// MigrationResult reports the schema version before and after Migrate.
type MigrationResult struct {
	From    uint
	To      uint
	Changed bool
}

// Migrate applies the embedded migrations for backend.
//   - If targetVersion < 0, it migrates to the latest version.
//   - If targetVersion == 0, it rolls back all migrations.
//   - If targetVersion > 0, it migrates to the specified version.
//
// It uses its own connection because the migrate driver closes the
// database it was given.
func Migrate(ctx context.Context, backend Backend, dsn string, targetVersion int) (MigrationResult, error) {
	var res MigrationResult

	db, err := openDB(backend, dsn)
	if err != nil {
		return res, err
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return res, fmt.Errorf("failed to ping database: %w", err)
	}

	var driver database.Driver
	switch backend {
	case SQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case MySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{})
	case Postgres:
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	default:
		return res, fmt.Errorf("unsupported backend: %s", backend)
	}
	if err != nil {
		return res, fmt.Errorf("failed to create %s migrate driver: %w", backend, err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+string(backend))
	if err != nil {
		return res, fmt.Errorf("failed to access migrations directory: %w", err)
	}
	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return res, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(backend), driver)
	if err != nil {
		return res, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Closes the source and the database driver; the db.Close above is then a no-op.
	defer func() { _, _ = m.Close() }()

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return res, fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty {
		return res, fmt.Errorf("database is in a dirty state at version %d. Please fix manually or force version", current)
	}
	res.From = current

	switch {
	case targetVersion < 0:
		err = m.Up()
	case targetVersion == 0:
		err = m.Down()
	default:
		err = m.Migrate(uint(targetVersion))
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return res, fmt.Errorf("failed to migrate %s schema (target %d): %w", backend, targetVersion, err)
	}
	res.Changed = err == nil

	res.To, _, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return res, fmt.Errorf("failed to read migrated version: %w", err)
	}

	log.Info().
		Str("backend", string(backend)).
		Uint("from", res.From).
		Uint("to", res.To).
		Bool("changed", res.Changed).
		Msg("Schema migration finished")

	return res, nil
}
