package provision

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// newMigrator opens a database/sql handle over pgx for the given DSN
// and builds a migrator from the embedded source. A non-zero timeout
// bounds each migration statement; zero means no deadline. The caller
// must Close the returned migrator, which also closes the source and
// handle.
func newMigrator(dsn string, src fs.FS, timeout time.Duration) (*migrate.Migrate, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	db := stdlib.OpenDB(*cfg)

	driver, err := postgres.WithInstance(db, &postgres.Config{StatementTimeout: timeout})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(src, ".")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// ApplyMigrations brings the database at dsn up to the latest version
// of the given migration set. Used for the central registry schema; the
// Provisioner wraps the same mechanism for tenant databases.
func ApplyMigrations(dsn string, src fs.FS) error {
	m, err := newMigrator(dsn, src, 0)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
