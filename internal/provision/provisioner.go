package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
	"github.com/teresa-solution/tenant-provisioning-service/internal/connpool"
)

// duplicate_database: CREATE DATABASE for a name that already exists.
const codeDuplicateDatabase = "42P04"

// Provisioner creates, migrates and destroys physical tenant databases.
// DDL runs on the central pool; the connection user needs CREATEDB.
type Provisioner struct {
	admin       *pgxpool.Pool
	baseURL     string
	prefix      string
	retries     int
	stepTimeout time.Duration
	migrations  fs.FS
}

// NewProvisioner creates a Provisioner. migrations is the ordered
// tenant schema migration set.
func NewProvisioner(admin *pgxpool.Pool, baseURL string, cfg config.TenancyConfig, migrations fs.FS) *Provisioner {
	return &Provisioner{
		admin:       admin,
		baseURL:     baseURL,
		prefix:      cfg.DatabasePrefix,
		retries:     cfg.CreateRetries,
		stepTimeout: cfg.StepTimeout,
		migrations:  migrations,
	}
}

// PhysicalName derives the database name for a tenant id.
func (p *Provisioner) PhysicalName(tenantID string) string {
	return PhysicalName(p.prefix, tenantID)
}

// Create issues CREATE DATABASE for the tenant and then verifies the
// database is actually present in the catalog. The create call's own
// result is never trusted as proof of existence. An already-existing
// database is accepted, so a crashed run can resume.
func (p *Provisioner) Create(ctx context.Context, tenantID string) (string, error) {
	name := p.PhysicalName(tenantID)
	stmt := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{name}.Sanitize())

	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		_, err := p.admin.Exec(ctx, stmt)
		if err == nil || isPgCode(err, codeDuplicateDatabase) {
			lastErr = nil
			break
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		log.Warn().Err(err).Str("physical_db", name).Int("attempt", attempt).
			Msg("Create database failed, retrying")
		select {
		case <-ctx.Done():
			return "", &ProvisioningError{Step: "create", PhysicalDB: name, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	if lastErr != nil {
		return "", &ProvisioningError{Step: "create", PhysicalDB: name, Err: lastErr}
	}

	exists, err := p.Exists(ctx, name)
	if err != nil {
		return "", &ProvisioningError{Step: "verify", PhysicalDB: name, Err: err}
	}
	if !exists {
		return "", &ProvisioningError{Step: "verify", PhysicalDB: name,
			Err: errors.New("database missing from catalog after create")}
	}
	return name, nil
}

// Exists probes the catalog for the physical database.
func (p *Provisioner) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := p.admin.QueryRow(ctx,
		`SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query pg_database for %q: %w", name, err)
	}
	return true, nil
}

// Migrate applies the full tenant migration set to the physical
// database. Each statement runs under the provisioning step timeout; a
// timed-out statement fails the migration rather than hanging the saga.
// On failure, partial state is left in place.
func (p *Provisioner) Migrate(ctx context.Context, name string) error {
	dsn, err := connpool.DSNForDatabase(p.baseURL, name)
	if err != nil {
		return &MigrationError{Step: "source", Cause: err}
	}

	m, err := newMigrator(dsn, p.migrations, p.stepTimeout)
	if err != nil {
		return &MigrationError{Step: "setup", Cause: err}
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		step := "up"
		if v, dirty, verr := m.Version(); verr == nil && dirty {
			step = fmt.Sprintf("version %d", v)
		}
		return &MigrationError{Step: step, Cause: err}
	}
	return nil
}

// Version reports the schema version currently applied to the physical
// database.
func (p *Provisioner) Version(ctx context.Context, name string) (uint, bool, error) {
	dsn, err := connpool.DSNForDatabase(p.baseURL, name)
	if err != nil {
		return 0, false, err
	}
	m, err := newMigrator(dsn, p.migrations, p.stepTimeout)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	v, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version of %q: %w", name, err)
	}
	return v, dirty, nil
}

// Drop destroys the physical database. Idempotent: dropping an absent
// database is a no-op. FORCE disconnects any remaining sessions first.
func (p *Provisioner) Drop(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pgx.Identifier{name}.Sanitize())
	if _, err := p.admin.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("drop database %q: %w", name, err)
	}
	return nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// isTransient reports whether an error is worth a bounded retry:
// anything that is not a definitive server-side SQL error (network
// failures, timeouts) qualifies.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	return !errors.As(err, &pgErr)
}
