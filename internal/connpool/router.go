// Package connpool routes data access to the correct physical tenant
// database. Every tenant-scoped operation receives its connection as an
// explicit argument through WithTenant; there is no ambient
// "current tenant" state anywhere in the process.
package connpool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUnresolvedTenant is returned when the tenant's physical
	// database does not exist. The caller must provision first.
	ErrUnresolvedTenant = errors.New("tenant database does not exist")
	// ErrConnectionUnavailable is returned when the pool cannot
	// produce a connection. Retryable.
	ErrConnectionUnavailable = errors.New("tenant connection unavailable")
)

// invalid_catalog_name: connecting to a database that does not exist.
const codeInvalidCatalog = "3D000"

// PhysicalDatabaser is the capability a tenant-like value must carry to
// be routed to its own database.
type PhysicalDatabaser interface {
	PhysicalDatabase() string
}

// Router maintains one lazily-created pgx pool per physical tenant
// database. Pools are keyed by database name, so a checked-out
// connection can never be observed by a different tenant's scope.
type Router struct {
	baseURL  string
	maxConns int32
	pools    map[string]*pgxpool.Pool
	mutex    sync.Mutex
}

// NewRouter creates a Router. baseURL is the central connection URL;
// per-tenant URLs are derived from it by swapping the database name.
func NewRouter(baseURL string) *Router {
	return &Router{
		baseURL:  baseURL,
		maxConns: 4,
		pools:    make(map[string]*pgxpool.Pool),
	}
}

// WithTenant resolves the tenant to its physical database, acquires a
// connection bound to it, runs fn, and releases the connection on every
// exit path.
func (r *Router) WithTenant(ctx context.Context, tenant PhysicalDatabaser, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	name := tenant.PhysicalDatabase()
	if name == "" {
		return fmt.Errorf("tenant has no physical database: %w", ErrUnresolvedTenant)
	}

	pool, err := r.pool(ctx, name)
	if err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		if isInvalidCatalog(err) {
			return fmt.Errorf("database %q: %w", name, ErrUnresolvedTenant)
		}
		return fmt.Errorf("database %q: %v: %w", name, err, ErrConnectionUnavailable)
	}
	defer conn.Release()

	return fn(ctx, conn)
}

// Evict closes and forgets the pool for a physical database. Called
// after the database is dropped.
func (r *Router) Evict(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if pool, ok := r.pools[name]; ok {
		pool.Close()
		delete(r.pools, name)
	}
}

// Close tears down all tenant pools.
func (r *Router) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for name, pool := range r.pools {
		pool.Close()
		delete(r.pools, name)
	}
}

func (r *Router) pool(ctx context.Context, name string) (*pgxpool.Pool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if pool, ok := r.pools[name]; ok {
		return pool, nil
	}

	dsn, err := DSNForDatabase(r.baseURL, name)
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse tenant DSN for %q: %w", name, err)
	}
	cfg.MaxConns = r.maxConns
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database %q: %v: %w", name, err, ErrConnectionUnavailable)
	}

	r.pools[name] = pool
	return pool, nil
}

// DSNForDatabase swaps the database name in a postgres:// URL.
func DSNForDatabase(baseURL, name string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse connection URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("connection URL must be postgres://, got %q", u.Scheme)
	}
	u.Path = "/" + name
	return u.String(), nil
}

func isInvalidCatalog(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeInvalidCatalog
}
