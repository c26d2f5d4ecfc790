package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/crypto"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

const resolveCacheTTL = 1 * time.Hour

// Registry is the durable record of known tenants and their route
// bindings, backed by the central database. Uniqueness of tenant ids,
// contact emails and binding keys is enforced by database constraints,
// never by check-then-insert.
type Registry struct {
	pool  *pgxpool.Pool
	redis RedisClient // nil disables the resolve cache
	codec *crypto.Codec
}

// NewRegistry creates a Registry. redis and codec may be nil.
func NewRegistry(pool *pgxpool.Pool, redis RedisClient, codec *crypto.Codec) *Registry {
	return &Registry{pool: pool, redis: redis, codec: codec}
}

// Register inserts a new tenant with status=provisioning.
func (r *Registry) Register(ctx context.Context, tenant *model.Tenant) error {
	tenant.Status = model.StatusProvisioning
	tenant.CreatedAt = time.Now()
	tenant.UpdatedAt = tenant.CreatedAt

	var digest *string
	if tenant.ContactEmail != "" {
		encrypted, iv, err := r.codec.Encrypt(tenant.ContactEmail)
		if err != nil {
			return fmt.Errorf("encrypt contact email: %w", err)
		}
		tenant.EncryptedEmail = encrypted
		tenant.EmailIV = iv
		d := emailDigest(tenant.ContactEmail)
		digest = &d
	}

	query := `INSERT INTO tenants (id, display_name, encrypted_email, email_iv, email_digest, status, physical_db, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		tenant.ID, tenant.DisplayName, tenant.EncryptedEmail, tenant.EmailIV,
		digest, tenant.Status, tenant.PhysicalDB,
		tenant.CreatedAt, tenant.UpdatedAt,
	)
	if pgErrCode(err) == codeUniqueViolation {
		if pgConstraint(err) == "tenants_email_digest_key" {
			return fmt.Errorf("register tenant %q: contact email in use: %w", tenant.ID, ErrDuplicateIdentity)
		}
		return fmt.Errorf("register tenant %q: id in use: %w", tenant.ID, ErrDuplicateIdentity)
	}
	if err != nil {
		return fmt.Errorf("register tenant %q: %w", tenant.ID, err)
	}
	return nil
}

// Bind inserts a route binding for the tenant.
func (r *Registry) Bind(ctx context.Context, tenantID, bindingKey string) error {
	query := `INSERT INTO route_bindings (id, binding_key, tenant_id, created_at)
              VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, uuid.New(), bindingKey, tenantID, time.Now())
	switch pgErrCode(err) {
	case codeUniqueViolation:
		return fmt.Errorf("bind %q to tenant %q: %w", bindingKey, tenantID, ErrBindingConflict)
	case codeForeignKeyViolation:
		return fmt.Errorf("bind %q to tenant %q: %w", bindingKey, tenantID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("bind %q to tenant %q: %w", bindingKey, tenantID, err)
	}

	r.invalidate(ctx, bindingKey)
	return nil
}

// Resolve looks up the tenant bound to the given key. Results are
// cached in redis when a client is configured.
func (r *Registry) Resolve(ctx context.Context, bindingKey string) (*model.Tenant, error) {
	if r.redis != nil {
		cached, err := r.redis.Get(ctx, cacheKey(bindingKey)).Result()
		if err == nil {
			tenant := &model.Tenant{}
			if err := json.Unmarshal([]byte(cached), tenant); err == nil {
				return tenant, nil
			}
		}
	}

	query := `SELECT t.id, t.display_name, t.encrypted_email, t.email_iv, t.status, t.physical_db, t.created_at, t.updated_at, t.deleted_at
              FROM tenants t
              JOIN route_bindings b ON b.tenant_id = t.id
              WHERE b.binding_key = $1 AND t.deleted_at IS NULL`
	tenant, err := r.scanTenant(r.pool.QueryRow(ctx, query, bindingKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve binding %q: %w", bindingKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve binding %q: %w", bindingKey, err)
	}

	if r.redis != nil {
		if data, err := json.Marshal(tenant); err == nil {
			r.redis.SetEx(ctx, cacheKey(bindingKey), data, resolveCacheTTL)
		}
	}
	return tenant, nil
}

// GetByID retrieves a tenant regardless of status. Soft-deleted tenants
// are still visible here so operators can inspect them.
func (r *Registry) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	query := `SELECT id, display_name, encrypted_email, email_iv, status, physical_db, created_at, updated_at, deleted_at
              FROM tenants WHERE id = $1`
	tenant, err := r.scanTenant(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get tenant %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %q: %w", id, err)
	}
	return tenant, nil
}

// MarkActive flips the tenant to status=active.
func (r *Registry) MarkActive(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, model.StatusActive)
}

// MarkDeleted soft-deletes the tenant.
func (r *Registry) MarkDeleted(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tenants SET status = $2, deleted_at = now(), updated_at = now()
         WHERE id = $1 AND deleted_at IS NULL`, id, model.StatusDeleted)
	if err != nil {
		return fmt.Errorf("mark tenant %q deleted: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark tenant %q deleted: %w", id, ErrNotFound)
	}
	r.invalidateTenant(ctx, id)
	return nil
}

// Remove hard-deletes the tenant and all its bindings. Used during
// provisioning rollback and final deprovisioning.
func (r *Registry) Remove(ctx context.Context, id string) error {
	// Binding keys must be read before the cascade deletes them, but
	// invalidation must follow the delete: the reverse order lets a
	// concurrent Resolve re-cache the dead tenant for the full TTL.
	var keys []string
	if r.redis != nil {
		var err error
		if keys, err = r.Bindings(ctx, id); err != nil {
			log.Warn().Err(err).Str("tenant_id", id).Msg("Failed to enumerate bindings for cache invalidation")
		}
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove tenant %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove tenant %q: %w", id, ErrNotFound)
	}

	for _, key := range keys {
		r.invalidate(ctx, key)
	}
	return nil
}

// Bindings returns the binding keys attached to a tenant.
func (r *Registry) Bindings(ctx context.Context, id string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT binding_key FROM route_bindings WHERE tenant_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("list bindings for tenant %q: %w", id, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// List returns all non-deleted tenants, oldest first.
func (r *Registry) List(ctx context.Context) ([]*model.Tenant, error) {
	query := `SELECT id, display_name, encrypted_email, email_iv, status, physical_db, created_at, updated_at, deleted_at
              FROM tenants WHERE deleted_at IS NULL ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*model.Tenant
	for rows.Next() {
		tenant, err := r.scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func (r *Registry) setStatus(ctx context.Context, id string, status model.Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tenants SET status = $2, updated_at = now()
         WHERE id = $1 AND deleted_at IS NULL`, id, status)
	if err != nil {
		return fmt.Errorf("set tenant %q status %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set tenant %q status %s: %w", id, status, ErrNotFound)
	}
	r.invalidateTenant(ctx, id)
	return nil
}

func (r *Registry) scanTenant(row pgx.Row) (*model.Tenant, error) {
	tenant := &model.Tenant{}
	err := row.Scan(&tenant.ID, &tenant.DisplayName, &tenant.EncryptedEmail, &tenant.EmailIV,
		&tenant.Status, &tenant.PhysicalDB, &tenant.CreatedAt, &tenant.UpdatedAt, &tenant.DeletedAt)
	if err != nil {
		return nil, err
	}

	if len(tenant.EncryptedEmail) > 0 {
		contactEmail, err := r.codec.Decrypt(tenant.EncryptedEmail, tenant.EmailIV)
		if err != nil {
			return nil, fmt.Errorf("decrypt contact email: %w", err)
		}
		tenant.ContactEmail = contactEmail
	}
	return tenant, nil
}

// invalidateTenant drops cached resolutions for every binding the
// tenant holds.
func (r *Registry) invalidateTenant(ctx context.Context, id string) {
	if r.redis == nil {
		return
	}
	keys, err := r.Bindings(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", id).Msg("Failed to enumerate bindings for cache invalidation")
		return
	}
	for _, key := range keys {
		r.invalidate(ctx, key)
	}
}

func (r *Registry) invalidate(ctx context.Context, bindingKey string) {
	if r.redis == nil {
		return
	}
	r.redis.Del(ctx, cacheKey(bindingKey))
}

func cacheKey(bindingKey string) string {
	return fmt.Sprintf("binding:%s", bindingKey)
}

// emailDigest yields a stable digest used only for the uniqueness
// constraint; the email itself is stored encrypted.
func emailDigest(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
