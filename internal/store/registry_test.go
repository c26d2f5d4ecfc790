package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/teresa-solution/tenant-provisioning-service/internal/crypto"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/provision"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
	"github.com/teresa-solution/tenant-provisioning-service/migrations"
)

// fakeRedis is an in-memory stand-in for the resolve cache.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if v, ok := f.data[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (f *fakeRedis) SetEx(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case string:
		f.data[key] = v
	case []byte:
		f.data[key] = string(v)
	}
	return redis.NewStatusCmd(ctx)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntCmd(ctx)
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

// setupRegistry spins up a Postgres container, applies the central
// migrations, and returns a Registry.
func setupRegistry(t *testing.T) *store.Registry {
	t.Helper()
	return setupRegistryWithCache(t, nil)
}

func setupRegistryWithCache(t *testing.T, rdb store.RedisClient) *store.Registry {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tenant_registry"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pgContainer.Terminate(ctx)) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, provision.ApplyMigrations(connStr, migrations.Central()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	codec, err := crypto.NewCodec([]byte("32-byte-key-for-aes-encryption!!"))
	require.NoError(t, err)

	return store.NewRegistry(pool, rdb, codec)
}

func newTenant(id string) *model.Tenant {
	return &model.Tenant{
		ID:           id,
		DisplayName:  "Tenant " + id,
		ContactEmail: id + "@example.com",
		PhysicalDB:   "tenant_" + id,
	}
}

func TestRegisterAndGetByID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)
	ctx := context.Background()

	tenant := newTenant("acme")
	require.NoError(t, registry.Register(ctx, tenant))
	assert.Equal(t, model.StatusProvisioning, tenant.Status)

	got, err := registry.GetByID(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Tenant acme", got.DisplayName)
	assert.Equal(t, "tenant_acme", got.PhysicalDB)
	// The email round-trips through encryption at rest.
	assert.Equal(t, "acme@example.com", got.ContactEmail)
}

func TestRegisterDuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, newTenant("acme")))

	dup := newTenant("acme")
	dup.ContactEmail = "other@example.com"
	err := registry.Register(ctx, dup)
	assert.ErrorIs(t, err, store.ErrDuplicateIdentity)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, newTenant("acme")))

	dup := newTenant("globex")
	dup.ContactEmail = "acme@example.com"
	err := registry.Register(ctx, dup)
	assert.ErrorIs(t, err, store.ErrDuplicateIdentity)
	// The error names the violated identity, not just the code.
	assert.Contains(t, err.Error(), "contact email in use")
}

func TestBindAndResolve(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, newTenant("acme")))
	require.NoError(t, registry.Bind(ctx, "acme", "acme"))

	got, err := registry.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.ID)

	_, err = registry.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBindConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, newTenant("acme")))
	require.NoError(t, registry.Register(ctx, newTenant("globex")))
	require.NoError(t, registry.Bind(ctx, "acme", "shared"))

	err := registry.Bind(ctx, "globex", "shared")
	assert.ErrorIs(t, err, store.ErrBindingConflict)
}

func TestBindUnknownTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)

	err := registry.Bind(context.Background(), "ghost", "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkActive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, newTenant("acme")))
	require.NoError(t, registry.MarkActive(ctx, "acme"))

	got, err := registry.GetByID(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)

	assert.ErrorIs(t, registry.MarkActive(ctx, "ghost"), store.ErrNotFound)
}

func TestRemoveCascadesBindings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, newTenant("acme")))
	require.NoError(t, registry.Bind(ctx, "acme", "acme"))
	require.NoError(t, registry.Remove(ctx, "acme"))

	_, err := registry.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = registry.GetByID(ctx, "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemoveEvictsResolveCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	cache := newFakeRedis()
	registry := setupRegistryWithCache(t, cache)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, newTenant("acme")))
	require.NoError(t, registry.Bind(ctx, "acme", "acme"))

	_, err := registry.Resolve(ctx, "acme")
	require.NoError(t, err)
	require.True(t, cache.has("binding:acme"))

	require.NoError(t, registry.Remove(ctx, "acme"))

	// The removed tenant must not linger in the cache nor resolve again.
	assert.False(t, cache.has("binding:acme"))
	_, err = registry.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, cache.has("binding:acme"))
}

func TestMarkDeletedHidesFromResolve(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	registry := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, newTenant("acme")))
	require.NoError(t, registry.Bind(ctx, "acme", "acme"))
	require.NoError(t, registry.MarkDeleted(ctx, "acme"))

	_, err := registry.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Operators can still inspect the soft-deleted record.
	got, err := registry.GetByID(ctx, "acme")
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt)
}
