package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

// fakeRegistry records calls and fails on demand, standing in for the
// central database.
type fakeRegistry struct {
	tenants map[string]*model.Tenant
	calls   []string

	registerErr error
	bindErr     error
	activateErr error
	removeErr   error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tenants: make(map[string]*model.Tenant)}
}

func (f *fakeRegistry) GetByID(_ context.Context, id string) (*model.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeRegistry) Register(_ context.Context, tenant *model.Tenant) error {
	f.calls = append(f.calls, "register")
	if f.registerErr != nil {
		return f.registerErr
	}
	tenant.Status = model.StatusProvisioning
	f.tenants[tenant.ID] = tenant
	return nil
}

func (f *fakeRegistry) Bind(_ context.Context, tenantID, bindingKey string) error {
	f.calls = append(f.calls, "bind")
	return f.bindErr
}

func (f *fakeRegistry) MarkActive(_ context.Context, id string) error {
	f.calls = append(f.calls, "activate")
	if f.activateErr != nil {
		return f.activateErr
	}
	f.tenants[id].Status = model.StatusActive
	return nil
}

func (f *fakeRegistry) MarkDeleted(_ context.Context, id string) error {
	f.calls = append(f.calls, "mark_deleted")
	t, ok := f.tenants[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	t.Status = model.StatusDeleted
	t.DeletedAt = &now
	return nil
}

func (f *fakeRegistry) Remove(_ context.Context, id string) error {
	f.calls = append(f.calls, "remove")
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.tenants, id)
	return nil
}

type fakeProvisioner struct {
	calls      []string
	createErr  error
	migrateErr error
	dropErr    error
	dropped    []string
}

func (f *fakeProvisioner) PhysicalName(tenantID string) string {
	return PhysicalName("tenant_", tenantID)
}

func (f *fakeProvisioner) Create(_ context.Context, tenantID string) (string, error) {
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.PhysicalName(tenantID), nil
}

func (f *fakeProvisioner) Migrate(_ context.Context, name string) error {
	f.calls = append(f.calls, "migrate")
	return f.migrateErr
}

func (f *fakeProvisioner) Drop(_ context.Context, name string) error {
	f.calls = append(f.calls, "drop")
	if f.dropErr != nil {
		return f.dropErr
	}
	f.dropped = append(f.dropped, name)
	return nil
}

type fakeSeeder struct {
	seeded bool
	err    error
}

func (f *fakeSeeder) SeedAdmin(_ context.Context, _ *model.Tenant, _ model.CreateTenantInput) error {
	f.seeded = true
	return f.err
}

type fakeEvictor struct {
	evicted []string
}

func (f *fakeEvictor) Evict(name string) {
	f.evicted = append(f.evicted, name)
}

func acmeInput() model.CreateTenantInput {
	return model.CreateTenantInput{
		CompanyName:   "Acme Corporation",
		CompanyEmail:  "ops@acme.example.com",
		Domain:        "acme",
		AdminName:     "Ada Admin",
		AdminEmail:    "ada@acme.example.com",
		AdminPassword: "s3cret-pass",
	}
}

func newTestOrchestrator(reg *fakeRegistry, prov *fakeProvisioner, seeder *fakeSeeder) (*Orchestrator, *fakeEvictor) {
	evictor := &fakeEvictor{}
	return NewOrchestrator(reg, prov, seeder, evictor, 5*time.Second), evictor
}

func TestOrchestratorRunSuccess(t *testing.T) {
	reg := newFakeRegistry()
	prov := &fakeProvisioner{}
	seeder := &fakeSeeder{}
	orc, _ := newTestOrchestrator(reg, prov, seeder)

	res, err := orc.Run(context.Background(), acmeInput())
	require.NoError(t, err)

	assert.Equal(t, "acme", res.TenantID)
	assert.Equal(t, "tenant_acme", res.PhysicalDB)
	assert.Equal(t, "acme", res.Domain)
	assert.Empty(t, res.Warnings)
	assert.True(t, seeder.seeded)
	assert.Equal(t, model.StatusActive, reg.tenants["acme"].Status)
	assert.Equal(t, []string{"register", "bind", "activate"}, reg.calls)
	assert.Equal(t, []string{"create", "migrate"}, prov.calls)
}

func TestOrchestratorRegisterFailureNothingToUndo(t *testing.T) {
	reg := newFakeRegistry()
	reg.registerErr = errors.New("connection refused")
	prov := &fakeProvisioner{}
	orc, _ := newTestOrchestrator(reg, prov, &fakeSeeder{})

	_, err := orc.Run(context.Background(), acmeInput())
	require.Error(t, err)

	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "register", provErr.Step)
	assert.NotContains(t, reg.calls, "remove")
	assert.Empty(t, prov.calls)
}

func TestOrchestratorBindConflictRollsBackRecord(t *testing.T) {
	reg := newFakeRegistry()
	reg.bindErr = store.ErrBindingConflict
	prov := &fakeProvisioner{}
	orc, _ := newTestOrchestrator(reg, prov, &fakeSeeder{})

	_, err := orc.Run(context.Background(), acmeInput())
	require.ErrorIs(t, err, store.ErrBindingConflict)

	assert.Equal(t, []string{"register", "bind", "remove"}, reg.calls)
	assert.NotContains(t, reg.tenants, "acme")
	assert.Empty(t, prov.calls)
}

func TestOrchestratorMigrateFailureDropsDatabase(t *testing.T) {
	reg := newFakeRegistry()
	prov := &fakeProvisioner{migrateErr: &MigrationError{Step: "version 1", Cause: errors.New("syntax error")}}
	orc, evictor := newTestOrchestrator(reg, prov, &fakeSeeder{})

	_, err := orc.Run(context.Background(), acmeInput())
	require.Error(t, err)

	var migErr *MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "version 1", migErr.Step)

	// Compensations run in reverse: drop the database, then the record.
	assert.Equal(t, []string{"create", "migrate", "drop"}, prov.calls)
	assert.Equal(t, []string{"register", "bind", "remove"}, reg.calls)
	assert.Equal(t, []string{"tenant_acme"}, prov.dropped)
	assert.Equal(t, []string{"tenant_acme"}, evictor.evicted)
	assert.NotContains(t, reg.tenants, "acme")
}

func TestOrchestratorSeedFailureRollsBack(t *testing.T) {
	reg := newFakeRegistry()
	prov := &fakeProvisioner{}
	seeder := &fakeSeeder{err: errors.New("insert admin user: duplicate email")}
	orc, _ := newTestOrchestrator(reg, prov, seeder)

	_, err := orc.Run(context.Background(), acmeInput())
	require.Error(t, err)

	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "seed_admin", provErr.Step)
	assert.Contains(t, prov.calls, "drop")
	assert.NotContains(t, reg.tenants, "acme")
}

func TestOrchestratorActivateFailureRollsBack(t *testing.T) {
	reg := newFakeRegistry()
	reg.activateErr = errors.New("connection reset")
	prov := &fakeProvisioner{}
	orc, _ := newTestOrchestrator(reg, prov, &fakeSeeder{})

	_, err := orc.Run(context.Background(), acmeInput())
	require.Error(t, err)

	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "activate", provErr.Step)
	assert.Contains(t, prov.calls, "drop")
	assert.NotContains(t, reg.tenants, "acme")
}

func TestOrchestratorRollbackFailureBecomesWarning(t *testing.T) {
	reg := newFakeRegistry()
	prov := &fakeProvisioner{
		migrateErr: errors.New("timeout"),
		dropErr:    errors.New("database busy"),
	}
	orc, _ := newTestOrchestrator(reg, prov, &fakeSeeder{})

	res, err := orc.Run(context.Background(), acmeInput())
	require.Error(t, err)

	// The original failure is reported; the failed drop is a warning.
	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "migrate", provErr.Step)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "drop tenant database")
	// The record removal still ran despite the failed drop.
	assert.Contains(t, reg.calls, "remove")
}

func TestOrchestratorAlreadyProvisioning(t *testing.T) {
	reg := newFakeRegistry()
	reg.tenants["acme"] = &model.Tenant{ID: "acme", Status: model.StatusProvisioning}
	orc, _ := newTestOrchestrator(reg, &fakeProvisioner{}, &fakeSeeder{})

	_, err := orc.Run(context.Background(), acmeInput())
	require.ErrorIs(t, err, ErrAlreadyProvisioning)
	assert.NotContains(t, reg.calls, "register")
}

func TestOrchestratorDuplicateIdentity(t *testing.T) {
	reg := newFakeRegistry()
	reg.tenants["acme"] = &model.Tenant{ID: "acme", Status: model.StatusActive}
	orc, _ := newTestOrchestrator(reg, &fakeProvisioner{}, &fakeSeeder{})

	_, err := orc.Run(context.Background(), acmeInput())
	require.ErrorIs(t, err, store.ErrDuplicateIdentity)
}

func TestOrchestratorDeprovision(t *testing.T) {
	reg := newFakeRegistry()
	prov := &fakeProvisioner{}
	orc, evictor := newTestOrchestrator(reg, prov, &fakeSeeder{})

	_, err := orc.Run(context.Background(), acmeInput())
	require.NoError(t, err)

	require.NoError(t, orc.Deprovision(context.Background(), "acme"))
	assert.Equal(t, []string{"tenant_acme"}, prov.dropped)
	assert.Equal(t, []string{"tenant_acme"}, evictor.evicted)
	assert.Equal(t, model.StatusDeleted, reg.tenants["acme"].Status)

	// A second deprovision sees the soft-deleted record as gone.
	err = orc.Deprovision(context.Background(), "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOrchestratorDeprovisionUnknownTenant(t *testing.T) {
	orc, _ := newTestOrchestrator(newFakeRegistry(), &fakeProvisioner{}, &fakeSeeder{})
	err := orc.Deprovision(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
