package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/monitoring"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

// registry is the slice of store.Registry the orchestrator needs.
type registry interface {
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	Register(ctx context.Context, tenant *model.Tenant) error
	Bind(ctx context.Context, tenantID, bindingKey string) error
	MarkActive(ctx context.Context, id string) error
	MarkDeleted(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

type databaseProvisioner interface {
	PhysicalName(tenantID string) string
	Create(ctx context.Context, tenantID string) (string, error)
	Migrate(ctx context.Context, name string) error
	Drop(ctx context.Context, name string) error
}

type adminSeeder interface {
	SeedAdmin(ctx context.Context, tenant *model.Tenant, in model.CreateTenantInput) error
}

// poolEvictor drops cached connections for a physical database after
// it is destroyed. Satisfied by connpool.Router.
type poolEvictor interface {
	Evict(name string)
}

// Result is the outcome of a provisioning run. On failure the Result
// still carries rollback warnings alongside the returned error.
type Result struct {
	TenantID   string   `json:"tenant_id"`
	PhysicalDB string   `json:"physical_database_name"`
	Domain     string   `json:"domain"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Orchestrator drives the end-to-end provisioning saga:
// register -> bind -> create database -> migrate -> seed admin ->
// mark active, with compensating actions undoing completed steps when
// a later one fails. The sequence spans a cross-database DDL operation
// and therefore cannot hide behind a single transaction.
type Orchestrator struct {
	registry    registry
	provisioner databaseProvisioner
	seeder      adminSeeder
	evictor     poolEvictor
	stepTimeout time.Duration
}

func NewOrchestrator(reg registry, prov databaseProvisioner, seeder adminSeeder, evictor poolEvictor, stepTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		registry:    reg,
		provisioner: prov,
		seeder:      seeder,
		evictor:     evictor,
		stepTimeout: stepTimeout,
	}
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// Run executes one provisioning attempt for the given input. The
// tenant id is the requested domain slug; the physical database name is
// derived from it deterministically.
func (o *Orchestrator) Run(ctx context.Context, in model.CreateTenantInput) (*Result, error) {
	start := time.Now()
	tenantID := in.Domain

	res, err := o.run(ctx, tenantID, in)

	monitoring.ProvisioningDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		monitoring.TenantsProvisioned.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("Provisioning failed")
	} else {
		monitoring.TenantsProvisioned.WithLabelValues("active").Inc()
		log.Info().Str("tenant_id", tenantID).Str("physical_db", res.PhysicalDB).
			Dur("took", time.Since(start)).Msg("Tenant provisioned")
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, tenantID string, in model.CreateTenantInput) (*Result, error) {
	res := &Result{
		TenantID:   tenantID,
		PhysicalDB: o.provisioner.PhysicalName(tenantID),
		Domain:     in.Domain,
	}

	// Idempotency probe: never double-create for an id that is already
	// known. A half-finished earlier run must be rolled back or
	// resumed by an operator, not silently redone.
	existing, err := o.registry.GetByID(ctx, tenantID)
	switch {
	case err == nil:
		if existing.Status == model.StatusProvisioning {
			return res, fmt.Errorf("tenant %q: %w", tenantID, ErrAlreadyProvisioning)
		}
		return res, fmt.Errorf("tenant %q: %w", tenantID, store.ErrDuplicateIdentity)
	case !errors.Is(err, store.ErrNotFound):
		return res, &ProvisioningError{Step: "probe", Err: err}
	}

	tenant := &model.Tenant{
		ID:           tenantID,
		DisplayName:  in.CompanyName,
		ContactEmail: in.CompanyEmail,
		PhysicalDB:   res.PhysicalDB,
	}

	var undos []undoStep

	fail := func(step string, cause error) (*Result, error) {
		res.Warnings = o.rollback(tenantID, undos)
		// Logical conflicts surface as themselves; everything else is
		// a provisioning failure at a named step.
		if errors.Is(cause, store.ErrDuplicateIdentity) || errors.Is(cause, store.ErrBindingConflict) {
			return res, cause
		}
		var provErr *ProvisioningError
		var migErr *MigrationError
		if errors.As(cause, &provErr) || errors.As(cause, &migErr) {
			return res, cause
		}
		return res, &ProvisioningError{Step: step, PhysicalDB: res.PhysicalDB, Err: cause}
	}

	// TenantRecorded
	if err := o.step(ctx, tenantID, "register", func(ctx context.Context) error {
		return o.registry.Register(ctx, tenant)
	}); err != nil {
		return fail("register", err)
	}
	undos = append(undos, undoStep{"remove tenant record", func(ctx context.Context) error {
		return o.registry.Remove(ctx, tenantID)
	}})

	// DomainBound. Bindings cascade on tenant removal, so no extra undo.
	if err := o.step(ctx, tenantID, "bind", func(ctx context.Context) error {
		return o.registry.Bind(ctx, tenantID, in.Domain)
	}); err != nil {
		return fail("bind", err)
	}

	// DatabaseCreated
	if err := o.step(ctx, tenantID, "create", func(ctx context.Context) error {
		name, err := o.provisioner.Create(ctx, tenantID)
		if err != nil {
			return err
		}
		res.PhysicalDB = name
		tenant.PhysicalDB = name
		return nil
	}); err != nil {
		return fail("create", err)
	}
	undos = append(undos, undoStep{"drop tenant database", func(ctx context.Context) error {
		if o.evictor != nil {
			o.evictor.Evict(res.PhysicalDB)
		}
		return o.provisioner.Drop(ctx, res.PhysicalDB)
	}})

	// Migrated
	if err := o.step(ctx, tenantID, "migrate", func(ctx context.Context) error {
		return o.provisioner.Migrate(ctx, res.PhysicalDB)
	}); err != nil {
		return fail("migrate", err)
	}

	// SeededAdmin
	if err := o.step(ctx, tenantID, "seed_admin", func(ctx context.Context) error {
		return o.seeder.SeedAdmin(ctx, tenant, in)
	}); err != nil {
		return fail("seed_admin", err)
	}

	// Active
	if err := o.step(ctx, tenantID, "activate", func(ctx context.Context) error {
		return o.registry.MarkActive(ctx, tenantID)
	}); err != nil {
		return fail("activate", err)
	}

	return res, nil
}

// Deprovision destroys the tenant's physical database and soft-deletes
// its registry record and bindings.
func (o *Orchestrator) Deprovision(ctx context.Context, tenantID string) error {
	tenant, err := o.registry.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.DeletedAt != nil {
		return fmt.Errorf("tenant %q: %w", tenantID, store.ErrNotFound)
	}

	if o.evictor != nil {
		o.evictor.Evict(tenant.PhysicalDB)
	}
	if err := o.step(ctx, tenantID, "drop", func(ctx context.Context) error {
		return o.provisioner.Drop(ctx, tenant.PhysicalDB)
	}); err != nil {
		return err
	}
	if err := o.step(ctx, tenantID, "mark_deleted", func(ctx context.Context) error {
		return o.registry.MarkDeleted(ctx, tenantID)
	}); err != nil {
		return err
	}
	log.Info().Str("tenant_id", tenantID).Str("physical_db", tenant.PhysicalDB).
		Msg("Tenant deprovisioned")
	return nil
}

// step runs one saga action under the per-step timeout and logs it.
func (o *Orchestrator) step(ctx context.Context, tenantID, name string, fn func(ctx context.Context) error) error {
	sctx := ctx
	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(sctx)
	evt := log.Debug()
	if err != nil {
		evt = log.Error().Err(err)
	}
	evt.Str("tenant_id", tenantID).Str("step", name).
		Dur("took", time.Since(start)).Msg("Provisioning step")
	return err
}

// rollback runs compensating actions in reverse order. Failures are
// reported as warnings and never mask the original error; the rollback
// runs on a fresh context so a cancelled request cannot abort it.
func (o *Orchestrator) rollback(tenantID string, undos []undoStep) []string {
	timeout := o.stepTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var warnings []string
	for i := len(undos) - 1; i >= 0; i-- {
		undo := undos[i]
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := undo.fn(ctx)
		cancel()
		if err != nil {
			monitoring.RollbackFailures.Inc()
			monitoring.Alert("rollback step failed", map[string]string{
				"tenant_id": tenantID,
				"step":      undo.name,
			})
			log.Error().Err(err).Str("tenant_id", tenantID).Str("undo", undo.name).
				Msg("Rollback step failed")
			warnings = append(warnings, fmt.Sprintf("rollback %q failed: %v", undo.name, err))
			continue
		}
		log.Info().Str("tenant_id", tenantID).Str("undo", undo.name).Msg("Rolled back step")
	}
	return warnings
}
