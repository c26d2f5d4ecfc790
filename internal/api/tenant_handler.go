package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/connpool"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/provision"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

// Provisioning is the orchestrator surface the handlers consume.
type Provisioning interface {
	Run(ctx context.Context, in model.CreateTenantInput) (*provision.Result, error)
	Deprovision(ctx context.Context, tenantID string) error
}

type tenantReader interface {
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
}

type tenantRunner interface {
	WithTenant(ctx context.Context, tenant connpool.PhysicalDatabaser, fn func(ctx context.Context, conn *pgxpool.Conn) error) error
}

// TenantHandler serves the tenant administration endpoints and the
// sample tenant-scoped read.
type TenantHandler struct {
	orc      Provisioning
	registry tenantReader
	router   tenantRunner
}

func NewTenantHandler(orc Provisioning, registry tenantReader, router tenantRunner) *TenantHandler {
	return &TenantHandler{orc: orc, registry: registry, router: router}
}

// Create runs the provisioning saga for a new tenant.
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in model.CreateTenantInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		Error(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	in.Domain = strings.ToLower(strings.TrimSpace(in.Domain))

	if err := validateCreateTenantInput(in); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.orc.Run(r.Context(), in)
	if err != nil {
		h.writeProvisionError(w, res, err)
		return
	}

	JSON(w, http.StatusCreated, res)
}

// Get returns a tenant by id, including ones still provisioning.
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tenant, err := h.registry.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "Tenant not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("tenant_id", id).Msg("Failed to get tenant")
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	JSON(w, http.StatusOK, tenant)
}

// Delete deprovisions a tenant: drops its database and soft-deletes
// the registry record.
func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.orc.Deprovision(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "Tenant not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("tenant_id", id).Msg("Failed to deprovision tenant")
		Error(w, http.StatusInternalServerError, "Failed to deprovision tenant")
		return
	}
	JSON(w, http.StatusNoContent, nil)
}

type tenantUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ListUsers reads from the resolved tenant's own database.
func (h *TenantHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFrom(r.Context())
	if !ok {
		Error(w, http.StatusInternalServerError, "Tenant context missing")
		return
	}

	var users []tenantUser
	err := h.router.WithTenant(r.Context(), tenant, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT id, name, email, role, created_at FROM users ORDER BY created_at`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var u tenantUser
			if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt); err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	switch {
	case errors.Is(err, connpool.ErrUnresolvedTenant):
		Error(w, http.StatusNotFound, "Tenant database not provisioned")
		return
	case errors.Is(err, connpool.ErrConnectionUnavailable):
		Error(w, http.StatusServiceUnavailable, "Tenant database unavailable")
		return
	case err != nil:
		log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to list tenant users")
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if users == nil {
		users = []tenantUser{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// writeProvisionError maps provisioning failures to responses. By the
// time an error reaches here, rollback has already run; its leftovers
// are warnings, not the error itself.
func (h *TenantHandler) writeProvisionError(w http.ResponseWriter, res *provision.Result, err error) {
	switch {
	case errors.Is(err, store.ErrDuplicateIdentity),
		errors.Is(err, store.ErrBindingConflict),
		errors.Is(err, provision.ErrAlreadyProvisioning):
		Error(w, http.StatusConflict, err.Error())
		return
	}

	failure := provisionFailure{Error: err.Error()}
	if res != nil {
		failure.PhysicalDB = res.PhysicalDB
		failure.Warnings = res.Warnings
	}
	var provErr *provision.ProvisioningError
	var migErr *provision.MigrationError
	switch {
	case errors.As(err, &provErr):
		failure.Step = provErr.Step
	case errors.As(err, &migErr):
		failure.Step = migErr.Step
	}
	JSON(w, http.StatusInternalServerError, failure)
}
