package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusDeleted      Status = "deleted"
)

// Tenant represents a row in the central tenants table. ID is a stable
// URL-safe slug; it is the sole input to the physical database name and
// never changes after registration.
type Tenant struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	ContactEmail   string     `json:"contact_email,omitempty"` // transient, not stored in DB
	EncryptedEmail []byte     `json:"-"`
	EmailIV        []byte     `json:"-"`
	Status         Status     `json:"status"`
	PhysicalDB     string     `json:"physical_database_name"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// PhysicalDatabase reports the name of the tenant's dedicated database.
// Satisfies connpool.PhysicalDatabaser.
func (t *Tenant) PhysicalDatabase() string {
	return t.PhysicalDB
}

// Routable reports whether ordinary traffic may be routed to the
// tenant. Provisioning tenants are visible to status polling but not
// yet reachable.
func (t *Tenant) Routable() bool {
	return t.Status == StatusActive && t.DeletedAt == nil
}

// RouteBinding maps a human-facing identifier (subdomain or leading
// path segment) to a tenant. A tenant may carry several bindings; a
// binding key belongs to at most one tenant.
type RouteBinding struct {
	ID         uuid.UUID `json:"id"`
	BindingKey string    `json:"binding_key"`
	TenantID   string    `json:"tenant_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateTenantInput carries everything needed for one provisioning run.
type CreateTenantInput struct {
	CompanyName   string `json:"company_name"`
	CompanyEmail  string `json:"company_email"`
	Domain        string `json:"domain"`
	AdminName     string `json:"admin_name"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}
