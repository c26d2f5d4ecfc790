package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teresa-solution/tenant-provisioning-service/internal/connpool"
	"github.com/teresa-solution/tenant-provisioning-service/internal/crypto"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

// AdminSeeder creates the first admin principal inside a freshly
// migrated tenant database, through the connection router.
type AdminSeeder struct {
	router *connpool.Router
}

func NewAdminSeeder(router *connpool.Router) *AdminSeeder {
	return &AdminSeeder{router: router}
}

// SeedAdmin inserts the initial admin user into the tenant database.
func (s *AdminSeeder) SeedAdmin(ctx context.Context, tenant *model.Tenant, in model.CreateTenantInput) error {
	hash, err := crypto.HashPassword(in.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	return s.router.WithTenant(ctx, tenant, func(ctx context.Context, conn *pgxpool.Conn) error {
		now := time.Now()
		_, err := conn.Exec(ctx,
			`INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
             VALUES ($1, $2, $3, $4, 'admin', $5, $5)`,
			uuid.New(), in.AdminName, in.AdminEmail, hash, now)
		if err != nil {
			return fmt.Errorf("insert admin user: %w", err)
		}
		return nil
	})
}
