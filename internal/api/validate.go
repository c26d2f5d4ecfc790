package api

import (
	"errors"
	"strings"

	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

// validateCreateTenantInput checks the tenant creation request body.
func validateCreateTenantInput(in model.CreateTenantInput) error {
	if in.CompanyName == "" {
		return errors.New("company_name is required")
	}
	if in.Domain == "" {
		return errors.New("domain is required")
	}
	if !isValidSubdomain(in.Domain) {
		return errors.New("invalid domain format")
	}
	if !isValidEmail(in.CompanyEmail) {
		return errors.New("invalid company_email")
	}
	if in.AdminName == "" {
		return errors.New("admin_name is required")
	}
	if !isValidEmail(in.AdminEmail) {
		return errors.New("invalid admin_email")
	}
	if len(in.AdminPassword) < 8 {
		return errors.New("admin_password must be at least 8 characters")
	}
	return nil
}

// isValidSubdomain checks the label against
// ^[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?$
func isValidSubdomain(subdomain string) bool {
	if len(subdomain) < 1 || len(subdomain) > 63 {
		return false
	}
	for i, r := range subdomain {
		if i == 0 || i == len(subdomain)-1 {
			if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
				return false
			}
		} else {
			if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
				return false
			}
		}
	}
	return true
}

// isValidEmail performs a basic email validation.
func isValidEmail(email string) bool {
	if len(email) < 3 || !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return false
	}
	return true
}
