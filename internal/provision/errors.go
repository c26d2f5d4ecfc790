package provision

import (
	"errors"
	"fmt"
)

// ErrAlreadyProvisioning is returned when a provisioning run is
// requested for a tenant id whose previous run has not finished.
var ErrAlreadyProvisioning = errors.New("tenant is already being provisioned")

// ProvisioningError reports a failed step of the provisioning saga.
// Rollback of prior steps has already been attempted when the caller
// sees this error.
type ProvisioningError struct {
	Step       string
	PhysicalDB string
	Err        error
}

func (e *ProvisioningError) Error() string {
	if e.PhysicalDB != "" {
		return fmt.Sprintf("provisioning failed at step %q (database %s): %v", e.Step, e.PhysicalDB, e.Err)
	}
	return fmt.Sprintf("provisioning failed at step %q: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// MigrationError reports a failed tenant schema migration. Partial
// migration state is left as-is; the caller decides whether to retry or
// drop and recreate.
type MigrationError struct {
	Step  string
	Cause error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration failed at %s: %v", e.Step, e.Cause)
}

func (e *MigrationError) Unwrap() error { return e.Cause }
