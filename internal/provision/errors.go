package provision

import (
	"errors"
	"fmt"
	"strings"
)

// BackendProvisioningError means the state store or lock table could
// not be created and did not already exist. Fatal, pre-init.
type BackendProvisioningError struct {
	Resource string
	Err      error
}

func (e *BackendProvisioningError) Error() string {
	return fmt.Sprintf("provisioning state backend %s: %v", e.Resource, e.Err)
}

func (e *BackendProvisioningError) Unwrap() error { return e.Err }

// BackendUnreachableError means the remote backend could not be
// reached or credentials are invalid. Fatal, pre-init.
type BackendUnreachableError struct {
	Err error
}

func (e *BackendUnreachableError) Error() string {
	return fmt.Sprintf("state backend unreachable: %v", e.Err)
}

func (e *BackendUnreachableError) Unwrap() error { return e.Err }

// ErrStalePlan is wrapped by ApplyError when the remote state serial
// moved between plan and apply. The plan must be recomputed; it is
// never applied against a state it was not computed from.
var ErrStalePlan = errors.New("remote state changed since plan was computed")

// ApplyError reports a failed apply. Partial means some resources
// were created before the failure; the operation is never retried
// automatically and the caller must re-run plan and apply to
// converge.
type ApplyError struct {
	Partial         bool
	FailedResources []string
	Err             error
}

func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("apply failed: %v", e.Err)
	if e.Partial {
		msg += " (partial: some resources were created; re-run plan and apply to converge)"
	}
	if len(e.FailedResources) > 0 {
		msg += "; indeterminate resources: " + strings.Join(e.FailedResources, ", ")
	}
	return msg
}

func (e *ApplyError) Unwrap() error { return e.Err }

// OutputNotFoundError means an expected infrastructure output is
// absent after apply. Always a configuration bug; fatal, not retried.
type OutputNotFoundError struct {
	Name string
}

func (e *OutputNotFoundError) Error() string {
	return fmt.Sprintf("infrastructure output %q not found", e.Name)
}
