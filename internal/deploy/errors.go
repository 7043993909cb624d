package deploy

import (
	"fmt"
	"strings"
	"time"
)

// PrerequisiteError reports missing external tooling or an
// unreachable cluster. Fatal, raised before any state change.
type PrerequisiteError struct {
	Missing []string
}

func (e *PrerequisiteError) Error() string {
	return "missing prerequisites: " + strings.Join(e.Missing, ", ")
}

// ReadinessTimeoutError means a stateful resource did not report
// ready within its bound.
type ReadinessTimeoutError struct {
	Resource string
	Elapsed  time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("%s did not become ready within %s", e.Resource, e.Elapsed)
}

// RolloutTimeoutError means a service rollout did not complete within
// its bound.
type RolloutTimeoutError struct {
	Service string
	Elapsed time.Duration
}

func (e *RolloutTimeoutError) Error() string {
	return fmt.Sprintf("rollout of %s did not complete within %s", e.Service, e.Elapsed)
}

// HealthCheckFailedError names every service whose readiness probe
// failed. Fatal; blocks cleanup and the final report.
type HealthCheckFailedError struct {
	Services []string
}

func (e *HealthCheckFailedError) Error() string {
	return "health check failed for: " + strings.Join(e.Services, ", ")
}

// RollbackError means the component has no previous version to
// revert to.
type RollbackError struct {
	Component string
	Err       error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("cannot roll back %s: %v", e.Component, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }
