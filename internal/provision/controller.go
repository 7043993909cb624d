// Package provision implements the provisioning lifecycle controller:
// it drives the external provisioning engine through backend bring-up,
// init, validate, plan, apply, and output extraction, holding the
// state lock around every mutating step.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/events"
	"github.com/stackpilot/stackpilot/internal/lock"
	"github.com/stackpilot/stackpilot/internal/secrets"
	"github.com/stackpilot/stackpilot/internal/telemetry"
)

// Phase is the controller's position in the provisioning lifecycle.
type Phase string

const (
	PhaseUninitialized    Phase = "uninitialized"
	PhaseBackendReady     Phase = "backend-ready"
	PhaseInitialized      Phase = "initialized"
	PhaseValidated        Phase = "validated"
	PhasePlanned          Phase = "planned"
	PhaseApplied          Phase = "applied"
	PhaseOutputsExtracted Phase = "outputs-extracted"

	// Terminal failure phases.
	PhaseBackendFailed Phase = "backend-failed"
	PhaseApplyFailed   Phase = "apply-failed"
)

// ErrCancelled is returned when the operator declines a destructive
// confirmation prompt. Callers treat it as a clean no-op.
var ErrCancelled = errors.New("cancelled")

// BackendProvisioner creates and reads the remote state backend.
type BackendProvisioner interface {
	EnsureStore(ctx context.Context, bucket string) error
	EnsureLockTable(ctx context.Context, table string) error
	Snapshot(ctx context.Context, bucket, key, dir string) (string, error)
}

// StateHandle identifies one remote state and the serial it was last
// observed at. Passed explicitly instead of living in ambient config.
type StateHandle struct {
	Bucket string
	Key    string
	Serial uint64
}

// PlanArtifact is an immutable computed diff, pinned to the state
// serial it was computed against. Consumed exactly once by Apply.
type PlanArtifact struct {
	ID         string
	File       string
	State      StateHandle
	HasChanges bool
	CreatedAt  time.Time
}

// Controller sequences provisioning operations for one environment.
type Controller struct {
	Env      config.Environment
	Engine   Engine
	Backend  BackendProvisioner
	Locker   lock.Locker
	Logger   *slog.Logger
	Status   *telemetry.Status
	Emitter  events.Emitter
	Redactor *secrets.RedactFilter

	// Holder identifies this run in lock records.
	Holder string
	// RunID correlates emitted events.
	RunID string
	// PlanDir is where plan artifacts are written. Defaults to the
	// OS temp dir.
	PlanDir string
	// BackupDir is where state snapshots are written. Defaults to
	// ./backups.
	BackupDir string

	phase Phase
}

// Phase returns the controller's current lifecycle phase.
func (c *Controller) Phase() Phase {
	if c.phase == "" {
		return PhaseUninitialized
	}
	return c.phase
}

func (c *Controller) lockKey() string {
	return c.Env.State.Bucket + "/" + c.Env.State.Key
}

func (c *Controller) backendConfig() BackendConfig {
	return BackendConfig{
		Bucket:    c.Env.State.Bucket,
		Key:       c.Env.State.Key,
		Region:    c.Env.Region,
		LockTable: c.Env.State.LockTable,
	}
}

func (c *Controller) emit(t events.Type, kv ...any) {
	if c.Emitter == nil {
		return
	}
	e := events.New(t, c.RunID)
	for i := 0; i+1 < len(kv); i += 2 {
		e.WithData(kv[i].(string), kv[i+1])
	}
	c.Emitter.Emit(e)
}

// EnsureBackend creates the remote state store and lock table if
// absent. Idempotent.
func (c *Controller) EnsureBackend(ctx context.Context) error {
	c.Status.Info("ensuring state backend for %s", c.Env.Name)
	c.emit(events.ProvisionStarted, "environment", c.Env.Name)
	if err := c.Backend.EnsureStore(ctx, c.Env.State.Bucket); err != nil {
		c.phase = PhaseBackendFailed
		return err
	}
	if c.Env.State.LockBackend == "dynamodb" {
		if err := c.Backend.EnsureLockTable(ctx, c.Env.State.LockTable); err != nil {
			c.phase = PhaseBackendFailed
			return err
		}
	}
	c.phase = PhaseBackendReady
	c.Status.Success("state backend ready")
	return nil
}

// Init binds the local session to the remote backend.
func (c *Controller) Init(ctx context.Context) error {
	c.Status.Info("initializing provisioning engine")
	if err := c.Engine.Init(ctx, c.backendConfig()); err != nil {
		return err
	}
	c.phase = PhaseInitialized
	return nil
}

// Validate statically checks the resource graph, reporting every
// violation.
func (c *Controller) Validate(ctx context.Context) error {
	c.Status.Info("validating resource graph")
	violations, err := c.Engine.Validate(ctx)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return &config.ConfigurationError{Violations: violations}
	}
	c.phase = PhaseValidated
	return nil
}

// Plan computes a diff against current remote state. The lock is held
// for the duration of the read and released immediately after; plan
// itself does not mutate.
func (c *Controller) Plan(ctx context.Context) (_ *PlanArtifact, err error) {
	c.Status.Info("computing provisioning plan")

	handle, err := c.Locker.Acquire(ctx, c.lockKey(), lock.Info{Holder: c.Holder, Operation: "plan"})
	if err != nil {
		return nil, err
	}
	c.emit(events.LockAcquired, "operation", "plan", "lock_id", handle.Info.ID)
	defer func() {
		if relErr := c.Locker.Release(ctx, handle); relErr != nil && err == nil {
			err = fmt.Errorf("releasing lock after plan: %w", relErr)
		}
		c.emit(events.LockReleased, "operation", "plan")
	}()

	serial, err := c.stateSerial(ctx)
	if err != nil {
		return nil, err
	}

	dir := c.PlanDir
	if dir == "" {
		dir = os.TempDir()
	}
	id := ulid.Make().String()
	planFile := filepath.Join(dir, "stackpilot-"+id+".tfplan")

	hasChanges, err := c.Engine.Plan(ctx, planFile, c.Env.Variables)
	if err != nil {
		return nil, err
	}

	artifact := &PlanArtifact{
		ID:   id,
		File: planFile,
		State: StateHandle{
			Bucket: c.Env.State.Bucket,
			Key:    c.Env.State.Key,
			Serial: serial,
		},
		HasChanges: hasChanges,
		CreatedAt:  time.Now(),
	}
	c.phase = PhasePlanned
	c.emit(events.PlanComputed, "plan_id", id, "serial", serial, "has_changes", hasChanges)
	if hasChanges {
		c.Status.Success("plan %s computed against state serial %d", id, serial)
	} else {
		c.Status.Success("no changes; infrastructure is up to date")
	}
	return artifact, nil
}

// Apply executes a previously computed plan under the lock. A plan
// computed against a state that has since changed is rejected, never
// silently applied. A failed apply is terminal for this invocation:
// the caller must re-run plan and apply to converge.
func (c *Controller) Apply(ctx context.Context, artifact *PlanArtifact) (err error) {
	if artifact == nil {
		return errors.New("apply requires a plan")
	}
	if !artifact.HasChanges {
		c.Status.Info("plan %s has no changes, nothing to apply", artifact.ID)
		c.phase = PhaseApplied
		return nil
	}

	c.Status.Info("applying plan %s", artifact.ID)
	handle, err := c.Locker.Acquire(ctx, c.lockKey(), lock.Info{Holder: c.Holder, Operation: "apply"})
	if err != nil {
		return err
	}
	c.emit(events.LockAcquired, "operation", "apply", "lock_id", handle.Info.ID)
	defer func() {
		if relErr := c.Locker.Release(ctx, handle); relErr != nil && err == nil {
			err = fmt.Errorf("releasing lock after apply: %w", relErr)
		}
		c.emit(events.LockReleased, "operation", "apply")
	}()

	serial, err := c.stateSerial(ctx)
	if err != nil {
		return err
	}
	if serial != artifact.State.Serial {
		return &ApplyError{Err: fmt.Errorf("%w: plan serial %d, current %d",
			ErrStalePlan, artifact.State.Serial, serial)}
	}

	c.emit(events.ApplyStarted, "plan_id", artifact.ID)
	result := c.Engine.Apply(ctx, artifact.File)
	if result.Err != nil {
		c.phase = PhaseApplyFailed
		applyErr := &ApplyError{
			Partial:         result.Partial,
			FailedResources: result.FailedResources,
			Err:             result.Err,
		}
		c.Status.Error("%s", applyErr.Error())
		return applyErr
	}

	c.phase = PhaseApplied
	c.emit(events.ApplyCompleted, "plan_id", artifact.ID)
	c.Status.Success("apply complete")
	return nil
}

// ExtractOutputs reads named outputs from the applied state and
// registers sensitive values with the redactor before anything else
// can log them. A missing required output is a configuration bug and
// is fatal.
func (c *Controller) ExtractOutputs(ctx context.Context, required ...string) (Outputs, error) {
	outputs, err := c.Engine.Outputs(ctx)
	if err != nil {
		return nil, err
	}
	if c.Redactor != nil {
		for _, v := range outputs.SensitiveValues() {
			c.Redactor.AddSecret(v)
		}
	}
	if err := outputs.Require(required...); err != nil {
		return nil, err
	}
	c.phase = PhaseOutputsExtracted
	c.emit(events.ProvisionCompleted, "environment", c.Env.Name, "outputs", len(outputs))
	return outputs, nil
}

// Destroy tears down all resources after explicit operator
// confirmation. The prompt is part of the operation and cannot be
// bypassed; any input other than the literal "yes" cancels.
func (c *Controller) Destroy(ctx context.Context, in io.Reader, out io.Writer) (err error) {
	fmt.Fprintf(out, "This will destroy ALL infrastructure for environment %q.\n", c.Env.Name)
	fmt.Fprint(out, "Type 'yes' to confirm: ")
	var response string
	_, _ = fmt.Fscanln(in, &response)
	if response != "yes" {
		fmt.Fprintln(out, "Destroy cancelled.")
		return ErrCancelled
	}

	c.Status.Info("destroying infrastructure for %s", c.Env.Name)
	handle, err := c.Locker.Acquire(ctx, c.lockKey(), lock.Info{Holder: c.Holder, Operation: "destroy"})
	if err != nil {
		return err
	}
	defer func() {
		if relErr := c.Locker.Release(ctx, handle); relErr != nil && err == nil {
			err = fmt.Errorf("releasing lock after destroy: %w", relErr)
		}
	}()

	if err := c.Engine.Destroy(ctx, c.Env.Variables); err != nil {
		return err
	}
	c.Status.Success("infrastructure destroyed")
	return nil
}

// Backup snapshots current remote state to a timestamped local file.
// Read-only; does not take the lock.
func (c *Controller) Backup(ctx context.Context) (string, error) {
	dir := c.BackupDir
	if dir == "" {
		dir = "backups"
	}
	path, err := c.Backend.Snapshot(ctx, c.Env.State.Bucket, c.Env.State.Key, dir)
	if err != nil {
		return "", err
	}
	c.emit(events.BackupCreated, "path", path)
	c.Status.Success("state backed up to %s", path)
	return path, nil
}

// ForceUnlock removes a held lock after confirmation. The exact lock
// ID must be supplied (read it from Info) and the removal is logged
// with the evicted holder for audit.
func (c *Controller) ForceUnlock(ctx context.Context, lockID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "This will force-release the state lock for %q.\n", c.Env.Name)
	fmt.Fprint(out, "Type 'yes' to confirm: ")
	var response string
	_, _ = fmt.Fscanln(in, &response)
	if response != "yes" {
		fmt.Fprintln(out, "Force-unlock cancelled.")
		return ErrCancelled
	}

	removed, err := c.Locker.ForceRelease(ctx, c.lockKey(), lockID)
	if err != nil {
		return err
	}
	if c.Logger != nil {
		c.Logger.Warn("force-unlocked state",
			slog.String("lock_id", removed.ID),
			slog.String("holder", removed.Holder),
			slog.String("operation", removed.Operation),
			slog.Duration("held_for", time.Since(removed.Created)))
	}
	c.Status.Warning("force-released lock %s held by %s since %s",
		removed.ID, removed.Holder, removed.Created.Format(time.RFC3339))
	return nil
}

// InfoReport is a read-only snapshot of provisioning state.
type InfoReport struct {
	Environment string
	Phase       Phase
	Serial      uint64
	Lock        *lock.Info
	LockStale   bool
	Outputs     []string
}

// Info inspects remote state and the lock without mutating anything.
func (c *Controller) Info(ctx context.Context) (*InfoReport, error) {
	report := &InfoReport{Environment: c.Env.Name, Phase: c.Phase()}

	if serial, err := c.stateSerial(ctx); err == nil {
		report.Serial = serial
	}
	held, err := c.Locker.Inspect(ctx, c.lockKey())
	if err != nil {
		return nil, err
	}
	if held != nil {
		report.Lock = held
		report.LockStale = lock.IsStale(*held, 0)
	}
	if outputs, err := c.Engine.Outputs(ctx); err == nil {
		report.Outputs = outputs.Names()
	}
	return report, nil
}

// stateSerial reads the remote state's serial. An empty state (first
// run) has serial zero.
func (c *Controller) stateSerial(ctx context.Context) (uint64, error) {
	raw, err := c.Engine.StatePull(ctx)
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	var snapshot struct {
		Serial  uint64 `json:"serial"`
		Lineage string `json:"lineage"`
	}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return 0, fmt.Errorf("parsing remote state: %w", err)
	}
	return snapshot.Serial, nil
}
