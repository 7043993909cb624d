// Package deploy drives the deployment lifecycle for one environment:
// manifest application, readiness gating, migrations, health checks,
// rollback, and superseded-resource cleanup.
package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNoRolloutHistory is returned when a workload has no previous
// revision to revert to.
var ErrNoRolloutHistory = errors.New("no rollout history")

// Runner issues mutating commands to the cluster through the kubectl
// CLI. Reads go through the API client in cluster.go; kubectl is kept
// for the operations where server-side apply of manifest files is the
// natural interface.
type Runner interface {
	// Version checks that the binary exists and the cluster answers.
	Version(ctx context.Context) error

	// ApplyFile applies a manifest file into the namespace.
	ApplyFile(ctx context.Context, namespace, path string) error

	// Exec runs a command inside a pod and returns combined output.
	Exec(ctx context.Context, namespace, pod string, command []string) ([]byte, error)

	// RolloutUndo reverts a workload to its previous revision.
	RolloutUndo(ctx context.Context, namespace, kind, name string) error
}

// CLIRunner shells out to kubectl.
type CLIRunner struct {
	Binary string
}

// NewCLIRunner creates a runner using the kubectl binary on PATH.
func NewCLIRunner() *CLIRunner {
	return &CLIRunner{Binary: "kubectl"}
}

func (r *CLIRunner) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s %s: %s: %w", r.Binary, args[0], strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

// Version implements Runner.
func (r *CLIRunner) Version(ctx context.Context) error {
	_, err := r.run(ctx, "version", "--output=json")
	return err
}

// ApplyFile implements Runner.
func (r *CLIRunner) ApplyFile(ctx context.Context, namespace, path string) error {
	_, err := r.run(ctx, "apply", "-n", namespace, "-f", path)
	return err
}

// Exec implements Runner.
func (r *CLIRunner) Exec(ctx context.Context, namespace, pod string, command []string) ([]byte, error) {
	args := append([]string{"exec", "-n", namespace, pod, "--"}, command...)
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s exec %s: %s: %w", r.Binary, pod, strings.TrimSpace(string(out)), err)
	}
	return out, nil
}

// RolloutUndo implements Runner. kubectl reports a missing previous
// revision on stderr; that case maps to ErrNoRolloutHistory so the
// caller can distinguish it from transport failures.
func (r *CLIRunner) RolloutUndo(ctx context.Context, namespace, kind, name string) error {
	_, err := r.run(ctx, "rollout", "undo", "-n", namespace, strings.ToLower(kind)+"/"+name)
	if err != nil && strings.Contains(err.Error(), "no rollout history") {
		return fmt.Errorf("%s/%s: %w", strings.ToLower(kind), name, ErrNoRolloutHistory)
	}
	return err
}
