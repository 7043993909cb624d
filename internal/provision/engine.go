package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Engine drives the external provisioning tool. The orchestrator only
// sequences its operations and reads structured results; reconciling
// declared state against live resources is entirely the engine's job.
type Engine interface {
	// Init binds the working directory to the remote backend.
	Init(ctx context.Context, backend BackendConfig) error

	// Validate statically checks the resource graph, returning every
	// violation found.
	Validate(ctx context.Context) ([]string, error)

	// Plan computes a diff against current remote state and persists
	// it to planFile. Returns whether the plan contains changes.
	Plan(ctx context.Context, planFile string, vars map[string]string) (bool, error)

	// Apply executes a previously computed plan.
	Apply(ctx context.Context, planFile string) *ApplyResult

	// Destroy tears down all resources.
	Destroy(ctx context.Context, vars map[string]string) error

	// Outputs reads named outputs from the applied state.
	Outputs(ctx context.Context) (Outputs, error)

	// StatePull returns the raw remote state document.
	StatePull(ctx context.Context) ([]byte, error)
}

// ApplyResult is the outcome of one engine apply.
type ApplyResult struct {
	Err             error
	Partial         bool
	FailedResources []string
}

// BackendConfig locates the remote state for engine init.
type BackendConfig struct {
	Bucket    string
	Key       string
	Region    string
	LockTable string
}

// TerraformEngine shells out to the terraform CLI. State locking is
// disabled on the engine side; the controller owns the lock record.
type TerraformEngine struct {
	Dir    string
	Binary string
}

// NewTerraformEngine creates an engine rooted at dir.
func NewTerraformEngine(dir string) *TerraformEngine {
	return &TerraformEngine{Dir: dir, Binary: "terraform"}
}

func (e *TerraformEngine) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.Binary, append([]string{"-chdir=" + e.Dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), fmt.Errorf("%s %s: %s: %w", e.Binary, args[0], strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

// Init implements Engine.
func (e *TerraformEngine) Init(ctx context.Context, backend BackendConfig) error {
	args := []string{
		"init", "-input=false", "-reconfigure",
		"-backend-config=bucket=" + backend.Bucket,
		"-backend-config=key=" + backend.Key,
		"-backend-config=region=" + backend.Region,
	}
	if _, err := e.run(ctx, args...); err != nil {
		return &BackendUnreachableError{Err: err}
	}
	return nil
}

// Validate implements Engine using the tool's JSON diagnostics so all
// violations are reported, not just the first.
func (e *TerraformEngine) Validate(ctx context.Context) ([]string, error) {
	out, err := e.run(ctx, "validate", "-json")
	// validate exits non-zero on invalid configs but still writes the
	// diagnostics document; parse whatever we got first.
	var doc struct {
		Valid       bool `json:"valid"`
		Diagnostics []struct {
			Severity string `json:"severity"`
			Summary  string `json:"summary"`
			Detail   string `json:"detail"`
		} `json:"diagnostics"`
	}
	if jsonErr := json.Unmarshal(out, &doc); jsonErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("parsing validate output: %w", jsonErr)
	}
	if doc.Valid {
		return nil, nil
	}
	var violations []string
	for _, d := range doc.Diagnostics {
		if d.Severity != "error" {
			continue
		}
		msg := d.Summary
		if d.Detail != "" {
			msg += ": " + d.Detail
		}
		violations = append(violations, msg)
	}
	if len(violations) == 0 && err != nil {
		violations = append(violations, err.Error())
	}
	return violations, nil
}

// Plan implements Engine. The detailed exit code distinguishes "no
// changes" (0) from "diff present" (2).
func (e *TerraformEngine) Plan(ctx context.Context, planFile string, vars map[string]string) (bool, error) {
	args := []string{"plan", "-input=false", "-detailed-exitcode", "-lock=false", "-out=" + planFile}
	args = append(args, varArgs(vars)...)

	cmd := exec.CommandContext(ctx, e.Binary, append([]string{"-chdir=" + e.Dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
		return true, nil
	}
	return false, fmt.Errorf("%s plan: %s: %w", e.Binary, strings.TrimSpace(stderr.String()), err)
}

// Apply implements Engine. Resources named in error diagnostics are
// reported as indeterminate; the engine updates state incrementally
// itself, so a failed apply is partial whenever anything was created.
func (e *TerraformEngine) Apply(ctx context.Context, planFile string) *ApplyResult {
	cmd := exec.CommandContext(ctx, e.Binary, "-chdir="+e.Dir, "apply", "-input=false", "-lock=false", "-json", planFile)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return &ApplyResult{}
	}

	result := &ApplyResult{Err: fmt.Errorf("%s apply: %w", e.Binary, err)}
	for _, line := range bytes.Split(out, []byte("\n")) {
		var msg struct {
			Type string `json:"type"`
			Hook struct {
				Resource struct {
					Addr string `json:"addr"`
				} `json:"resource"`
			} `json:"hook"`
			Diagnostic struct {
				Severity string `json:"severity"`
				Address  string `json:"address"`
			} `json:"diagnostic"`
		}
		if json.Unmarshal(line, &msg) != nil {
			continue
		}
		switch msg.Type {
		case "apply_complete":
			result.Partial = true
		case "apply_errored":
			if addr := msg.Hook.Resource.Addr; addr != "" {
				result.FailedResources = append(result.FailedResources, addr)
			}
		case "diagnostic":
			if msg.Diagnostic.Severity == "error" && msg.Diagnostic.Address != "" {
				result.FailedResources = append(result.FailedResources, msg.Diagnostic.Address)
			}
		}
	}
	return result
}

// Destroy implements Engine.
func (e *TerraformEngine) Destroy(ctx context.Context, vars map[string]string) error {
	args := []string{"destroy", "-input=false", "-auto-approve", "-lock=false"}
	args = append(args, varArgs(vars)...)
	if _, err := e.run(ctx, args...); err != nil {
		return err
	}
	return nil
}

// Outputs implements Engine.
func (e *TerraformEngine) Outputs(ctx context.Context) (Outputs, error) {
	out, err := e.run(ctx, "output", "-json")
	if err != nil {
		return nil, err
	}
	return ParseOutputs(out)
}

// StatePull implements Engine.
func (e *TerraformEngine) StatePull(ctx context.Context) ([]byte, error) {
	return e.run(ctx, "state", "pull")
}

func varArgs(vars map[string]string) []string {
	var args []string
	for k, v := range vars {
		args = append(args, fmt.Sprintf("-var=%s=%s", k, v))
	}
	return args
}

