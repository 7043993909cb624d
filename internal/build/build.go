// Package build triggers container image builds through the docker
// CLI ahead of a rollout. Only the exit code of each invocation is
// inspected; build output streams to the operator unchanged.
package build

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/telemetry"
)

// Builder builds and optionally pushes one image per service that
// declares a build context.
type Builder struct {
	Registry config.Registry
	Services []config.Workload
	Logger   *slog.Logger
	Status   *telemetry.Status
	Binary   string
}

// NewBuilder creates a builder using the docker binary on PATH.
func NewBuilder(cfg *config.Config, logger *slog.Logger, status *telemetry.Status) *Builder {
	return &Builder{
		Registry: cfg.Registry,
		Services: cfg.Services,
		Logger:   logger,
		Status:   status,
		Binary:   "docker",
	}
}

func (b *Builder) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, b.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %s: %w", b.Binary, args[0], strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// Run builds every buildable service image, pushes when configured,
// and prunes the builder cache afterwards if asked to.
func (b *Builder) Run(ctx context.Context) error {
	for _, svc := range b.Services {
		if svc.BuildContext == "" {
			continue
		}
		ref := b.imageRef(svc)
		b.Status.Info("building %s", ref)
		if err := b.run(ctx, "build", "-t", ref, svc.BuildContext); err != nil {
			return err
		}
		b.Logger.Info("image built", "image", ref, "service", svc.Name)

		if b.Registry.Push {
			b.Status.Info("pushing %s", ref)
			if err := b.run(ctx, "push", ref); err != nil {
				return err
			}
			b.Logger.Info("image pushed", "image", ref)
		}
	}

	if b.Registry.CleanupCache {
		if err := b.run(ctx, "builder", "prune", "-f"); err != nil {
			return err
		}
		b.Logger.Info("builder cache pruned")
	}
	return nil
}

func (b *Builder) imageRef(svc config.Workload) string {
	tag := b.Registry.Tag
	if tag == "" {
		tag = "latest"
	}
	return fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(b.Registry.Host, "/"), svc.Name, tag)
}
