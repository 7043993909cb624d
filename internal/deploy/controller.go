package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stackpilot/stackpilot/internal/await"
	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/events"
	"github.com/stackpilot/stackpilot/internal/provision"
	"github.com/stackpilot/stackpilot/internal/telemetry"
)

// ComponentAll selects every declared service.
const ComponentAll = "all"

// ImageBuilder builds and pushes service images ahead of the rollout.
type ImageBuilder interface {
	Run(ctx context.Context) error
}

// Controller sequences the deployment lifecycle for one environment.
// It mutates the cluster through Runner, reads it through Cluster,
// and never touches infrastructure state.
type Controller struct {
	Config  *config.Config
	Env     config.Environment
	Cluster ClusterAPI
	Runner  Runner
	Builder ImageBuilder
	Outputs provision.Outputs
	DB      SQLExecutor
	Logger  *slog.Logger
	Status  *telemetry.Status
	Emitter events.Emitter
	Metrics *telemetry.Metrics
	RunID   string
}

func (c *Controller) emit(e *events.Event) {
	if c.Emitter != nil {
		c.Emitter.Emit(e)
	}
}

func (c *Controller) observe(stage, status string, d time.Duration) {
	if c.Metrics != nil {
		c.Metrics.ObserveStage(stage, status, d)
	}
}

func (c *Controller) evalGuard(src string) (bool, error) {
	return config.EvalGuard(src, c.Env, c.Config)
}

// services resolves the component selector to workload descriptors.
func (c *Controller) services(component string) ([]config.Workload, error) {
	if component == "" || component == ComponentAll {
		return c.Config.Services, nil
	}
	if w, ok := c.Config.Service(component); ok {
		return []config.Workload{w}, nil
	}
	return nil, fmt.Errorf("unknown component %q", component)
}

// Deploy runs the full deployment sequence for the selected component.
// Recoverable stage failures surface as warnings; the returned error
// is non-nil only for fatal failures.
func (c *Controller) Deploy(ctx context.Context, component string) error {
	services, err := c.services(component)
	if err != nil {
		return err
	}
	if err := c.checkPrerequisites(ctx); err != nil {
		return err
	}

	c.Status.Info("deploying %s to %s", componentName(component), c.Env.Name)
	c.emit(events.New(events.DeployStarted, c.RunID).
		WithData("environment", c.Env.Name).
		WithData("component", componentName(component)))

	stages := []Stage{
		{Name: "data-store", Severity: SeverityFatal, Run: c.stageDatastore},
		{Name: "services", Severity: SeverityFatal, Run: func(ctx context.Context) error {
			return c.stageServices(ctx, services)
		}},
		{Name: "migrations", Severity: SeverityRecoverable, Run: c.stageMigrations},
		{Name: "model-refresh", Severity: SeverityRecoverable, When: c.Config.ModelRefresh.When, Run: c.stageModelRefresh},
		{Name: "monitoring", Severity: c.monitoringSeverity(), When: c.Config.Monitoring.When, Run: c.stageMonitoring},
		{Name: "health-checks", Severity: SeverityFatal, Run: func(ctx context.Context) error {
			return c.healthCheck(ctx, services)
		}},
		{Name: "cleanup", Severity: SeverityRecoverable, Run: func(ctx context.Context) error {
			return c.Cleanup(ctx)
		}},
	}
	if c.Builder != nil && c.Config.Registry.Host != "" {
		stages = append([]Stage{{Name: "build-images", Severity: SeverityFatal, Run: c.Builder.Run}}, stages...)
	}
	stages = append([]Stage{{Name: "namespace", Severity: SeverityFatal, Run: func(ctx context.Context) error {
		return c.Cluster.EnsureNamespace(ctx, c.Env.Namespace)
	}}}, stages...)

	warnings, err := c.runStages(ctx, stages)
	if err != nil {
		return err
	}

	report, reportErr := c.Info(ctx)
	if reportErr != nil {
		c.Status.Warning("final report unavailable: %v", reportErr)
	} else {
		report.Print(c.Status)
	}
	for _, w := range warnings {
		c.Status.Warning("completed with warning: %s", w)
	}
	c.emit(events.New(events.DeployCompleted, c.RunID).
		WithData("environment", c.Env.Name).
		WithData("warnings", len(warnings)))
	c.Status.Success("deploy complete (%d warnings)", len(warnings))
	return nil
}

func componentName(component string) string {
	if component == "" {
		return ComponentAll
	}
	return component
}

// checkPrerequisites verifies external tooling and cluster access
// before anything is mutated. All missing pieces are reported at once.
func (c *Controller) checkPrerequisites(ctx context.Context) error {
	var missing []string
	if err := c.Runner.Version(ctx); err != nil {
		c.Logger.Debug("kubectl check failed", "error", err)
		missing = append(missing, "kubectl")
	}
	if err := c.Cluster.Reachable(ctx); err != nil {
		c.Logger.Debug("cluster check failed", "error", err)
		missing = append(missing, "cluster")
	}
	if len(missing) > 0 {
		return &PrerequisiteError{Missing: missing}
	}
	return nil
}

func (c *Controller) monitoringSeverity() Severity {
	if c.Config.Monitoring.IsEnabled() {
		return SeverityFatal
	}
	return SeverityRecoverable
}

// stageDatastore applies the data-store manifest and blocks until it
// reports ready. Nothing else is rolled out before this gate passes.
func (c *Controller) stageDatastore(ctx context.Context) error {
	ds := c.Config.Datastore
	if ds.Manifest == "" {
		return nil
	}
	if err := c.Runner.ApplyFile(ctx, c.Env.Namespace, ds.Manifest); err != nil {
		return err
	}
	err := await.Await(ctx, ds.Name, c.Config.Timeouts.PollInterval, c.Config.Timeouts.Readiness,
		func(ctx context.Context) (bool, error) {
			return c.workloadReady(ctx, ds)
		})
	var timeout *await.TimeoutError
	if errors.As(err, &timeout) {
		return &ReadinessTimeoutError{Resource: ds.Name, Elapsed: timeout.Elapsed}
	}
	return err
}

// stageServices rolls out the selected services concurrently, each
// gated on its own rollout completing.
func (c *Controller) stageServices(ctx context.Context, services []config.Workload) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		g.Go(func() error {
			if err := c.Runner.ApplyFile(ctx, c.Env.Namespace, svc.Manifest); err != nil {
				return err
			}
			err := await.Await(ctx, svc.Name, c.Config.Timeouts.PollInterval, c.Config.Timeouts.Rollout,
				func(ctx context.Context) (bool, error) {
					return c.workloadReady(ctx, svc)
				})
			var timeout *await.TimeoutError
			if errors.As(err, &timeout) {
				return &RolloutTimeoutError{Service: svc.Name, Elapsed: timeout.Elapsed}
			}
			if err != nil {
				return err
			}
			c.emit(events.New(events.RolloutCompleted, c.RunID).WithData("service", svc.Name))
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) workloadReady(ctx context.Context, w config.Workload) (bool, error) {
	if w.Kind == "StatefulSet" {
		return c.Cluster.StatefulSetReady(ctx, c.Env.Namespace, w.Name)
	}
	return c.Cluster.DeploymentReady(ctx, c.Env.Namespace, w.Name)
}

// stageModelRefresh re-derives precomputed artifacts inside the
// configured service. Best effort.
func (c *Controller) stageModelRefresh(ctx context.Context) error {
	mr := c.Config.ModelRefresh
	if len(mr.Command) == 0 {
		return nil
	}
	pod, err := c.execTarget(ctx, mr.Service)
	if err != nil {
		return err
	}
	out, err := c.Runner.Exec(ctx, c.Env.Namespace, pod, mr.Command)
	if err != nil {
		return fmt.Errorf("model refresh: %w", err)
	}
	c.Logger.Info("model refresh completed", "pod", pod, "output_bytes", len(out))
	return nil
}

// execTarget picks the pod in-cluster commands run in: the named
// service's pod, or the primary service's when unset.
func (c *Controller) execTarget(ctx context.Context, service string) (string, error) {
	if service == "" {
		primary, ok := c.Config.PrimaryService()
		if !ok {
			return "", errors.New("no service declared to run in")
		}
		service = primary.Name
	}
	return c.Cluster.PodForApp(ctx, c.Env.Namespace, service)
}
