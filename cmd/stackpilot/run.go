package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/stackpilot/stackpilot/internal/build"
	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/deploy"
	"github.com/stackpilot/stackpilot/internal/events"
	"github.com/stackpilot/stackpilot/internal/provision"
	"github.com/stackpilot/stackpilot/internal/secrets"
	"github.com/stackpilot/stackpilot/internal/telemetry"
)

var infraDir = "infra"

var (
	errUnknownCommand   = errors.New("unknown command")
	errUnknownComponent = errors.New("unknown component")
)

var verbs = map[string]bool{
	"deploy":       true,
	"rollback":     true,
	"health-check": true,
	"info":         true,
	"cleanup":      true,
}

// parseArgs resolves the positional [environment] [command] [component]
// form. Both environment and command may be omitted.
func parseArgs(args []string) (env, verb, component string, err error) {
	env = "production"
	verb = "deploy"

	if len(args) > 0 && !verbs[args[0]] {
		env = args[0]
		args = args[1:]
	}
	if len(args) > 0 {
		if !verbs[args[0]] {
			return "", "", "", fmt.Errorf("%w %q", errUnknownCommand, args[0])
		}
		verb = args[0]
		args = args[1:]
	}
	if len(args) > 0 {
		component = args[0]
	}
	return env, verb, component, nil
}

// validateComponent rejects component selectors that name no declared
// service, before any cluster call is made.
func validateComponent(cfg *config.Config, component string) error {
	if component == "" || component == deploy.ComponentAll {
		return nil
	}
	if _, ok := cfg.Service(component); !ok {
		return fmt.Errorf("%w %q", errUnknownComponent, component)
	}
	return nil
}

func run(ctx context.Context, args []string) error {
	envName, verb, component, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	env, err := cfg.Environment(envName)
	if err != nil {
		return err
	}
	if err := validateComponent(cfg, component); err != nil {
		return err
	}

	ctx = telemetry.WithRunID(ctx, runID)
	logger, redactor := newLogger()
	logger = telemetry.RunLogger(logger, ctx, env.Name)
	status := telemetry.NewStatus(os.Stderr)

	client, err := kubeClient()
	if err != nil {
		return err
	}

	ctrl := &deploy.Controller{
		Config:  cfg,
		Env:     env,
		Cluster: deploy.NewCluster(client),
		Runner:  deploy.NewCLIRunner(),
		Logger:  logger,
		Status:  status,
		Emitter: events.NoopEmitter{},
		Metrics: telemetry.NewMetrics(),
		RunID:   telemetry.RunID(ctx),
	}
	if cfg.Registry.Host != "" {
		ctrl.Builder = build.NewBuilder(cfg, logger, status)
	}
	// Only deploy can reach direct-mode migrations; read-only verbs
	// must not require the provisioning engine.
	if verb == "deploy" && cfg.Migrations.Mode == "direct" {
		outputs, err := infraOutputs(ctx, redactor)
		if err != nil {
			return fmt.Errorf("loading infrastructure outputs: %w", err)
		}
		ctrl.Outputs = outputs
	}

	err = dispatch(ctx, ctrl, status, verb, component)
	if verbose {
		for _, line := range ctrl.Metrics.Summary() {
			status.Info("metric %s", line)
		}
	}
	return err
}

func dispatch(ctx context.Context, ctrl *deploy.Controller, status *telemetry.Status, verb, component string) error {
	switch verb {
	case "deploy":
		return ctrl.Deploy(ctx, component)
	case "rollback":
		return ctrl.Rollback(ctx, component)
	case "health-check":
		return ctrl.HealthCheck(ctx, component)
	case "info":
		report, err := ctrl.Info(ctx)
		if err != nil {
			return err
		}
		report.Print(status)
		return nil
	case "cleanup":
		if schedule != "" {
			return ctrl.CleanupOnSchedule(ctx, schedule)
		}
		return ctrl.Cleanup(ctx)
	}
	return fmt.Errorf("%w %q", errUnknownCommand, verb)
}

// infraOutputs reads provisioning outputs for direct-mode migrations.
// Sensitive values are registered with the redactor before they can
// reach any log line.
func infraOutputs(ctx context.Context, redactor *secrets.RedactFilter) (provision.Outputs, error) {
	engine := provision.NewTerraformEngine(infraDir)
	outputs, err := engine.Outputs(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range outputs.SensitiveValues() {
		redactor.AddSecret(v)
	}
	return outputs, nil
}

func newLogger() (*slog.Logger, *secrets.RedactFilter) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	filter := secrets.NewRedactFilter(inner)
	return slog.New(filter), filter
}

func kubeClient() (kubernetes.Interface, error) {
	loading := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loading.ExplicitPath = kubeconfig
	}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loading, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}
