package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/events"
	"github.com/stackpilot/stackpilot/internal/lock"
	"github.com/stackpilot/stackpilot/internal/provision"
	"github.com/stackpilot/stackpilot/internal/secrets"
	"github.com/stackpilot/stackpilot/internal/telemetry"
)

var errUnknownCommand = errors.New("unknown command")

var verbs = map[string]bool{
	"init":         true,
	"plan":         true,
	"deploy":       true,
	"destroy":      true,
	"backup":       true,
	"info":         true,
	"force-unlock": true,
}

func parseArgs(args []string) (env, verb, extra string, err error) {
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
		extra = args[0]
	}
	return env, verb, extra, nil
}

func run(ctx context.Context, args []string) error {
	envName, verb, extra, err := parseArgs(args)
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

	ctx = telemetry.WithRunID(ctx, runID)
	ctrl, err := newController(ctx, cfg, env)
	if err != nil {
		return err
	}

	switch verb {
	case "init":
		if err := ctrl.EnsureBackend(ctx); err != nil {
			return err
		}
		return ctrl.Init(ctx)

	case "plan":
		if err := ctrl.Init(ctx); err != nil {
			return err
		}
		if err := ctrl.Validate(ctx); err != nil {
			return err
		}
		_, err := ctrl.Plan(ctx)
		return err

	case "deploy":
		return deployInfra(ctx, ctrl, cfg)

	case "destroy":
		return ctrl.Destroy(ctx, os.Stdin, os.Stdout)

	case "backup":
		_, err := ctrl.Backup(ctx)
		return err

	case "info":
		report, err := ctrl.Info(ctx)
		if err != nil {
			return err
		}
		printReport(report)
		return nil

	case "force-unlock":
		if extra == "" {
			return fmt.Errorf("force-unlock requires the lock ID (see info)")
		}
		return ctrl.ForceUnlock(ctx, extra, os.Stdin, os.Stdout)
	}
	return fmt.Errorf("unknown command %q", verb)
}

// deployInfra runs the full provisioning sequence: backend bring-up,
// init, validate, plan, apply, output extraction.
func deployInfra(ctx context.Context, ctrl *provision.Controller, cfg *config.Config) error {
	if err := ctrl.EnsureBackend(ctx); err != nil {
		return err
	}
	if err := ctrl.Init(ctx); err != nil {
		return err
	}
	if err := ctrl.Validate(ctx); err != nil {
		return err
	}
	artifact, err := ctrl.Plan(ctx)
	if err != nil {
		return err
	}
	if err := ctrl.Apply(ctx, artifact); err != nil {
		return err
	}

	var required []string
	if cfg.Migrations.Mode == "direct" && cfg.Migrations.DatabaseURLOutput != "" {
		required = append(required, cfg.Migrations.DatabaseURLOutput)
	}
	outputs, err := ctrl.ExtractOutputs(ctx, required...)
	if err != nil {
		return err
	}
	ctrl.Status.Success("outputs available: %v", outputs.Names())
	return nil
}

func newController(ctx context.Context, cfg *config.Config, env config.Environment) (*provision.Controller, error) {
	logger, redactor := newLogger()
	logger = telemetry.RunLogger(logger, ctx, env.Name)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	locker, err := newLocker(env, awsCfg)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	return &provision.Controller{
		Env:       env,
		Engine:    provision.NewTerraformEngine(dir),
		Backend:   provision.NewBackend(s3.NewFromConfig(awsCfg), dynamodb.NewFromConfig(awsCfg), env.Region),
		Locker:    locker,
		Logger:    logger,
		Status:    telemetry.NewStatus(os.Stderr),
		Emitter:   events.NoopEmitter{},
		Redactor:  redactor,
		Holder:    hostname,
		RunID:     telemetry.RunID(ctx),
		PlanDir:   planDir,
		BackupDir: backupDir,
	}, nil
}

func newLocker(env config.Environment, awsCfg aws.Config) (lock.Locker, error) {
	switch env.State.LockBackend {
	case "etcd":
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   env.State.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to etcd: %w", err)
		}
		return lock.NewEtcdLocker(client, ""), nil
	default:
		return lock.NewDynamoLocker(dynamodb.NewFromConfig(awsCfg), env.State.LockTable), nil
	}
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

func printReport(r *provision.InfoReport) {
	fmt.Printf("Environment: %s\n", r.Environment)
	fmt.Printf("Phase:       %s\n", r.Phase)
	fmt.Printf("Serial:      %d\n", r.Serial)
	if r.Lock != nil {
		state := "held"
		if r.LockStale {
			state = "held (stale)"
		}
		fmt.Printf("Lock:        %s by %s (%s) id=%s since %s\n",
			state, r.Lock.Holder, r.Lock.Operation, r.Lock.ID, r.Lock.Created.Format(time.RFC3339))
	} else {
		fmt.Println("Lock:        free")
	}
	if len(r.Outputs) > 0 {
		fmt.Printf("Outputs:     %v\n", r.Outputs)
	}
}
