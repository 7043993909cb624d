// Package main is the entry point for the stackpilot deployment CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Global flags.
var (
	configPath string
	verbose    bool
	runID      string
	kubeconfig string
	schedule   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stackpilot [environment] [command] [component]",
		Short: "Deployment lifecycle orchestrator",
		Long: `Stackpilot drives deployments for a configured environment:
it applies workload manifests in dependency order, gates on readiness,
runs migrations and health checks, and cleans up superseded resources.

Commands: deploy (default), rollback, health-check, info, cleanup.
The environment defaults to production, the component to all.`,
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), args)
			if errors.Is(err, errUnknownCommand) || errors.Is(err, errUnknownComponent) {
				fmt.Fprint(os.Stderr, cmd.UsageString())
			}
			return err
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to stackpilot.yaml")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&runID, "run-id", "", "Set explicit run ID")
	root.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig (default: standard loading rules)")
	root.PersistentFlags().StringVar(&schedule, "schedule", "", "Cron schedule for periodic cleanup (cleanup command only)")
	root.PersistentFlags().StringVar(&infraDir, "infra-dir", "infra", "Provisioning working directory (for direct-mode migrations)")

	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stackpilot %s\n", version)
		},
	}
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
