// Package main is the entry point for the stackpilot-infra
// provisioning CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/internal/provision"
)

var version = "0.1.0"

// Global flags.
var (
	configPath string
	verbose    bool
	runID      string
	dir        string
	planDir    string
	backupDir  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stackpilot-infra [environment] [command] [args]",
		Short: "Infrastructure provisioning orchestrator",
		Long: `Stackpilot-infra drives the provisioning lifecycle against remote
state: backend bring-up, init, validate, plan, apply, destroy, and
state backups, holding the state lock around every mutating step.

Commands: deploy (default), init, plan, destroy, backup, info,
force-unlock <lock-id>. The environment defaults to production.`,
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), args)
			if errors.Is(err, errUnknownCommand) {
				fmt.Fprint(os.Stderr, cmd.UsageString())
			}
			return err
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to stackpilot.yaml")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&runID, "run-id", "", "Set explicit run ID")
	root.PersistentFlags().StringVar(&dir, "dir", "infra", "Provisioning working directory")
	root.PersistentFlags().StringVar(&planDir, "plan-dir", "", "Directory for plan artifacts (default: temp dir)")
	root.PersistentFlags().StringVar(&backupDir, "backup-dir", "backups", "Directory for state backups")

	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stackpilot-infra %s\n", version)
		},
	}
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if errors.Is(err, provision.ErrCancelled) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
