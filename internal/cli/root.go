// Package cli wires the elisa commands: running a build plan,
// validating one, and inspecting past runs.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "elisa",
	Short: "Autonomous build team scheduler",
	Long: `Elisa turns a build plan into working software: it walks the plan's
task graph, dispatches tasks to AI agents as their dependencies
complete, retries failures, and asks you for a decision when an agent
is stuck.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
