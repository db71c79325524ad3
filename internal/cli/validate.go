package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elisa-dev/elisa/internal/dag"
	"github.com/elisa-dev/elisa/internal/plan"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan-file>",
	Short: "Validate a build plan without running it",
	Long: `Validate checks a plan file for structural problems: JSON syntax,
duplicate IDs, unknown agent references, missing dependencies and
dependency cycles. Exit code 0 means the plan would be accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	graph, err := dag.Build(p.BuildTasks())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "plan OK: %d tasks, %d agents\n", graph.Len(), len(p.Agents))
	return nil
}
