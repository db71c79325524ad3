package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/elisa-dev/elisa/internal/config"
	"github.com/elisa-dev/elisa/internal/persistence"
)

var runsDBPath string

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List past runs, or show one run's tasks and attempts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsDBPath, "db", "", "history database path (default: ~/.elisa/history.db)")
	rootCmd.AddCommand(runsCmd)
}

func historyDBPath() (string, error) {
	if runsDBPath != "" {
		return runsDBPath, nil
	}
	cfg, err := config.LoadDefault()
	if err != nil {
		return "", err
	}
	if cfg.Run.DatabasePath != "" {
		return cfg.Run.DatabasePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".elisa", "history.db"), nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	path, err := historyDBPath()
	if err != nil {
		return err
	}
	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return printRunDetail(ctx, cmd.OutOrStdout(), store, args[0])
	}
	return printRunList(ctx, cmd.OutOrStdout(), store)
}

func printRunList(ctx context.Context, out io.Writer, store *persistence.SQLiteStore) error {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tTASKS\tGOAL")
	for _, r := range runs {
		tasks, err := store.ListTasks(ctx, r.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Status, r.CreatedAt.Format("2006-01-02 15:04"), len(tasks), r.Goal)
	}
	return w.Flush()
}

func printRunDetail(ctx context.Context, out io.Writer, store *persistence.SQLiteStore, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s: %s\n", run.ID, run.Status)
	fmt.Fprintf(out, "goal: %s\n", run.Goal)
	fmt.Fprintf(out, "workspace: %s\n", run.Workspace)
	fmt.Fprintf(out, "started: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "finished: %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}

	tasks, err := store.ListTasks(ctx, runID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nTASK\tAGENT\tSTATUS\tATTEMPT\tOK\tTOKENS\tCOST")
	for _, t := range tasks {
		attempts, err := store.ListAttempts(ctx, runID, t.ID)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\n", t.ID, t.AgentName, t.Status)
			continue
		}
		for _, a := range attempts {
			ok := "no"
			if a.Success {
				ok = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d/%d\t$%.4f\n",
				t.ID, t.AgentName, t.Status, a.Attempt, ok,
				a.InputTokens, a.OutputTokens, a.CostUSD)
		}
	}
	return w.Flush()
}
