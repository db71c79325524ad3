package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elisa-dev/elisa/internal/config"
	"github.com/elisa-dev/elisa/internal/contextchain"
	"github.com/elisa-dev/elisa/internal/dag"
	"github.com/elisa-dev/elisa/internal/events"
	"github.com/elisa-dev/elisa/internal/persistence"
	"github.com/elisa-dev/elisa/internal/pipeline"
	"github.com/elisa-dev/elisa/internal/plan"
	"github.com/elisa-dev/elisa/internal/tui"
	"github.com/elisa-dev/elisa/internal/vcs"
	"github.com/elisa-dev/elisa/internal/worker"
)

var (
	runWorkspace   string
	runUseTUI      bool
	runMaxParallel int64
	runNoGit       bool
	runNoHistory   bool
	runDBPath      string
)

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute a build plan",
	Long: `Run executes a build plan: tasks are dispatched to agents as their
dependencies complete, failures are retried, and exhausted tasks wait
for your decision.

Without --tui, events stream to stdout as JSON lines and gates are
answered on stdin:

  approve <task-id>
  reject <task-id> <feedback...>
  answer <task-id> <answer text...>`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runWorkspace, "workspace", "w", "", "project workspace (default: a fresh temp directory)")
	runCmd.Flags().BoolVar(&runUseTUI, "tui", false, "show the live dashboard instead of JSONL output")
	runCmd.Flags().Int64Var(&runMaxParallel, "max-parallel", -1, "max concurrent tasks (0 = unlimited, -1 = from config)")
	runCmd.Flags().BoolVar(&runNoGit, "no-git", false, "disable per-task git commits")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "disable run history persistence")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "history database path (default: ~/.elisa/history.db)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	workspace := runWorkspace
	if workspace == "" {
		workspace, err = os.MkdirTemp("", "elisa-project-")
		if err != nil {
			return fmt.Errorf("creating workspace: %w", err)
		}
		fmt.Fprintf(os.Stderr, "workspace: %s\n", workspace)
	}

	chain, err := contextchain.New(workspace)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	var sink events.Sink
	if !runUseTUI {
		sink = events.NewJSONLSink(os.Stdout)
	}
	emitter := events.NewEmitter(bus, sink)

	var store pipeline.Store
	if !runNoHistory {
		if s := openHistory(ctx, cfg); s != nil {
			defer s.Close()
			store = s
		}
	}

	var versioning vcs.VCS
	if cfg.Run.GitCommits && !runNoGit {
		versioning = vcs.NewGit()
	}

	pm := worker.NewProcessManager()
	defer func() {
		if err := pm.KillAll(); err != nil {
			log.Printf("WARNING: killing leftover agent processes: %v", err)
		}
	}()

	maxParallel := cfg.Run.MaxParallel
	if runMaxParallel >= 0 {
		maxParallel = runMaxParallel
	}

	interact := newInteraction()

	pipeCfg := pipeline.Config{
		Workspace:       workspace,
		Goal:            p.Goal,
		Retry:           pipeline.RetryPolicy{MaxAttempts: cfg.Run.MaxAttempts},
		MaxParallel:     maxParallel,
		QuestionTimeout: time.Duration(cfg.Run.QuestionTimeoutSeconds) * time.Second,
	}
	if !runUseTUI {
		pipeCfg.AnswerFn = interact.answer
	}

	sched, err := pipeline.New(pipeCfg, p.BuildTasks(), rosterFromPlan(p, cfg), pipeline.Collaborators{
		Workers: workerFactory(cfg, pm, workspace),
		Emitter: emitter,
		Chain:   chain,
		VCS:     versioning,
		Store:   store,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type runReturn struct {
		result *pipeline.Result
		err    error
	}
	done := make(chan runReturn, 1)
	go func() {
		result, err := sched.Run(runCtx)
		bus.Close()
		done <- runReturn{result, err}
	}()

	if runUseTUI {
		if err := tui.Run(bus, sched, cancel); err != nil {
			log.Printf("WARNING: dashboard exited: %v", err)
			cancel()
		}
	} else {
		go interact.readLoop(runCtx, os.Stdin, sched)
	}

	rr := <-done
	if rr.err != nil {
		if errors.Is(rr.err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "run cancelled")
			return nil
		}
		return rr.err
	}

	fmt.Fprintf(os.Stderr, "run %s finished: %d commits, workspace %s\n",
		rr.result.RunID, len(rr.result.Commits), workspace)
	return nil
}

func openHistory(ctx context.Context, cfg *config.Config) *persistence.SQLiteStore {
	path := runDBPath
	if path == "" {
		path = cfg.Run.DatabasePath
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("WARNING: history disabled, no home directory: %v", err)
			return nil
		}
		path = filepath.Join(home, ".elisa", "history.db")
	}
	s, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		log.Printf("WARNING: history disabled: %v", err)
		return nil
	}
	return s
}

// rosterFromPlan fills in role and persona from config for agents the
// plan declares without them.
func rosterFromPlan(p *plan.Plan, cfg *config.Config) []dag.Agent {
	agents := p.BuildAgents()
	for i := range agents {
		ac, ok := cfg.Agents[agents[i].Name]
		if !ok {
			continue
		}
		if agents[i].Role == "" {
			agents[i].Role = ac.Role
		}
		if agents[i].Persona == "" {
			agents[i].Persona = ac.Persona
		}
	}
	return agents
}

// workerFactory builds one CLI worker per agent from the configured
// provider, falling back to the default provider for agents the config
// does not know.
func workerFactory(cfg *config.Config, pm *worker.ProcessManager, workspace string) pipeline.WorkerFactory {
	return func(agent dag.Agent) (worker.Worker, error) {
		providerName := "claude"
		var model string
		if ac, ok := cfg.Agents[agent.Name]; ok {
			if ac.Provider != "" {
				providerName = ac.Provider
			}
			model = ac.Model
		}
		provider, ok := cfg.Providers[providerName]
		if !ok {
			return nil, fmt.Errorf("agent %s uses unknown provider %q", agent.Name, providerName)
		}
		return worker.NewCLIWorker(worker.CLIConfig{
			Command: provider.Command,
			Args:    provider.Args,
			Model:   model,
			WorkDir: workspace,
		}, pm)
	}
}

// interaction routes stdin commands to pending gates and questions.
type interaction struct {
	mu      sync.Mutex
	pending map[string]chan string // taskID -> answer slot
}

func newInteraction() *interaction {
	return &interaction{pending: make(map[string]chan string)}
}

// answer implements pipeline.AnswerFunc over stdin.
func (ia *interaction) answer(ctx context.Context, taskID, question string) (string, error) {
	ch := make(chan string, 1)
	ia.mu.Lock()
	ia.pending[taskID] = ch
	ia.mu.Unlock()
	defer func() {
		ia.mu.Lock()
		delete(ia.pending, taskID)
		ia.mu.Unlock()
	}()

	fmt.Fprintf(os.Stderr, "question from %s: %s\n(reply with: answer %s <text>)\n", taskID, question, taskID)

	select {
	case a := <-ch:
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readLoop parses operator commands until the run ends or stdin
// closes.
func (ia *interaction) readLoop(ctx context.Context, r io.Reader, sched *pipeline.Scheduler) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		verb, taskID := fields[0], fields[1]
		rest := strings.Join(fields[2:], " ")

		switch verb {
		case "approve":
			if err := sched.ResolveGate(taskID, true, ""); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		case "reject":
			if err := sched.ResolveGate(taskID, false, rest); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		case "answer":
			ia.mu.Lock()
			ch, ok := ia.pending[taskID]
			ia.mu.Unlock()
			if !ok {
				fmt.Fprintf(os.Stderr, "no pending question for %s\n", taskID)
				continue
			}
			select {
			case ch <- rest:
			default:
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (approve/reject/answer)\n", verb)
		}
	}
}
