package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// CLIConfig configures a subprocess-backed worker.
type CLIConfig struct {
	Command      string   // agent CLI binary, e.g. "claude"
	Args         []string // extra args appended to every invocation
	Model        string
	SystemPrompt string // default, overridden per request
	WorkDir      string // default, overridden per request
}

// CLIWorker runs task attempts by invoking an agent CLI as a
// subprocess, one invocation per attempt, resuming a session across
// attempts of the same worker.
type CLIWorker struct {
	cfg       CLIConfig
	sessionID string
	started   bool
	procMgr   *ProcessManager
}

// cliResponse is the JSON structure the agent CLI prints on stdout.
type cliResponse struct {
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// NewCLIWorker creates a subprocess worker. The ProcessManager is
// optional; if nil, subprocesses are not tracked for shutdown.
func NewCLIWorker(cfg CLIConfig, procMgr *ProcessManager) (*CLIWorker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkDir = wd
	}

	return &CLIWorker{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		procMgr:   procMgr,
	}, nil
}

// SessionID returns the worker's session identifier.
func (w *CLIWorker) SessionID() string { return w.sessionID }

// Execute runs one attempt as a single CLI invocation. The first call
// opens the session; later calls resume it.
func (w *CLIWorker) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := w.buildArgs(req, w.started)

	cmd := newCommand(ctx, w.cfg.Command, args...)
	cmd.Dir = w.cfg.WorkDir
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	var onLine func(string)
	if req.OnOutput != nil {
		onLine = func(line string) { req.OnOutput(req.TaskID, line) }
	}

	stdout, stderr, err := runCommand(cmd, w.procMgr, onLine)
	if err != nil {
		return Result{}, fmt.Errorf("agent command failed: %w", err)
	}

	res, err := parseCLIResponse(stdout)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse agent response: %w (stderr: %s)", err, string(stderr))
	}

	w.started = true
	return res, nil
}

// Close is a no-op for the subprocess-per-invocation model.
func (w *CLIWorker) Close() error {
	return nil
}

// buildArgs constructs the CLI arguments for one invocation. isResume
// selects --session-id (first call) vs --resume (subsequent calls).
func (w *CLIWorker) buildArgs(req Request, isResume bool) []string {
	args := []string{"-p", req.Prompt, "--output-format", "json"}

	if isResume {
		args = append(args, "--resume", w.sessionID)
	} else {
		args = append(args, "--session-id", w.sessionID)
	}

	if w.cfg.Model != "" {
		args = append(args, "--model", w.cfg.Model)
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = w.cfg.SystemPrompt
	}
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}

	args = append(args, w.cfg.Args...)
	return args
}

// parseCLIResponse decodes the CLI's JSON output into a Result.
func parseCLIResponse(data []byte) (Result, error) {
	var cr cliResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Result{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var summary string
	for _, item := range cr.Result.Content {
		if item.Type == "text" {
			summary += item.Text
		}
	}

	return Result{
		Success:      !cr.IsError,
		Summary:      summary,
		InputTokens:  cr.Usage.InputTokens,
		OutputTokens: cr.Usage.OutputTokens,
		CostUSD:      cr.TotalCostUSD,
	}, nil
}
