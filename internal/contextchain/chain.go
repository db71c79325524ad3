// Package contextchain maintains the incrementally updated record of
// completed work: an append-only human-readable build log, a
// machine-readable status snapshot, and a structural digest of the
// workspace that is threaded into downstream task prompts.
package contextchain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/elisa-dev/elisa/internal/dag"
)

// FallbackSummary replaces empty or whitespace-only agent summaries so
// downstream prompts never receive a blank predecessor entry.
const FallbackSummary = "Agent did not provide a detailed summary for this task."

const (
	truncationMarker = "[truncated]"
	summaryWordLimit = 1000
	summaryCapWords  = 500
)

// CapSummary truncates summaries longer than 1,000 words to their
// first 500 words plus a truncation marker. The rule is idempotent: a
// capped summary is well under the limit, so re-applying it is a no-op.
func CapSummary(text string) string {
	words := strings.Fields(text)
	if len(words) <= summaryWordLimit {
		return text
	}
	return strings.Join(words[:summaryCapWords], " ") + " " + truncationMarker
}

// NormalizeSummary applies the fallback rule for blank summaries and
// then the cap rule.
func NormalizeSummary(text string) string {
	if strings.TrimSpace(text) == "" {
		return FallbackSummary
	}
	return CapSummary(text)
}

// Entry is the per-task record appended once to the build log when a
// task reaches a terminal state. Entries are never mutated after
// append.
type Entry struct {
	TaskID    string
	AgentName string
	Status    dag.TaskStatus
	Summary   string
}

// Chain owns the build log and status snapshot for one run. All writes
// go through a single mutex so concurrent completions never interleave
// partial lines.
type Chain struct {
	mu        sync.Mutex
	workspace string
	logPath   string
	statePath string
	summaries map[string]string
	entries   []Entry
}

// New creates the .elisa workspace directories and returns a chain
// rooted at the given workspace.
func New(workspace string) (*Chain, error) {
	for _, dir := range []string{
		filepath.Join(workspace, ".elisa", "context"),
		filepath.Join(workspace, ".elisa", "status"),
		filepath.Join(workspace, ".elisa", "comms"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating workspace dir %s: %w", dir, err)
		}
	}

	return &Chain{
		workspace: workspace,
		logPath:   filepath.Join(workspace, ".elisa", "context", "build_log.md"),
		statePath: filepath.Join(workspace, ".elisa", "status", "current_state.json"),
		summaries: make(map[string]string),
	}, nil
}

// Workspace returns the workspace root the chain writes under.
func (c *Chain) Workspace() string { return c.workspace }

// Record appends an entry to the build log. Failure to write the log
// is the one context error the scheduler treats as fatal.
func (c *Chain) Record(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening build log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "## %s — %s (agent: %s)\n%s\n\n", e.TaskID, e.Status, e.AgentName, e.Summary); err != nil {
		return fmt.Errorf("appending to build log: %w", err)
	}

	c.entries = append(c.entries, e)
	if e.Status == dag.StatusDone && e.Summary != "" {
		c.summaries[e.TaskID] = e.Summary
	}
	return nil
}

// snapshot is the machine-readable state rewritten after every
// terminal task so a run is inspectable mid-flight.
type snapshot struct {
	Tasks  map[string]snapshotTask  `json:"tasks"`
	Agents map[string]snapshotAgent `json:"agents"`
}

type snapshotTask struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	AgentName  string `json:"agent_name"`
	RetryCount int    `json:"retry_count"`
}

type snapshotAgent struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

// WriteSnapshot rewrites the status snapshot from the current task and
// agent states.
func (c *Chain) WriteSnapshot(tasks []*dag.Task, agents []dag.Agent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := snapshot{
		Tasks:  make(map[string]snapshotTask, len(tasks)),
		Agents: make(map[string]snapshotAgent, len(agents)),
	}
	for _, t := range tasks {
		state.Tasks[t.ID] = snapshotTask{
			Name:       t.Name,
			Status:     string(t.Status),
			AgentName:  t.AgentName,
			RetryCount: t.RetryCount,
		}
	}
	for _, a := range agents {
		state.Agents[a.Name] = snapshotAgent{
			Role:   a.Role,
			Status: string(a.Status),
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(c.statePath, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Summary returns the recorded summary for a completed task.
func (c *Chain) Summary(taskID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.summaries[taskID]
	return s, ok
}

// Summaries returns a copy of all completed-task summaries.
func (c *Chain) Summaries() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.summaries))
	for k, v := range c.summaries {
		out[k] = v
	}
	return out
}

// PredecessorSummaries returns the capped summaries for the given task
// IDs, in the given order, skipping tasks that recorded nothing.
func (c *Chain) PredecessorSummaries(taskIDs []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, id := range taskIDs {
		if s, ok := c.summaries[id]; ok {
			out = append(out, CapSummary(s))
		}
	}
	return out
}
