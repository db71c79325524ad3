// Package vcs defines the version-control collaborator the pipeline
// uses to checkpoint agent work after each successful task.
package vcs

import "context"

// CommitInfo describes one commit produced by the collaborator. A zero
// SHA means there was nothing to commit.
type CommitInfo struct {
	SHA          string   `json:"sha"`
	ShortSHA     string   `json:"short_sha"`
	Message      string   `json:"message"`
	AgentName    string   `json:"agent_name"`
	TaskID       string   `json:"task_id"`
	Timestamp    string   `json:"timestamp"`
	FilesChanged []string `json:"files_changed"`
}

// VCS is the narrow interface the scheduler consumes. Commit failures
// are never fatal to a run; the pipeline logs and moves on.
type VCS interface {
	// InitRepo initializes version control in dir with a README
	// derived from the project goal.
	InitRepo(ctx context.Context, dir, goal string) error

	// Commit stages all changes in dir and commits them, attributing
	// the work to the given agent and task.
	Commit(ctx context.Context, dir, message, agentName, taskID string) (CommitInfo, error)
}
