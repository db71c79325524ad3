// Package worker defines the agent-worker collaborator: the opaque,
// slow, fallible call that performs the actual work for one task
// attempt. The scheduler only ever sees this interface; the CLI
// adapter in this package is one implementation of it.
package worker

import (
	"context"
	"time"
)

// OutputFunc receives streaming output lines produced during an
// attempt.
type OutputFunc func(taskID, line string)

// AskFunc lets a worker raise a task-scoped question mid-attempt. The
// pipeline bounds the wait; a timeout error fails the attempt.
type AskFunc func(ctx context.Context, question string) (string, error)

// Request carries everything a worker needs for one attempt of one
// task.
type Request struct {
	TaskID       string
	Prompt       string
	SystemPrompt string
	WorkDir      string
	OnOutput     OutputFunc    // optional
	Ask          AskFunc       // optional
	Timeout      time.Duration // optional per-attempt bound
}

// Result is the outcome of one attempt. Success false, like a returned
// error, counts as a failed attempt.
type Result struct {
	Success      bool
	Summary      string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Worker executes task attempts. Implementations should honor context
// cancellation so in-flight attempts can settle early on shutdown.
type Worker interface {
	Execute(ctx context.Context, req Request) (Result, error)
	Close() error
}
