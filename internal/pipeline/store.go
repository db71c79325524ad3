package pipeline

import (
	"context"

	"github.com/elisa-dev/elisa/internal/dag"
)

// Store persists run history. The scheduler treats persistence as
// best-effort: store errors are logged, never fatal. A nil Store
// disables persistence entirely.
type Store interface {
	CreateRun(ctx context.Context, runID, workspace, goal string) error
	FinishRun(ctx context.Context, runID, status string) error
	SaveTask(ctx context.Context, runID string, task *dag.Task) error
	RecordAttempt(ctx context.Context, runID, taskID string, attempt int, success bool, summary string, inputTokens, outputTokens int, costUSD float64) error
}
