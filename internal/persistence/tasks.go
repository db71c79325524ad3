package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/elisa-dev/elisa/internal/dag"
)

// SaveTask upserts a task's current state within a run, replacing its
// dependency rows so repeated saves stay idempotent.
func (s *SQLiteStore) SaveTask(ctx context.Context, runID string, task *dag.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	revision := 0
	if task.Revision {
		revision = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (run_id, id, name, description, agent_name, status, retry_count, summary, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			agent_name = excluded.agent_name,
			status = excluded.status,
			retry_count = excluded.retry_count,
			summary = excluded.summary,
			revision = excluded.revision,
			updated_at = CURRENT_TIMESTAMP
	`, runID, task.ID, task.Name, task.Description, task.AgentName, string(task.Status), task.RetryCount, task.Summary, revision)
	if err != nil {
		return fmt.Errorf("upserting task %s: %w", task.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE run_id = ? AND task_id = ?`, runID, task.ID); err != nil {
		return fmt.Errorf("clearing dependencies of %s: %w", task.ID, err)
	}
	for _, depID := range task.DependsOn {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (run_id, task_id, depends_on_id)
			VALUES (?, ?, ?)
		`, runID, task.ID, depID)
		if err != nil {
			return fmt.Errorf("inserting dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task save: %w", err)
	}
	return nil
}

// GetTask loads one task of a run, including its dependency list.
func (s *SQLiteStore) GetTask(ctx context.Context, runID, taskID string) (*dag.Task, error) {
	task := &dag.Task{}
	var status string
	var revision int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, agent_name, status, retry_count, summary, revision
		FROM tasks WHERE run_id = ? AND id = ?
	`, runID, taskID).Scan(&task.ID, &task.Name, &task.Description, &task.AgentName, &status, &task.RetryCount, &task.Summary, &revision)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying task %s: %w", taskID, err)
	}
	task.Status = dag.TaskStatus(status)
	task.Revision = revision != 0

	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id FROM task_dependencies
		WHERE run_id = ? AND task_id = ? ORDER BY depends_on_id
	`, runID, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying dependencies of %s: %w", taskID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		task.DependsOn = append(task.DependsOn, dep)
	}
	return task, rows.Err()
}

// ListTasks returns all tasks of a run, sorted by ID.
func (s *SQLiteStore) ListTasks(ctx context.Context, runID string) ([]*dag.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]*dag.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.GetTask(ctx, runID, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Attempt is one stored task attempt.
type Attempt struct {
	TaskID       string
	Attempt      int
	Success      bool
	Summary      string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CreatedAt    time.Time
}

// RecordAttempt appends one attempt record for a task.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, runID, taskID string, attempt int, success bool, summary string, inputTokens, outputTokens int, costUSD float64) error {
	successInt := 0
	if success {
		successInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (run_id, task_id, attempt, success, summary, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, taskID, attempt, successInt, summary, inputTokens, outputTokens, costUSD)
	if err != nil {
		return fmt.Errorf("recording attempt %d of %s: %w", attempt, taskID, err)
	}
	return nil
}

// ListAttempts returns a task's attempts in order.
func (s *SQLiteStore) ListAttempts(ctx context.Context, runID, taskID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, attempt, success, summary, input_tokens, output_tokens, cost_usd, created_at
		FROM attempts WHERE run_id = ? AND task_id = ? ORDER BY attempt
	`, runID, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing attempts of %s: %w", taskID, err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var success int
		if err := rows.Scan(&a.TaskID, &a.Attempt, &success, &a.Summary, &a.InputTokens, &a.OutputTokens, &a.CostUSD, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Success = success != 0
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
