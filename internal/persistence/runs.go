package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is a stored scheduler run.
type Run struct {
	ID         string
	Workspace  string
	Goal       string
	Status     string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, runID, workspace, goal string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workspace, goal, status)
		VALUES (?, ?, ?, 'running')
	`, runID, workspace, goal)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", runID, err)
	}
	return nil
}

// FinishRun records a run's final status and finish time.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// GetRun loads one run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace, goal, status, created_at, finished_at
		FROM runs WHERE id = ?
	`, runID).Scan(&r.ID, &r.Workspace, &r.Goal, &r.Status, &r.CreatedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// ListRuns returns all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace, goal, status, created_at, finished_at
		FROM runs ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Workspace, &r.Goal, &r.Status, &r.CreatedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
