package persistence

import (
	"context"
	"reflect"
	"testing"

	"github.com/elisa-dev/elisa/internal/dag"
)

// testStore creates an in-memory store and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, "run-1", "/tmp/ws", "build a thing"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != "running" {
		t.Errorf("status = %q, want running", run.Status)
	}
	if run.FinishedAt != nil {
		t.Error("finished_at set on a running run")
	}

	if err := store.FinishRun(ctx, "run-1", "done"); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	run, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun after finish failed: %v", err)
	}
	if run.Status != "done" {
		t.Errorf("status = %q, want done", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not set")
	}
}

func TestFinishUnknownRun(t *testing.T) {
	store := testStore(t)
	if err := store.FinishRun(context.Background(), "nope", "done"); err == nil {
		t.Fatal("expected error finishing unknown run")
	}
}

func TestSaveTaskIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, "run-1", "/tmp/ws", ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	task := &dag.Task{
		ID:          "task-1",
		Name:        "Build API",
		Description: "Implement the HTTP layer",
		AgentName:   "builder",
		DependsOn:   []string{"task-0a", "task-0b"},
		Status:      dag.StatusPending,
	}
	if err := store.SaveTask(ctx, "run-1", task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	// Save again with mutated state; the row is updated, not duplicated.
	task.Status = dag.StatusDone
	task.RetryCount = 2
	task.Summary = "done after retries"
	if err := store.SaveTask(ctx, "run-1", task); err != nil {
		t.Fatalf("second SaveTask failed: %v", err)
	}

	got, err := store.GetTask(ctx, "run-1", "task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != dag.StatusDone {
		t.Errorf("status = %s, want done", got.Status)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", got.RetryCount)
	}
	if got.Summary != "done after retries" {
		t.Errorf("summary = %q", got.Summary)
	}
	if want := []string{"task-0a", "task-0b"}; !reflect.DeepEqual(got.DependsOn, want) {
		t.Errorf("deps = %v, want %v", got.DependsOn, want)
	}

	tasks, err := store.ListTasks(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("task count = %d, want 1", len(tasks))
	}
}

func TestRevisionFlagRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, "run-1", "/tmp/ws", ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	rev := dag.NewRevisionTask(&dag.Task{ID: "task-1", Name: "Build API", AgentName: "builder"}, "wrong framework")
	if err := store.SaveTask(ctx, "run-1", rev); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	got, err := store.GetTask(ctx, "run-1", rev.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if !got.Revision {
		t.Error("revision flag lost")
	}
	if got.DependsOn != nil {
		t.Errorf("revision deps = %v, want none", got.DependsOn)
	}
}

func TestRecordAndListAttempts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, "run-1", "/tmp/ws", ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if err := store.RecordAttempt(ctx, "run-1", "task-1", 1, false, "boom", 100, 20, 0.01); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if err := store.RecordAttempt(ctx, "run-1", "task-1", 2, true, "fixed", 150, 40, 0.02); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}

	attempts, err := store.ListAttempts(ctx, "run-1", "task-1")
	if err != nil {
		t.Fatalf("ListAttempts failed: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempt count = %d, want 2", len(attempts))
	}
	if attempts[0].Success || !attempts[1].Success {
		t.Errorf("success flags = %v, %v; want false, true", attempts[0].Success, attempts[1].Success)
	}
	if attempts[1].InputTokens != 150 || attempts[1].OutputTokens != 40 {
		t.Errorf("tokens = %d/%d, want 150/40", attempts[1].InputTokens, attempts[1].OutputTokens)
	}
}

func TestRunsIsolateTasks(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, runID := range []string{"run-1", "run-2"} {
		if err := store.CreateRun(ctx, runID, "/tmp/ws", ""); err != nil {
			t.Fatalf("CreateRun %s failed: %v", runID, err)
		}
	}
	task := &dag.Task{ID: "task-1", Name: "Shared ID", AgentName: "builder", Status: dag.StatusPending}
	if err := store.SaveTask(ctx, "run-1", task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	if _, err := store.GetTask(ctx, "run-2", "task-1"); err == nil {
		t.Error("task leaked across runs")
	}
	tasks, err := store.ListTasks(ctx, "run-2")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("run-2 task count = %d, want 0", len(tasks))
	}
}
