package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elisa-dev/elisa/internal/contextchain"
	"github.com/elisa-dev/elisa/internal/dag"
	"github.com/elisa-dev/elisa/internal/events"
	"github.com/elisa-dev/elisa/internal/vcs"
	"github.com/elisa-dev/elisa/internal/worker"
)

// recordSink captures the emitted event stream in order.
type recordSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordSink) Send(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordSink) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recordSink) count(eventType string) int {
	n := 0
	for _, ev := range r.all() {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

// index returns the position of the first event with the given type
// and task ID ("" matches any), or -1.
func (r *recordSink) index(eventType, taskID string) int {
	for i, ev := range r.all() {
		if ev.EventType() == eventType && (taskID == "" || ev.TaskID() == taskID) {
			return i
		}
	}
	return -1
}

// scriptWorker drives task attempts from a per-attempt script.
type scriptWorker struct {
	mu      sync.Mutex
	calls   map[string]int
	execute func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error)
	closed  bool
}

func newScriptWorker(execute func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error)) *scriptWorker {
	return &scriptWorker{calls: make(map[string]int), execute: execute}
}

func (w *scriptWorker) Execute(ctx context.Context, req worker.Request) (worker.Result, error) {
	w.mu.Lock()
	w.calls[req.TaskID]++
	attempt := w.calls[req.TaskID]
	w.mu.Unlock()
	return w.execute(ctx, req, attempt)
}

func (w *scriptWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *scriptWorker) callCount(taskID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[taskID]
}

func succeedAlways(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
	return worker.Result{Success: true, Summary: "did " + req.TaskID}, nil
}

func failAlways(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
	return worker.Result{Success: false, Summary: "could not do " + req.TaskID}, nil
}

func task(id, agent string, deps ...string) *dag.Task {
	return &dag.Task{
		ID:        id,
		Name:      "Task " + id,
		AgentName: agent,
		DependsOn: deps,
	}
}

func builderAgents() []dag.Agent {
	return []dag.Agent{{Name: "builder", Role: "builder"}}
}

// newTestScheduler wires a scheduler over a temp workspace with a
// recording sink and no VCS or store unless the config injects them.
func newTestScheduler(t *testing.T, cfg Config, tasks []*dag.Task, agents []dag.Agent, w worker.Worker, c Collaborators) (*Scheduler, *recordSink) {
	t.Helper()

	if cfg.Workspace == "" {
		cfg.Workspace = t.TempDir()
	}
	chain, err := contextchain.New(cfg.Workspace)
	if err != nil {
		t.Fatalf("creating context chain: %v", err)
	}

	sink := &recordSink{}
	c.Emitter = events.NewEmitter(nil, sink)
	c.Chain = chain
	if c.Workers == nil {
		c.Workers = func(dag.Agent) (worker.Worker, error) { return w, nil }
	}

	s, err := New(cfg, tasks, agents, c)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, sink
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDiamondCompletesInDependencyOrder(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder", "task-a"),
		task("task-c", "builder", "task-a"),
		task("task-d", "builder", "task-b", "task-c"),
	}
	w := newScriptWorker(succeedAlways)
	s, sink := newTestScheduler(t, Config{}, tasks, builderAgents(), w, Collaborators{})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := sink.count(events.EventTypeTaskCompleted); got != 4 {
		t.Errorf("task_completed count = %d, want 4", got)
	}
	if got := sink.count(events.EventTypeTaskFailed); got != 0 {
		t.Errorf("task_failed count = %d, want 0", got)
	}

	// B and C may only start after A completes; D after both B and C.
	completedA := sink.index(events.EventTypeTaskCompleted, "task-a")
	for _, id := range []string{"task-b", "task-c"} {
		if started := sink.index(events.EventTypeTaskStarted, id); started < completedA {
			t.Errorf("%s started at %d, before task-a completed at %d", id, started, completedA)
		}
	}
	startedD := sink.index(events.EventTypeTaskStarted, "task-d")
	for _, id := range []string{"task-b", "task-c"} {
		if completed := sink.index(events.EventTypeTaskCompleted, id); startedD < completed {
			t.Errorf("task-d started at %d, before %s completed at %d", startedD, id, completed)
		}
	}

	// run_complete closes the stream.
	evs := sink.all()
	if last := evs[len(evs)-1]; last.EventType() != events.EventTypeRunComplete {
		t.Errorf("last event = %s, want run_complete", last.EventType())
	}

	if len(result.Summaries) != 4 {
		t.Errorf("summaries = %d, want 4", len(result.Summaries))
	}
	for _, tk := range result.Tasks {
		if tk.Status != dag.StatusDone {
			t.Errorf("task %s status = %s, want done", tk.ID, tk.Status)
		}
	}
}

func TestCycleRejectedWholesale(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder", "task-b"),
		task("task-b", "builder", "task-a"),
	}
	w := newScriptWorker(succeedAlways)
	s, sink := newTestScheduler(t, Config{}, tasks, builderAgents(), w, Collaborators{})

	_, err := s.Run(context.Background())
	if !errors.Is(err, dag.ErrCycle) {
		t.Fatalf("Run error = %v, want ErrCycle", err)
	}

	if got := sink.count(events.EventTypeTaskStarted); got != 0 {
		t.Errorf("task_started count = %d, want 0 for a cyclic plan", got)
	}
	if got := sink.count(events.EventTypeError); got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}
	if w.callCount("task-a")+w.callCount("task-b") != 0 {
		t.Error("worker was invoked for a rejected plan")
	}
}

func TestFailTwiceSucceedThird(t *testing.T) {
	tasks := []*dag.Task{task("task-a", "builder")}
	w := newScriptWorker(func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
		if attempt < 3 {
			return worker.Result{Success: false, Summary: "flaky"}, nil
		}
		return worker.Result{Success: true, Summary: "third time lucky"}, nil
	})
	s, sink := newTestScheduler(t, Config{Retry: DefaultRetryPolicy()}, tasks, builderAgents(), w, Collaborators{})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := w.callCount("task-a"); got != 3 {
		t.Errorf("worker invocations = %d, want exactly 3", got)
	}
	if got := sink.count(events.EventTypeTaskStarted); got != 1 {
		t.Errorf("task_started count = %d, want 1 (retries are not new starts)", got)
	}
	if got := sink.count(events.EventTypeTaskCompleted); got != 1 {
		t.Errorf("task_completed count = %d, want 1", got)
	}
	if got := sink.count(events.EventTypeTaskFailed); got != 0 {
		t.Errorf("task_failed count = %d, want 0", got)
	}
	if got := sink.count(events.EventTypeHumanGate); got != 0 {
		t.Errorf("human_gate count = %d, want 0", got)
	}

	var retryMsgs int
	for _, ev := range sink.all() {
		if out, ok := ev.(events.AgentOutput); ok && strings.HasPrefix(out.Content, "Retrying...") {
			retryMsgs++
		}
	}
	if retryMsgs != 2 {
		t.Errorf("retry messages = %d, want 2", retryMsgs)
	}

	if result.Tasks[0].RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", result.Tasks[0].RetryCount)
	}
}

func TestExhaustedRetriesRaiseGateAndBlockDependents(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder", "task-a"),
	}
	w := newScriptWorker(failAlways)
	s, sink := newTestScheduler(t, Config{Retry: DefaultRetryPolicy()}, tasks, builderAgents(), w, Collaborators{})

	type runReturn struct {
		result *Result
		err    error
	}
	done := make(chan runReturn, 1)
	go func() {
		res, err := s.Run(context.Background())
		done <- runReturn{res, err}
	}()

	waitUntil(t, "human gate", func() bool { return len(s.PendingGates()) == 1 })

	if got := s.PendingGates()[0]; got != "task-a" {
		t.Fatalf("pending gate = %s, want task-a", got)
	}
	if err := s.ResolveGate("task-a", true, ""); err != nil {
		t.Fatalf("ResolveGate failed: %v", err)
	}

	rr := <-done
	if rr.err != nil {
		t.Fatalf("Run failed: %v", rr.err)
	}

	if got := w.callCount("task-a"); got != 3 {
		t.Errorf("worker invocations = %d, want 3", got)
	}
	if got := sink.count(events.EventTypeHumanGate); got != 1 {
		t.Errorf("human_gate count = %d, want 1", got)
	}
	if got := sink.count(events.EventTypeTaskFailed); got != 1 {
		t.Errorf("task_failed count = %d, want 1", got)
	}

	// task_failed is emitted after the gate is resolved, carrying the
	// final retry count.
	gateIdx := sink.index(events.EventTypeHumanGate, "task-a")
	failIdx := sink.index(events.EventTypeTaskFailed, "task-a")
	if failIdx < gateIdx {
		t.Errorf("task_failed at %d precedes human_gate at %d", failIdx, gateIdx)
	}
	for _, ev := range sink.all() {
		if failed, ok := ev.(events.TaskFailed); ok && failed.RetryCount != 3 {
			t.Errorf("task_failed retry_count = %d, want 3", failed.RetryCount)
		}
	}

	// The dependent never runs: blocked, no events.
	if w.callCount("task-b") != 0 {
		t.Error("blocked dependent was dispatched")
	}
	if idx := sink.index(events.EventTypeTaskStarted, "task-b"); idx != -1 {
		t.Error("blocked dependent emitted task_started")
	}
	for _, tk := range rr.result.Tasks {
		switch tk.ID {
		case "task-a":
			if tk.Status != dag.StatusFailed {
				t.Errorf("task-a status = %s, want failed", tk.Status)
			}
		case "task-b":
			if tk.Status != dag.StatusBlocked {
				t.Errorf("task-b status = %s, want blocked", tk.Status)
			}
		}
	}
}

func TestGateRejectionInsertsRevision(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder", "task-a"),
	}
	w := newScriptWorker(func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
		if req.TaskID == "task-a" {
			return worker.Result{Success: false, Summary: "wrong approach"}, nil
		}
		return worker.Result{Success: true, Summary: "did " + req.TaskID}, nil
	})
	s, sink := newTestScheduler(t, Config{Retry: DefaultRetryPolicy()}, tasks, builderAgents(), w, Collaborators{})

	done := make(chan *Result, 1)
	go func() {
		res, err := s.Run(context.Background())
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
		done <- res
	}()

	waitUntil(t, "human gate", func() bool { return len(s.PendingGates()) == 1 })
	if err := s.ResolveGate("task-a", false, "use the streaming API instead"); err != nil {
		t.Fatalf("ResolveGate failed: %v", err)
	}

	result := <-done

	revID := "task-revision-task-a"
	if got := w.callCount(revID); got != 1 {
		t.Fatalf("revision invocations = %d, want 1", got)
	}
	if idx := sink.index(events.EventTypeTaskStarted, revID); idx == -1 {
		t.Error("revision task never emitted task_started")
	}

	// The original still fails terminally, but its dependent runs once
	// the revision succeeds.
	if got := sink.count(events.EventTypeTaskFailed); got != 1 {
		t.Errorf("task_failed count = %d, want 1", got)
	}
	if got := w.callCount("task-b"); got != 1 {
		t.Errorf("dependent invocations = %d, want 1", got)
	}

	byID := make(map[string]*dag.Task)
	for _, tk := range result.Tasks {
		byID[tk.ID] = tk
	}
	if byID["task-a"].Status != dag.StatusFailed {
		t.Errorf("task-a status = %s, want failed", byID["task-a"].Status)
	}
	rev, ok := byID[revID]
	if !ok {
		t.Fatal("revision task missing from result")
	}
	if !rev.Revision {
		t.Error("revision task not flagged as revision")
	}
	if rev.Status != dag.StatusDone {
		t.Errorf("revision status = %s, want done", rev.Status)
	}
	if !strings.Contains(rev.Description, "use the streaming API instead") {
		t.Errorf("revision description missing feedback: %q", rev.Description)
	}
	if byID["task-b"].Status != dag.StatusDone {
		t.Errorf("task-b status = %s, want done", byID["task-b"].Status)
	}
}

func TestCancellationStopsDispatchAndSettles(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder"),
		task("task-c", "builder", "task-a", "task-b"),
	}
	var started atomic.Int32
	w := newScriptWorker(func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
		started.Add(1)
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	})
	s, sink := newTestScheduler(t, Config{Retry: DefaultRetryPolicy()}, tasks, builderAgents(), w, Collaborators{})

	ctx, cancel := context.WithCancel(context.Background())
	type runReturn struct {
		result *Result
		err    error
	}
	done := make(chan runReturn, 1)
	go func() {
		res, err := s.Run(ctx)
		done <- runReturn{res, err}
	}()

	waitUntil(t, "both roots in flight", func() bool { return started.Load() == 2 })
	cancel()

	rr := <-done
	if !errors.Is(rr.err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", rr.err)
	}
	if !rr.result.Cancelled {
		t.Error("result not marked cancelled")
	}

	// No dispatch after the cancellation point: task-c never starts.
	if idx := sink.index(events.EventTypeTaskStarted, "task-c"); idx != -1 {
		t.Error("task-c started after cancellation")
	}
	if got := sink.count(events.EventTypeTaskStarted); got != 2 {
		t.Errorf("task_started count = %d, want 2", got)
	}

	// Exactly one terminal error event; per-task failures are folded
	// into it.
	if got := sink.count(events.EventTypeError); got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}
	if got := sink.count(events.EventTypeTaskFailed); got != 0 {
		t.Errorf("task_failed count = %d, want 0 on cancellation", got)
	}
	if got := sink.count(events.EventTypeRunComplete); got != 0 {
		t.Errorf("run_complete count = %d, want 0 on cancellation", got)
	}
}

func TestSingleGateAtATime(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder"),
	}
	w := newScriptWorker(failAlways)
	s, sink := newTestScheduler(t, Config{Retry: DefaultRetryPolicy()}, tasks, builderAgents(), w, Collaborators{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.Run(context.Background()); err != nil {
			t.Errorf("Run failed: %v", err)
		}
	}()

	waitUntil(t, "first gate", func() bool { return len(s.PendingGates()) == 1 })
	first := s.PendingGates()[0]

	// Both tasks have exhausted retries by now, yet only one gate is
	// open; the second waits its turn.
	waitUntil(t, "both exhausted", func() bool {
		return w.callCount("task-a") == 3 && w.callCount("task-b") == 3
	})
	if got := len(s.PendingGates()); got != 1 {
		t.Fatalf("pending gates = %d, want 1", got)
	}

	if err := s.ResolveGate(first, true, ""); err != nil {
		t.Fatalf("resolving first gate: %v", err)
	}

	waitUntil(t, "second gate", func() bool {
		pending := s.PendingGates()
		return len(pending) == 1 && pending[0] != first
	})
	second := s.PendingGates()[0]
	if err := s.ResolveGate(second, true, ""); err != nil {
		t.Fatalf("resolving second gate: %v", err)
	}

	<-done

	if got := sink.count(events.EventTypeHumanGate); got != 2 {
		t.Errorf("human_gate count = %d, want 2", got)
	}
	if got := sink.count(events.EventTypeTaskFailed); got != 2 {
		t.Errorf("task_failed count = %d, want 2", got)
	}
}

func TestMaxParallelBoundsConcurrency(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder"),
		task("task-c", "builder"),
		task("task-d", "builder"),
	}
	var current, peak atomic.Int32
	w := newScriptWorker(func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return worker.Result{Success: true, Summary: "done"}, nil
	})
	s, _ := newTestScheduler(t, Config{MaxParallel: 2}, tasks, builderAgents(), w, Collaborators{})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestIndependentTasksRunConcurrently(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder"),
	}
	barrier := make(chan struct{})
	var arrived atomic.Int32
	w := newScriptWorker(func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
		if arrived.Add(1) == 2 {
			close(barrier)
		}
		select {
		case <-barrier:
			return worker.Result{Success: true, Summary: "met at the barrier"}, nil
		case <-time.After(3 * time.Second):
			return worker.Result{Success: false, Summary: "never saw the other task running"}, nil
		}
	})
	s, sink := newTestScheduler(t, Config{}, tasks, builderAgents(), w, Collaborators{})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := sink.count(events.EventTypeTaskCompleted); got != 2 {
		t.Errorf("task_completed count = %d, want 2 (tasks did not overlap)", got)
	}
}

type fakeVCS struct {
	mu      sync.Mutex
	inits   int
	commits []vcs.CommitInfo
}

func (f *fakeVCS) InitRepo(ctx context.Context, dir, goal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return nil
}

func (f *fakeVCS) Commit(ctx context.Context, dir, message, agentName, taskID string) (vcs.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := vcs.CommitInfo{
		SHA:       fmt.Sprintf("%040d", len(f.commits)+1),
		ShortSHA:  fmt.Sprintf("%07d", len(f.commits)+1),
		Message:   message,
		AgentName: agentName,
		TaskID:    taskID,
	}
	f.commits = append(f.commits, info)
	return info, nil
}

func TestCommitsFlowThroughEvents(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder", "task-a"),
	}
	w := newScriptWorker(succeedAlways)
	fv := &fakeVCS{}
	s, sink := newTestScheduler(t, Config{Goal: "a tiny web app"}, tasks, builderAgents(), w, Collaborators{VCS: fv})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fv.inits != 1 {
		t.Errorf("InitRepo calls = %d, want 1", fv.inits)
	}
	if len(result.Commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(result.Commits))
	}
	if got := sink.count(events.EventTypeCommitCreated); got != 2 {
		t.Errorf("commit_created count = %d, want 2", got)
	}

	// The commit event precedes the completion event for its task.
	for _, id := range []string{"task-a", "task-b"} {
		commitIdx := sink.index(events.EventTypeCommitCreated, id)
		completedIdx := sink.index(events.EventTypeTaskCompleted, id)
		if commitIdx == -1 || commitIdx > completedIdx {
			t.Errorf("%s: commit_created at %d, task_completed at %d", id, commitIdx, completedIdx)
		}
	}
}

type memStore struct {
	mu       sync.Mutex
	runs     map[string]string // runID -> final status
	tasks    map[string]dag.TaskStatus
	attempts int
}

func newMemStoreStub() *memStore {
	return &memStore{runs: make(map[string]string), tasks: make(map[string]dag.TaskStatus)}
}

func (m *memStore) CreateRun(ctx context.Context, runID, workspace, goal string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = "running"
	return nil
}

func (m *memStore) FinishRun(ctx context.Context, runID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = status
	return nil
}

func (m *memStore) SaveTask(ctx context.Context, runID string, task *dag.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task.Status
	return nil
}

func (m *memStore) RecordAttempt(ctx context.Context, runID, taskID string, attempt int, success bool, summary string, inputTokens, outputTokens int, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return nil
}

func TestRunStatePersisted(t *testing.T) {
	tasks := []*dag.Task{task("task-a", "builder")}
	w := newScriptWorker(func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
		if attempt == 1 {
			return worker.Result{Success: false, Summary: "first try"}, nil
		}
		return worker.Result{Success: true, Summary: "second try"}, nil
	})
	store := newMemStoreStub()
	s, _ := newTestScheduler(t, Config{Retry: DefaultRetryPolicy()}, tasks, builderAgents(), w, Collaborators{Store: store})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := store.runs[s.RunID()]; got != "done" {
		t.Errorf("run status = %q, want done", got)
	}
	if got := store.tasks["task-a"]; got != dag.StatusDone {
		t.Errorf("persisted task status = %s, want done", got)
	}
	if store.attempts != 2 {
		t.Errorf("recorded attempts = %d, want 2", store.attempts)
	}
}

func TestTokenUsageReportedOnFailure(t *testing.T) {
	tasks := []*dag.Task{task("task-a", "builder")}
	w := newScriptWorker(func(ctx context.Context, req worker.Request, attempt int) (worker.Result, error) {
		res := worker.Result{InputTokens: 100, OutputTokens: 50}
		if attempt == 2 {
			res.Success = true
			res.Summary = "recovered"
		}
		return res, nil
	})
	s, sink := newTestScheduler(t, Config{Retry: DefaultRetryPolicy()}, tasks, builderAgents(), w, Collaborators{})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := sink.count(events.EventTypeTokenUsage); got != 2 {
		t.Errorf("token_usage count = %d, want 2 (one per attempt)", got)
	}
}

func TestDAGArtifactWrittenToWorkspaceRoot(t *testing.T) {
	tasks := []*dag.Task{
		task("task-a", "builder"),
		task("task-b", "builder", "task-a"),
	}
	w := newScriptWorker(succeedAlways)
	ws := t.TempDir()
	s, _ := newTestScheduler(t, Config{Workspace: ws}, tasks, builderAgents(), w, Collaborators{})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(ws, "dag.json"))
	if err != nil {
		t.Fatalf("reading dag.json at workspace root: %v", err)
	}
	var out struct {
		Tasks []struct {
			ID        string   `json:"id"`
			DependsOn []string `json:"depends_on"`
		} `json:"tasks"`
		Order []string `json:"order"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("parsing dag.json: %v", err)
	}
	if len(out.Tasks) != 2 || len(out.Order) != 2 {
		t.Errorf("dag.json has %d tasks, %d order entries; want 2, 2", len(out.Tasks), len(out.Order))
	}
	if out.Order[0] != "task-a" {
		t.Errorf("order[0] = %q, want task-a", out.Order[0])
	}
}

func TestUnknownAgentRejectedAtConstruction(t *testing.T) {
	cfg := Config{Workspace: t.TempDir()}
	chain, err := contextchain.New(cfg.Workspace)
	if err != nil {
		t.Fatalf("creating context chain: %v", err)
	}
	_, err = New(cfg,
		[]*dag.Task{task("task-a", "ghost")},
		builderAgents(),
		Collaborators{
			Workers: func(dag.Agent) (worker.Worker, error) { return newScriptWorker(succeedAlways), nil },
			Chain:   chain,
		})
	if err == nil || !strings.Contains(err.Error(), "unknown agent") {
		t.Fatalf("New error = %v, want unknown agent rejection", err)
	}
}
