// Package pipeline contains the build scheduler: it walks the task
// graph, dispatches ready tasks to agent workers, applies the retry
// policy, raises human gates when retries are exhausted, and emits the
// ordered event stream describing the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/elisa-dev/elisa/internal/contextchain"
	"github.com/elisa-dev/elisa/internal/dag"
	"github.com/elisa-dev/elisa/internal/events"
	"github.com/elisa-dev/elisa/internal/vcs"
	"github.com/elisa-dev/elisa/internal/worker"
)

// gateQuestion is what the operator sees when a task exhausts its
// retries.
const gateQuestion = "We're having trouble with this part. Can you help us figure it out?"

// agentMessageLimit bounds the teammate-visible completion message.
const agentMessageLimit = 500

// ErrStalled reports a run where nothing is executing, no gate is
// open, and the graph is not finished. With blocked propagation in
// place this cannot happen on a valid graph; it guards against state
// corruption rather than a plan shape.
var ErrStalled = errors.New("run stalled: no runnable tasks and no pending gates")

// WorkerFactory creates the worker for an agent. The scheduler creates
// one worker per agent on first dispatch and reuses it for every task
// and attempt of that agent.
type WorkerFactory func(agent dag.Agent) (worker.Worker, error)

// Config carries the run-level knobs for a scheduler.
type Config struct {
	Workspace       string
	Goal            string
	Retry           RetryPolicy
	MaxParallel     int64         // 0 = unlimited concurrent tasks
	QuestionTimeout time.Duration // 0 = DefaultQuestionTimeout
	AnswerFn        AnswerFunc    // nil disables interactive questions
}

// Collaborators are the scheduler's injected dependencies. Workers,
// Emitter and Chain are required; VCS and Store are optional.
type Collaborators struct {
	Workers WorkerFactory
	Emitter *events.Emitter
	Chain   *contextchain.Chain
	VCS     vcs.VCS
	Store   Store
}

// Result is returned from a finished run, whether it completed or was
// cancelled.
type Result struct {
	RunID     string
	Summaries map[string]string
	Commits   []vcs.CommitInfo
	Tasks     []*dag.Task
	Cancelled bool
}

// gateEscalation is a task waiting for its turn at the single open
// human gate. Escalations are served strictly in arrival order.
type gateEscalation struct {
	taskID     string
	retryCount int
	reason     string
}

// gateOutcome is delivered back to the loop when an open gate is
// resolved or the run is cancelled while it waits.
type gateOutcome struct {
	taskID     string
	retryCount int
	decision   GateDecision
	cancelled  bool
}

// Scheduler drives one run of a task graph. All graph and agent state
// is mutated only inside the Run loop; execution units and gate
// waiters communicate with it exclusively through channels.
type Scheduler struct {
	cfg   Config
	runID string

	graph      *dag.Graph
	agents     map[string]*dag.Agent
	agentOrder []string

	factory  WorkerFactory
	workers  map[string]worker.Worker
	breakers *BreakerRegistry

	gate      *HumanGate
	questions *QuestionChannel
	chain     *contextchain.Chain
	emitter   *events.Emitter
	vcs       vcs.VCS
	store     Store

	// loop-owned state, never touched from other goroutines
	completed  map[string]struct{}
	dispatched map[string]struct{}
	supersedes map[string]string // revision task ID -> task it replaces
	busy       map[string]int    // in-flight attempts per agent
	inFlight   int
	cancelled  bool
	gateOpen   bool
	gateQueue  []gateEscalation
	commits    []vcs.CommitInfo

	sem         *semaphore.Weighted
	results     chan attemptOutcome
	gateResults chan gateOutcome
}

// New builds a scheduler over the given tasks and agents. It rejects
// unknown agent references up front; graph shape problems surface in
// Run so the cycle path can travel the event stream.
func New(cfg Config, tasks []*dag.Task, agents []dag.Agent, c Collaborators) (*Scheduler, error) {
	if c.Workers == nil {
		return nil, errors.New("pipeline: worker factory is required")
	}
	if c.Chain == nil {
		return nil, errors.New("pipeline: context chain is required")
	}
	if c.Emitter == nil {
		c.Emitter = events.NewEmitter(nil, nil)
	}

	roster := make(map[string]*dag.Agent, len(agents))
	order := make([]string, 0, len(agents))
	for i := range agents {
		a := agents[i]
		if a.Status == "" {
			a.Status = dag.AgentIdle
		}
		if _, dup := roster[a.Name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate agent %q", a.Name)
		}
		roster[a.Name] = &a
		order = append(order, a.Name)
	}

	graph := dag.NewGraph()
	for _, t := range tasks {
		if _, ok := roster[t.AgentName]; !ok {
			return nil, fmt.Errorf("pipeline: task %q references unknown agent %q", t.ID, t.AgentName)
		}
		if err := graph.Add(t); err != nil {
			return nil, err
		}
	}

	s := &Scheduler{
		cfg:        cfg,
		runID:      uuid.NewString(),
		graph:      graph,
		agents:     roster,
		agentOrder: order,
		factory:    c.Workers,
		workers:    make(map[string]worker.Worker),
		breakers:   NewBreakerRegistry(),
		gate:       NewHumanGate(),
		chain:      c.Chain,
		emitter:    c.Emitter,
		vcs:        c.VCS,
		store:      c.Store,
		completed:  make(map[string]struct{}),
		dispatched: make(map[string]struct{}),
		supersedes: make(map[string]string),
		busy:       make(map[string]int),
	}
	if cfg.MaxParallel > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxParallel)
	}
	if cfg.AnswerFn != nil {
		buf := int(cfg.MaxParallel) * 2
		if buf < 8 {
			buf = 8
		}
		s.questions = NewQuestionChannel(buf, cfg.QuestionTimeout, cfg.AnswerFn)
	}
	return s, nil
}

// RunID identifies this run in events, persistence and artifacts.
func (s *Scheduler) RunID() string { return s.runID }

// ResolveGate delivers the operator's decision for an escalated task.
// Safe to call from any goroutine.
func (s *Scheduler) ResolveGate(taskID string, approved bool, feedback string) error {
	return s.gate.Resolve(taskID, GateDecision{Approved: approved, Feedback: feedback})
}

// PendingGates lists tasks currently waiting on an operator decision.
func (s *Scheduler) PendingGates() []string { return s.gate.Pending() }

// Run executes the graph to completion or cancellation. It returns
// the run result alongside the context error when cancelled, and nil
// error on normal completion even if individual tasks failed.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	if _, err := s.graph.Validate(); err != nil {
		s.emitter.Emit(events.Error{
			Message:     fmt.Sprintf("Plan rejected: %v", err),
			Recoverable: false,
		})
		return nil, err
	}

	dagPath := filepath.Join(s.cfg.Workspace, "dag.json")
	if err := s.graph.WriteFile(dagPath); err != nil {
		log.Printf("WARNING: writing dag artifact: %v", err)
	}

	s.initRepo(ctx)
	s.persistRunStart(ctx)
	s.snapshot()

	capacity := s.graph.Len()*(s.cfg.Retry.MaxAttempts+2) + 64
	s.results = make(chan attemptOutcome, capacity)
	s.gateResults = make(chan gateOutcome, 4)

	runCtx, cancel := context.WithCancel(ctx)
	if s.questions != nil {
		s.questions.Start(runCtx)
	}

	err := s.loop(runCtx)

	cancel()
	if s.questions != nil {
		s.questions.Stop()
	}
	for name, w := range s.workers {
		if closeErr := w.Close(); closeErr != nil {
			log.Printf("WARNING: closing worker for agent %s: %v", name, closeErr)
		}
	}

	result := &Result{
		RunID:     s.runID,
		Summaries: s.chain.Summaries(),
		Commits:   s.commits,
		Tasks:     s.graph.Tasks(),
		Cancelled: s.cancelled,
	}

	if err != nil {
		s.persistRunEnd(ctx, "error")
		return result, err
	}
	if s.cancelled {
		s.emitter.Emit(events.Error{
			Message:     "Build cancelled before completion.",
			Recoverable: false,
		})
		s.persistRunEnd(ctx, "cancelled")
		return result, ctx.Err()
	}

	s.finishAgents()
	s.emitter.Emit(events.RunComplete{Summary: s.completionSummary()})
	s.persistRunEnd(ctx, "done")
	return result, nil
}

// loop is the single mutation point for run state. Each iteration
// dispatches whatever is ready, then applies exactly one outcome.
func (s *Scheduler) loop(ctx context.Context) error {
	done := ctx.Done()

	for {
		if !s.cancelled && ctx.Err() != nil {
			s.observeCancellation(ctx)
		}
		if !s.cancelled {
			s.dispatchReady(ctx)
		}

		if s.inFlight == 0 && !s.gateOpen && len(s.gateQueue) == 0 {
			if s.cancelled || s.graph.FullyTerminal() {
				return nil
			}
			s.emitter.Emit(events.Error{Message: ErrStalled.Error(), Recoverable: false})
			return ErrStalled
		}

		select {
		case out := <-s.results:
			s.inFlight--
			if err := s.applyAttempt(ctx, out); err != nil {
				return err
			}
		case g := <-s.gateResults:
			s.gateOpen = false
			if err := s.applyGate(ctx, g); err != nil {
				return err
			}
			if err := s.maybeRaiseGate(ctx); err != nil {
				return err
			}
		case <-done:
			s.observeCancellation(ctx)
			done = nil // fire once, then drain via the other cases
		}
	}
}

// observeCancellation flips the run into drain mode: nothing new is
// dispatched, queued escalations fail immediately, and the loop keeps
// receiving until every in-flight attempt has settled.
func (s *Scheduler) observeCancellation(ctx context.Context) {
	if s.cancelled {
		return
	}
	s.cancelled = true
	for _, esc := range s.gateQueue {
		if err := s.finalizeFailed(ctx, esc.taskID, esc.retryCount, "run cancelled while awaiting human review", false); err != nil {
			log.Printf("ERROR: finalizing queued escalation for %s: %v", esc.taskID, err)
		}
	}
	s.gateQueue = nil
}

// dispatchReady starts an execution unit for every task whose
// dependencies are complete, respecting the concurrency cap.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	for _, id := range s.graph.Ready(s.completed, s.dispatched) {
		if ctx.Err() != nil {
			s.observeCancellation(ctx)
			return
		}
		if s.sem != nil && !s.sem.TryAcquire(1) {
			return // cap reached; revisit after the next outcome
		}
		s.startAttempt(ctx, id, 1)
	}
}

// startAttempt dispatches one attempt. The first attempt of a task is
// the only one that emits task_started.
func (s *Scheduler) startAttempt(ctx context.Context, id string, attempt int) {
	task, ok := s.graph.Get(id)
	if !ok {
		log.Printf("ERROR: dispatch of unknown task %s", id)
		return
	}

	s.graph.SetStatus(id, dag.StatusInProgress)
	task.Status = dag.StatusInProgress
	s.dispatched[id] = struct{}{}
	s.setAgentBusy(task.AgentName)
	s.inFlight++

	if attempt == 1 {
		s.emitter.Emit(events.TaskStarted{ID: id, AgentName: task.AgentName})
		s.persistTask(ctx, task)
	}

	w, err := s.workerFor(task.AgentName)
	if err != nil {
		// Delivered as a failed attempt so the retry policy applies.
		s.results <- attemptOutcome{taskID: id, attempt: attempt, err: err}
		return
	}

	unit := &executionUnit{
		task:      task,
		agent:     *s.agents[task.AgentName],
		attempt:   attempt,
		workspace: s.cfg.Workspace,
		goal:      s.cfg.Goal,
		worker:    w,
		breaker:   s.breakers.Get(task.AgentName),
		chain:     s.chain,
		graph:     s.graph,
		vcs:       s.vcs,
		emitter:   s.emitter,
		questions: s.questions,
	}
	go func() {
		s.results <- unit.run(ctx)
	}()
}

func (s *Scheduler) workerFor(agentName string) (worker.Worker, error) {
	if w, ok := s.workers[agentName]; ok {
		return w, nil
	}
	w, err := s.factory(*s.agents[agentName])
	if err != nil {
		return nil, fmt.Errorf("creating worker for agent %s: %w", agentName, err)
	}
	s.workers[agentName] = w
	return w, nil
}

// releaseSlot frees a concurrency-cap slot. The slot is held across
// retries of the same task and released only when the task leaves
// execution: completion, cancellation, or escalation to a gate.
func (s *Scheduler) releaseSlot() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// applyAttempt folds one attempt outcome into run state. Only context
// chain write failures are fatal.
func (s *Scheduler) applyAttempt(ctx context.Context, out attemptOutcome) error {
	task, ok := s.graph.Get(out.taskID)
	if !ok {
		return fmt.Errorf("outcome for unknown task %s", out.taskID)
	}
	s.setAgentFree(task.AgentName)
	s.persistAttempt(ctx, out)

	if out.succeeded() {
		s.releaseSlot()
		return s.finalizeDone(ctx, task, out)
	}

	retryCount := s.graph.IncrementRetry(out.taskID)

	if s.cancelled {
		s.releaseSlot()
		return s.finalizeFailed(ctx, out.taskID, retryCount, "run cancelled", false)
	}

	if s.cfg.Retry.Decide(retryCount) == DecisionRetry {
		s.emitter.Emit(events.AgentOutput{
			ID:        out.taskID,
			AgentName: task.AgentName,
			Content:   fmt.Sprintf("Retrying... (attempt %d)", retryCount+1),
		})
		s.startAttempt(ctx, out.taskID, retryCount+1)
		return nil
	}

	s.releaseSlot()
	s.gateQueue = append(s.gateQueue, gateEscalation{
		taskID:     out.taskID,
		retryCount: retryCount,
		reason:     out.failureReason(),
	})
	return s.maybeRaiseGate(ctx)
}

func (s *Scheduler) finalizeDone(ctx context.Context, task *dag.Task, out attemptOutcome) error {
	id := task.ID
	summary := out.result.Summary

	s.graph.SetStatus(id, dag.StatusDone)
	s.graph.SetSummary(id, summary)
	s.graph.MarkTerminal(id)
	delete(s.dispatched, id)
	s.markCompleted(id)

	if out.commit != nil {
		s.commits = append(s.commits, *out.commit)
		s.emitter.Emit(events.CommitCreated{
			SHA:          out.commit.SHA,
			ShortSHA:     out.commit.ShortSHA,
			Message:      out.commit.Message,
			AgentName:    out.commit.AgentName,
			ID:           out.commit.TaskID,
			Timestamp:    out.commit.Timestamp,
			FilesChanged: out.commit.FilesChanged,
		})
	}

	if err := s.chain.Record(contextchain.Entry{
		TaskID:    id,
		AgentName: task.AgentName,
		Status:    dag.StatusDone,
		Summary:   summary,
	}); err != nil {
		s.emitter.Emit(events.Error{
			Message:     fmt.Sprintf("Cannot record build progress: %v", err),
			Recoverable: false,
		})
		return fmt.Errorf("recording completion of %s: %w", id, err)
	}
	s.snapshot()

	s.emitter.Emit(events.AgentMessage{
		From:    task.AgentName,
		To:      "team",
		Content: clip(summary, agentMessageLimit),
	})
	s.emitter.Emit(events.TaskCompleted{ID: id, Summary: summary})

	if done, ok := s.graph.Get(id); ok {
		s.persistTask(ctx, done)
	}
	return nil
}

// markCompleted adds the task to the ready-set input, along with every
// task it supersedes: a revision standing in for a rejected task
// unblocks the original's dependents when it succeeds.
func (s *Scheduler) markCompleted(id string) {
	s.completed[id] = struct{}{}
	for cur := id; ; {
		orig, ok := s.supersedes[cur]
		if !ok {
			return
		}
		s.completed[orig] = struct{}{}
		cur = orig
	}
}

// finalizeFailed marks a task failed, blocks its dependents (and the
// dependents of any task it was revising), and records the terminal
// entries. emitEvent is false on the cancellation path, where the
// single run-level error event stands in for per-task failures.
func (s *Scheduler) finalizeFailed(ctx context.Context, id string, retryCount int, reason string, emitEvent bool) error {
	task, ok := s.graph.Get(id)
	if !ok {
		return fmt.Errorf("finalizing unknown task %s", id)
	}

	s.graph.SetStatus(id, dag.StatusFailed)
	s.graph.MarkTerminal(id)
	delete(s.dispatched, id)

	var blocked []string
	blocked = append(blocked, s.graph.BlockDependents(id)...)
	for cur := id; ; {
		orig, okSup := s.supersedes[cur]
		if !okSup {
			break
		}
		blocked = append(blocked, s.graph.BlockDependents(orig)...)
		cur = orig
	}

	if emitEvent {
		s.emitter.Emit(events.TaskFailed{ID: id, RetryCount: retryCount, Error: reason})
	}

	if err := s.chain.Record(contextchain.Entry{
		TaskID:    id,
		AgentName: task.AgentName,
		Status:    dag.StatusFailed,
		Summary:   reason,
	}); err != nil {
		s.emitter.Emit(events.Error{
			Message:     fmt.Sprintf("Cannot record build progress: %v", err),
			Recoverable: false,
		})
		return fmt.Errorf("recording failure of %s: %w", id, err)
	}
	for _, b := range blocked {
		if blockedTask, okB := s.graph.Get(b); okB {
			entry := contextchain.Entry{
				TaskID:    b,
				AgentName: blockedTask.AgentName,
				Status:    dag.StatusBlocked,
				Summary:   fmt.Sprintf("Blocked: dependency %s failed.", id),
			}
			if err := s.chain.Record(entry); err != nil {
				s.emitter.Emit(events.Error{
					Message:     fmt.Sprintf("Cannot record build progress: %v", err),
					Recoverable: false,
				})
				return fmt.Errorf("recording blocked task %s: %w", b, err)
			}
			s.persistTask(ctx, blockedTask)
		}
	}
	s.snapshot()

	if failed, okF := s.graph.Get(id); okF {
		s.persistTask(ctx, failed)
	}
	return nil
}

// maybeRaiseGate opens the next queued escalation if no gate is
// currently open. One gate at a time keeps operator attention on a
// single question.
func (s *Scheduler) maybeRaiseGate(ctx context.Context) error {
	if s.gateOpen || len(s.gateQueue) == 0 {
		return nil
	}
	if s.cancelled {
		for _, esc := range s.gateQueue {
			if err := s.finalizeFailed(ctx, esc.taskID, esc.retryCount, "run cancelled while awaiting human review", false); err != nil {
				return err
			}
		}
		s.gateQueue = nil
		return nil
	}

	esc := s.gateQueue[0]
	s.gateQueue = s.gateQueue[1:]

	ch, err := s.gate.open(esc.taskID)
	if err != nil {
		return s.finalizeFailed(ctx, esc.taskID, esc.retryCount, esc.reason, true)
	}
	s.gateOpen = true

	s.emitter.Emit(events.HumanGate{
		ID:         esc.taskID,
		RetryCount: esc.retryCount,
		Question:   gateQuestion,
		Context:    esc.reason,
	})

	go func() {
		select {
		case d := <-ch:
			s.gateResults <- gateOutcome{taskID: esc.taskID, retryCount: esc.retryCount, decision: d}
		case <-ctx.Done():
			s.gateResults <- gateOutcome{taskID: esc.taskID, retryCount: esc.retryCount, cancelled: true}
		}
	}()
	return nil
}

// applyGate finalizes an escalated task after the operator decides (or
// the run is cancelled mid-gate). Approve accepts the failure as-is;
// reject additionally inserts a revision task seeded with the
// operator's feedback.
func (s *Scheduler) applyGate(ctx context.Context, g gateOutcome) error {
	if g.cancelled {
		s.gate.discard(g.taskID)
		return s.finalizeFailed(ctx, g.taskID, g.retryCount, "run cancelled while awaiting human review", false)
	}

	reason := fmt.Sprintf("Retries exhausted after %d attempts", g.retryCount)

	if !g.decision.Approved {
		orig, ok := s.graph.Get(g.taskID)
		if ok {
			rev := dag.NewRevisionTask(orig, g.decision.Feedback)
			if err := s.graph.Add(rev); err != nil {
				log.Printf("WARNING: could not insert revision task for %s: %v", g.taskID, err)
			} else {
				s.supersedes[rev.ID] = g.taskID
				s.persistTask(ctx, rev)
			}
		}
		reason = fmt.Sprintf("%s; revision requested: %s", reason, g.decision.Feedback)
		// Dependents keep waiting for the revision instead of being
		// blocked by the original's failure.
		if err := s.finalizeRejected(ctx, g.taskID, g.retryCount, reason); err != nil {
			return err
		}
		return nil
	}

	return s.finalizeFailed(ctx, g.taskID, g.retryCount, reason, true)
}

// finalizeRejected is the reject-path variant of finalizeFailed: the
// task is failed and recorded, but its dependents are not blocked
// because the inserted revision supersedes it.
func (s *Scheduler) finalizeRejected(ctx context.Context, id string, retryCount int, reason string) error {
	task, ok := s.graph.Get(id)
	if !ok {
		return fmt.Errorf("finalizing unknown task %s", id)
	}

	s.graph.SetStatus(id, dag.StatusFailed)
	s.graph.MarkTerminal(id)
	delete(s.dispatched, id)

	s.emitter.Emit(events.TaskFailed{ID: id, RetryCount: retryCount, Error: reason})

	if err := s.chain.Record(contextchain.Entry{
		TaskID:    id,
		AgentName: task.AgentName,
		Status:    dag.StatusFailed,
		Summary:   reason,
	}); err != nil {
		s.emitter.Emit(events.Error{
			Message:     fmt.Sprintf("Cannot record build progress: %v", err),
			Recoverable: false,
		})
		return fmt.Errorf("recording failure of %s: %w", id, err)
	}
	s.snapshot()

	if failed, okF := s.graph.Get(id); okF {
		s.persistTask(ctx, failed)
	}
	return nil
}

func (s *Scheduler) setAgentBusy(name string) {
	s.busy[name]++
	s.agents[name].Status = dag.AgentWorking
}

func (s *Scheduler) setAgentFree(name string) {
	if s.busy[name] > 0 {
		s.busy[name]--
	}
	if s.busy[name] == 0 {
		s.agents[name].Status = dag.AgentIdle
	}
}

func (s *Scheduler) finishAgents() {
	for _, a := range s.agents {
		a.Status = dag.AgentDone
	}
	s.snapshot()
}

func (s *Scheduler) agentList() []dag.Agent {
	out := make([]dag.Agent, 0, len(s.agentOrder))
	for _, name := range s.agentOrder {
		out = append(out, *s.agents[name])
	}
	return out
}

func (s *Scheduler) snapshot() {
	if err := s.chain.WriteSnapshot(s.graph.Tasks(), s.agentList()); err != nil {
		log.Printf("WARNING: writing status snapshot: %v", err)
	}
}

func (s *Scheduler) initRepo(ctx context.Context) {
	if s.vcs == nil {
		return
	}
	if _, err := os.Stat(filepath.Join(s.cfg.Workspace, ".git")); err == nil {
		return
	}
	if err := s.vcs.InitRepo(ctx, s.cfg.Workspace, s.cfg.Goal); err != nil {
		log.Printf("WARNING: version control disabled, init failed: %v", err)
		s.vcs = nil
	}
}

func (s *Scheduler) persistRunStart(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.CreateRun(ctx, s.runID, s.cfg.Workspace, s.cfg.Goal); err != nil {
		log.Printf("WARNING: persisting run start: %v", err)
		return
	}
	for _, t := range s.graph.Tasks() {
		s.persistTask(ctx, t)
	}
}

func (s *Scheduler) persistRunEnd(ctx context.Context, status string) {
	if s.store == nil {
		return
	}
	// Finishing the run record must survive the cancelled context.
	if err := s.store.FinishRun(context.WithoutCancel(ctx), s.runID, status); err != nil {
		log.Printf("WARNING: persisting run end: %v", err)
	}
}

func (s *Scheduler) persistTask(ctx context.Context, task *dag.Task) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveTask(context.WithoutCancel(ctx), s.runID, task); err != nil {
		log.Printf("WARNING: persisting task %s: %v", task.ID, err)
	}
}

func (s *Scheduler) persistAttempt(ctx context.Context, out attemptOutcome) {
	if s.store == nil {
		return
	}
	summary := out.result.Summary
	if out.err != nil {
		summary = out.err.Error()
	}
	err := s.store.RecordAttempt(context.WithoutCancel(ctx), s.runID, out.taskID, out.attempt,
		out.succeeded(), summary, out.result.InputTokens, out.result.OutputTokens, out.result.CostUSD)
	if err != nil {
		log.Printf("WARNING: persisting attempt %d of %s: %v", out.attempt, out.taskID, err)
	}
}

func (s *Scheduler) completionSummary() string {
	var done, failed, blocked int
	tasks := s.graph.Tasks()
	for _, t := range tasks {
		switch t.Status {
		case dag.StatusDone:
			done++
		case dag.StatusFailed:
			failed++
		case dag.StatusBlocked:
			blocked++
		}
	}
	summary := fmt.Sprintf("Completed %d/%d tasks.", done, len(tasks))
	if failed > 0 || blocked > 0 {
		summary += fmt.Sprintf(" %d failed, %d blocked.", failed, blocked)
	}
	return summary
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.TrimSpace(s[:limit]) + "..."
}
