package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the base interface for all pipeline events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants. These are the wire tags clients switch on.
const (
	EventTypeTaskStarted   = "task_started"
	EventTypeTaskCompleted = "task_completed"
	EventTypeTaskFailed    = "task_failed"
	EventTypeAgentOutput   = "agent_output"
	EventTypeAgentMessage  = "agent_message"
	EventTypeTokenUsage    = "token_usage"
	EventTypeHumanGate     = "human_gate"
	EventTypeCommitCreated = "commit_created"
	EventTypeError         = "error"
	EventTypeRunComplete   = "run_complete"
)

// TaskStarted is emitted when a task is dispatched for its first attempt.
type TaskStarted struct {
	ID        string `json:"task_id"`
	AgentName string `json:"agent_name"`
}

func (e TaskStarted) EventType() string { return EventTypeTaskStarted }
func (e TaskStarted) TaskID() string    { return e.ID }

// TaskCompleted is emitted when a task finishes successfully.
type TaskCompleted struct {
	ID      string `json:"task_id"`
	Summary string `json:"summary,omitempty"`
}

func (e TaskCompleted) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompleted) TaskID() string    { return e.ID }

// TaskFailed is emitted once when a task is finalized as failed, after
// retries are exhausted and the human gate is resolved.
type TaskFailed struct {
	ID         string `json:"task_id"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

func (e TaskFailed) EventType() string { return EventTypeTaskFailed }
func (e TaskFailed) TaskID() string    { return e.ID }

// AgentOutput carries streaming output produced during a task attempt.
type AgentOutput struct {
	ID        string `json:"task_id"`
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
}

func (e AgentOutput) EventType() string { return EventTypeAgentOutput }
func (e AgentOutput) TaskID() string    { return e.ID }

// AgentMessage is a broadcast from one agent to the team, carrying the
// bounded summary of a finished task.
type AgentMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
}

func (e AgentMessage) EventType() string { return EventTypeAgentMessage }
func (e AgentMessage) TaskID() string    { return "" }

// TokenUsage reports token consumption for one attempt, regardless of
// success or failure.
type TokenUsage struct {
	AgentName    string `json:"agent_name"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (e TokenUsage) EventType() string { return EventTypeTokenUsage }
func (e TokenUsage) TaskID() string    { return "" }

// HumanGate is emitted exactly once per task whose retries are
// exhausted, asking an operator to approve the failure or request a
// revision.
type HumanGate struct {
	ID         string `json:"task_id"`
	RetryCount int    `json:"retry_count"`
	Question   string `json:"question,omitempty"`
	Context    string `json:"context,omitempty"`
}

func (e HumanGate) EventType() string { return EventTypeHumanGate }
func (e HumanGate) TaskID() string    { return e.ID }

// CommitCreated reports a VCS commit produced after a successful task.
type CommitCreated struct {
	SHA          string   `json:"sha"`
	ShortSHA     string   `json:"short_sha"`
	Message      string   `json:"message"`
	AgentName    string   `json:"agent_name"`
	ID           string   `json:"task_id"`
	Timestamp    string   `json:"timestamp"`
	FilesChanged []string `json:"files_changed"`
}

func (e CommitCreated) EventType() string { return EventTypeCommitCreated }
func (e CommitCreated) TaskID() string    { return e.ID }

// Error is a pipeline-level error. Recoverable errors describe a
// single task's trouble; non-recoverable errors terminate the run
// (cycle detection, cancellation, loss of run state).
type Error struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (e Error) EventType() string { return EventTypeError }
func (e Error) TaskID() string    { return "" }

// RunComplete closes a successful run with the per-task outcome counts.
type RunComplete struct {
	Summary string `json:"summary"`
}

func (e RunComplete) EventType() string { return EventTypeRunComplete }
func (e RunComplete) TaskID() string    { return "" }

// Marshal renders an event as a JSON object tagged with its type and
// an emission timestamp, the shape sinks put on the wire.
func Marshal(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s event: %w", ev.EventType(), err)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flattening %s event: %w", ev.EventType(), err)
	}
	fields["type"] = ev.EventType()
	fields["ts"] = time.Now().UTC().Format(time.RFC3339)

	return json.Marshal(fields)
}

// TopicFor routes an event to the bus topic its subscribers expect.
func TopicFor(ev Event) string {
	switch ev.(type) {
	case Error, RunComplete, TokenUsage, AgentMessage:
		return TopicRun
	default:
		return TopicTask
	}
}
