package dag

import "fmt"

// TaskStatus represents the current state of a task.
// Statuses are strings because they round-trip through the status
// snapshot JSON and the persistence layer.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"     // Waiting for dependencies
	StatusInProgress TaskStatus = "in_progress" // Currently executing
	StatusDone       TaskStatus = "done"        // Finished successfully
	StatusFailed     TaskStatus = "failed"      // Finished with error (retries exhausted)
	StatusBlocked    TaskStatus = "blocked"     // A dependency failed; never dispatched
)

// Terminal reports whether a status counts toward graph completion.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusBlocked
}

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentDone    AgentStatus = "done"
)

// Task is a unit of work in the build graph. Tasks are created at plan
// time; status, retry count and summary are mutated only inside the
// scheduler's single mutation point.
type Task struct {
	ID                 string   // Unique, stable identifier
	Name               string   // Human-readable name
	Description        string   // What the agent should do
	AcceptanceCriteria []string // Ordered list of completion criteria
	AgentName          string   // Key into the agent roster
	DependsOn          []string // Task IDs this task depends on
	Status             TaskStatus
	RetryCount         int    // Number of failed attempts so far
	Summary            string // Agent's summary, set on completion
	Revision           bool   // Synthesized from a rejected human gate
}

// Agent is a named worker that performs tasks. Read-only during
// execution except for Status.
type Agent struct {
	Name    string
	Role    string // "builder", "tester", "reviewer", ...
	Persona string
	Status  AgentStatus
}

// NewRevisionTask synthesizes a follow-up task from a rejected human
// gate decision. The operator's feedback becomes the task description
// and acceptance criteria. Revision tasks carry no dependencies so the
// scheduler can dispatch them immediately, and keep the original
// task's agent.
func NewRevisionTask(orig *Task, feedback string) *Task {
	return &Task{
		ID:          fmt.Sprintf("task-revision-%s", orig.ID),
		Name:        fmt.Sprintf("Revise: %s", orig.Name),
		Description: fmt.Sprintf("Revise based on feedback: %s", feedback),
		AcceptanceCriteria: []string{
			fmt.Sprintf("Address feedback: %s", feedback),
		},
		AgentName: orig.AgentName,
		Status:    StatusPending,
		Revision:  true,
	}
}

// CloneTask returns a deep copy of a task. Execution units receive
// copies so they never share mutable state with the scheduler.
func CloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.AcceptanceCriteria != nil {
		cp.AcceptanceCriteria = append([]string(nil), task.AcceptanceCriteria...)
	}
	return &cp
}
