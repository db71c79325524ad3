package dag

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// ErrCycle is returned by Validate when the dependency graph contains
// a cycle. A cyclic graph is rejected wholesale: no partial graph is
// usable and nothing may be dispatched.
var ErrCycle = errors.New("task graph contains a cycle")

// Graph is a directed acyclic dependency graph over tasks. The node
// set is fixed after Validate, with one exception: revision tasks
// (which carry no dependencies) may be inserted mid-run.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	dependents map[string][]string // taskID -> tasks that depend on it
	terminal   map[string]bool     // done, failed or blocked
	order      []string            // topological order, set by Validate
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
		terminal:   make(map[string]bool),
	}
}

// Build constructs a graph from a task list and validates it. On any
// validation failure the whole plan is rejected.
func Build(tasks []*Task) (*Graph, error) {
	g := NewGraph()
	for _, t := range tasks {
		if err := g.Add(t); err != nil {
			return nil, err
		}
	}
	if _, err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Add inserts a task. Returns an error if the ID already exists.
// Pending tasks default missing status to pending.
func (g *Graph) Add(task *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}
	if task.Status == "" {
		task.Status = StatusPending
	}

	g.tasks[task.ID] = task
	for _, depID := range task.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}
	return nil
}

// Validate checks that every dependency exists and that the graph is
// acyclic (three-color DFS), then computes a deterministic topological
// order via gammazero/toposort. The order is cached for WriteFile.
func (g *Graph) Validate() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	adjacency := make(map[string][]string, len(g.tasks))
	for taskID, task := range g.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", taskID, depID)
			}
		}
		adjacency[taskID] = task.DependsOn
	}

	if cycle := DetectCycle(adjacency); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
	}

	var edges []toposort.Edge
	for taskID, task := range g.tasks {
		if len(task.DependsOn) == 0 {
			// No dependencies: edge from nil so the node is still included.
			edges = append(edges, toposort.Edge{nil, taskID})
		} else {
			for _, depID := range task.DependsOn {
				edges = append(edges, toposort.Edge{depID, taskID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		// The three-color pass already ruled out cycles; any failure
		// here is unexpected but still a wholesale rejection.
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(g.tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.tasks) {
		return nil, fmt.Errorf("topological sort lost %d tasks", len(g.tasks)-len(order))
	}

	g.order = order
	return append([]string(nil), order...), nil
}

// Ready returns the IDs of all pending tasks whose dependency set is a
// subset of completed and that are not already completed or
// dispatched. The result is sorted by ID so scheduling is
// deterministic for a fixed input.
func (g *Graph) Ready(completed, dispatched map[string]struct{}) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.tasks {
		if task.Status != StatusPending {
			continue
		}
		if _, ok := completed[id]; ok {
			continue
		}
		if _, ok := dispatched[id]; ok {
			continue
		}

		satisfied := true
		for _, depID := range task.DependsOn {
			if _, ok := completed[depID]; !ok {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)
	return ready
}

// MarkTerminal records that a task reached done/failed/blocked.
// Idempotent.
func (g *Graph) MarkTerminal(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tasks[id]; exists {
		g.terminal[id] = true
	}
}

// FullyTerminal reports whether every node is terminal. Blocked nodes
// count as terminal so a run with a failed subtree still finishes.
func (g *Graph) FullyTerminal() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id := range g.tasks {
		if !g.terminal[id] {
			return false
		}
	}
	return true
}

// BlockDependents marks every transitive dependent of the given task
// as blocked and terminal, without dispatching them. Returns the IDs
// that were blocked, sorted. Tasks already terminal or in progress are
// left alone.
func (g *Graph) BlockDependents(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var blocked []string
	stack := append([]string(nil), g.dependents[id]...)
	seen := make(map[string]bool)

	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[next] {
			continue
		}
		seen[next] = true

		task, exists := g.tasks[next]
		if exists && task.Status == StatusPending && !g.terminal[next] {
			task.Status = StatusBlocked
			g.terminal[next] = true
			blocked = append(blocked, next)
		}
		stack = append(stack, g.dependents[next]...)
	}

	sort.Strings(blocked)
	return blocked
}

// TransitiveDeps returns all transitive predecessor task IDs of the
// given task, sorted. Used to assemble prompt context from completed
// dependency summaries.
func (g *Graph) TransitiveDeps(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []string
	visited := make(map[string]bool)
	var stack []string
	if task, exists := g.tasks[id]; exists {
		stack = append(stack, task.DependsOn...)
	}

	for len(stack) > 0 {
		dep := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[dep] {
			continue
		}
		visited[dep] = true
		result = append(result, dep)
		if task, exists := g.tasks[dep]; exists {
			stack = append(stack, task.DependsOn...)
		}
	}

	sort.Strings(result)
	return result
}

// Get returns a copy of the task with the given ID.
func (g *Graph) Get(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[id]
	if !exists {
		return nil, false
	}
	return CloneTask(task), true
}

// Tasks returns copies of all tasks, sorted by ID.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*Task, 0, len(g.tasks))
	for _, task := range g.tasks {
		tasks = append(tasks, CloneTask(task))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

// SetStatus updates a task's status.
func (g *Graph) SetStatus(id string, status TaskStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[id]
	if !exists {
		return fmt.Errorf("task %q not found", id)
	}
	task.Status = status
	return nil
}

// SetSummary records a task's final summary.
func (g *Graph) SetSummary(id, summary string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[id]
	if !exists {
		return fmt.Errorf("task %q not found", id)
	}
	task.Summary = summary
	return nil
}

// IncrementRetry bumps a task's retry count and returns the new value.
func (g *Graph) IncrementRetry(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[id]
	if !exists {
		return 0
	}
	task.RetryCount++
	return task.RetryCount
}

// dagFile is the serialized graph written once after validation, for
// debugging and recovery.
type dagFile struct {
	Tasks []dagFileTask `json:"tasks"`
	Order []string      `json:"order"`
}

type dagFileTask struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	AgentName string   `json:"agent_name,omitempty"`
	DependsOn []string `json:"depends_on"`
}

// WriteFile serializes the graph (IDs plus dependency lists, in
// topological order) to the given path.
func (g *Graph) WriteFile(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.order == nil {
		return errors.New("graph not validated")
	}

	out := dagFile{Order: append([]string(nil), g.order...)}
	for _, id := range g.order {
		task := g.tasks[id]
		deps := task.DependsOn
		if deps == nil {
			deps = []string{}
		}
		out.Tasks = append(out.Tasks, dagFileTask{
			ID:        task.ID,
			Name:      task.Name,
			AgentName: task.AgentName,
			DependsOn: deps,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling dag: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
