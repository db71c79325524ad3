// Package plan parses and validates build plans: the JSON document
// naming the agent roster and the task graph a run executes.
package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/elisa-dev/elisa/internal/dag"
)

// AgentSpec declares one team member.
type AgentSpec struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Persona string `json:"persona,omitempty"`
}

// TaskSpec declares one unit of work and its dependencies.
type TaskSpec struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Agent              string   `json:"agent"`
	DependsOn          []string `json:"depends_on,omitempty"`
}

// Plan is the full run input.
type Plan struct {
	Goal   string      `json:"goal"`
	Agents []AgentSpec `json:"agents"`
	Tasks  []TaskSpec  `json:"tasks"`
}

// Parse decodes and validates a plan document.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads and parses a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks referential integrity within the plan. Graph shape
// (missing dependencies, cycles) is the graph's responsibility.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	if len(p.Agents) == 0 {
		return fmt.Errorf("plan has no agents")
	}

	agents := make(map[string]bool, len(p.Agents))
	for _, a := range p.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if agents[a.Name] {
			return fmt.Errorf("duplicate agent %q", a.Name)
		}
		agents[a.Name] = true
	}

	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
		if !agents[t.Agent] {
			return fmt.Errorf("task %q references unknown agent %q", t.ID, t.Agent)
		}
	}
	return nil
}

// BuildTasks converts the plan's task specs into graph tasks.
func (p *Plan) BuildTasks() []*dag.Task {
	tasks := make([]*dag.Task, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks = append(tasks, &dag.Task{
			ID:                 t.ID,
			Name:               t.Name,
			Description:        t.Description,
			AcceptanceCriteria: append([]string(nil), t.AcceptanceCriteria...),
			AgentName:          t.Agent,
			DependsOn:          append([]string(nil), t.DependsOn...),
			Status:             dag.StatusPending,
		})
	}
	return tasks
}

// BuildAgents converts the plan's agent specs into the run roster.
func (p *Plan) BuildAgents() []dag.Agent {
	agents := make([]dag.Agent, 0, len(p.Agents))
	for _, a := range p.Agents {
		agents = append(agents, dag.Agent{
			Name:    a.Name,
			Role:    a.Role,
			Persona: a.Persona,
			Status:  dag.AgentIdle,
		})
	}
	return agents
}
