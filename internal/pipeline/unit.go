package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/elisa-dev/elisa/internal/contextchain"
	"github.com/elisa-dev/elisa/internal/dag"
	"github.com/elisa-dev/elisa/internal/events"
	"github.com/elisa-dev/elisa/internal/vcs"
	"github.com/elisa-dev/elisa/internal/worker"
)

// executionUnit runs exactly one attempt of one task. It owns a copy
// of the task, never touches shared graph state, and reports a single
// attemptOutcome back to the scheduler loop.
type executionUnit struct {
	task      *dag.Task
	agent     dag.Agent
	attempt   int // 1-based
	workspace string
	goal      string

	worker    worker.Worker
	breaker   *gobreaker.CircuitBreaker
	chain     *contextchain.Chain
	graph     *dag.Graph
	vcs       vcs.VCS
	emitter   *events.Emitter
	questions *QuestionChannel
}

// attemptOutcome is the unit's report to the scheduler. Exactly one is
// sent per dispatched attempt, whatever happened.
type attemptOutcome struct {
	taskID  string
	attempt int
	result  worker.Result
	err     error
	commit  *vcs.CommitInfo
}

func (o attemptOutcome) succeeded() bool {
	return o.err == nil && o.result.Success
}

// failureReason renders the attempt failure for retry output, gate
// context and the terminal failure event.
func (o attemptOutcome) failureReason() string {
	if o.err != nil {
		return o.err.Error()
	}
	if strings.TrimSpace(o.result.Summary) != "" {
		return o.result.Summary
	}
	return "agent reported failure without details"
}

func (u *executionUnit) run(ctx context.Context) attemptOutcome {
	out := attemptOutcome{taskID: u.task.ID, attempt: u.attempt}

	req := worker.Request{
		TaskID:       u.task.ID,
		Prompt:       u.buildPrompt(),
		SystemPrompt: u.buildSystemPrompt(),
		WorkDir:      u.workspace,
	}
	if u.emitter != nil {
		req.OnOutput = func(taskID, line string) {
			u.emitter.Emit(events.AgentOutput{ID: taskID, AgentName: u.agent.Name, Content: line})
		}
	}
	if u.questions != nil {
		req.Ask = func(askCtx context.Context, question string) (string, error) {
			return u.questions.Ask(askCtx, u.task.ID, question)
		}
	}

	res, err := executeThroughBreaker(ctx, u.worker, req, u.breaker)

	// Token usage is reported whether or not the attempt succeeded;
	// failed attempts still cost tokens.
	if u.emitter != nil && (res.InputTokens > 0 || res.OutputTokens > 0) {
		u.emitter.Emit(events.TokenUsage{
			AgentName:    u.agent.Name,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
		})
	}

	res.Summary = contextchain.NormalizeSummary(res.Summary)
	out.result = res
	if err != nil {
		out.err = err
		return out
	}
	if !res.Success {
		return out
	}

	// Agents may leave a richer summary in the comms directory; it
	// overrides whatever came back on the wire.
	if comms := u.readCommsSummary(); comms != "" {
		out.result.Summary = contextchain.NormalizeSummary(comms)
	}

	if u.vcs != nil {
		msg := fmt.Sprintf("%s: %s", u.agent.Name, u.task.Name)
		info, commitErr := u.vcs.Commit(ctx, u.workspace, msg, u.agent.Name, u.task.ID)
		if commitErr != nil {
			log.Printf("WARNING: commit failed for task %s: %v", u.task.ID, commitErr)
		} else if info.SHA != "" {
			out.commit = &info
		}
	}
	return out
}

func (u *executionUnit) readCommsSummary() string {
	path := filepath.Join(u.workspace, ".elisa", "comms", u.task.ID+"_summary.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// buildPrompt assembles the task prompt: the task itself, capped
// summaries from every transitive predecessor, and a structural digest
// of the workspace so the agent starts oriented instead of exploring.
func (u *executionUnit) buildPrompt() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task: %s\n\n%s\n", u.task.Name, u.task.Description)

	if len(u.task.AcceptanceCriteria) > 0 {
		b.WriteString("\n## Acceptance criteria\n")
		for _, c := range u.task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if u.graph != nil && u.chain != nil {
		deps := u.graph.TransitiveDeps(u.task.ID)
		if summaries := u.chain.PredecessorSummaries(deps); len(summaries) > 0 {
			b.WriteString("\n## Completed work from teammates\n")
			for i, s := range summaries {
				fmt.Fprintf(&b, "%d. %s\n", i+1, s)
			}
		}
	}

	if digest := contextchain.StructuralDigest(u.workspace, contextchain.DefaultDigestFiles); digest != "" {
		b.WriteString("\n## Current workspace structure\n")
		b.WriteString(digest)
	}

	if u.attempt > 1 {
		fmt.Fprintf(&b, "\nThis is attempt %d for this task. The previous attempt failed; review the workspace before repeating work.\n", u.attempt)
	}

	fmt.Fprintf(&b, "\nWhen finished, write a summary of what you did to .elisa/comms/%s_summary.md.\n", u.task.ID)

	return b.String()
}

func (u *executionUnit) buildSystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s agent on a software build team.", u.agent.Name, u.agent.Role)
	if u.agent.Persona != "" {
		fmt.Fprintf(&b, " %s", u.agent.Persona)
	}
	if u.goal != "" {
		fmt.Fprintf(&b, "\n\nThe team's overall goal: %s", u.goal)
	}
	b.WriteString("\n\nWork only inside the project workspace. Do your task completely, then stop.")
	return b.String()
}
