package pipeline

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNoPendingGate is returned by Resolve when no gate is waiting
	// for the given task.
	ErrNoPendingGate = errors.New("no pending human gate for task")

	// ErrGateAlreadyOpen is returned when a gate is opened twice for
	// the same task before being resolved.
	ErrGateAlreadyOpen = errors.New("human gate already open for task")
)

// GateDecision carries the operator's verdict on an escalated task.
// Feedback is only meaningful on rejection, where it seeds the
// revision task.
type GateDecision struct {
	Approved bool
	Feedback string
}

// HumanGate holds one-shot decision channels keyed by task ID. Each
// scheduler run owns its own gate, so decisions for one run can never
// leak into another. There is no deadline on a pending gate; it stays
// open until resolved or the run is cancelled.
type HumanGate struct {
	mu      sync.Mutex
	pending map[string]chan GateDecision
}

func NewHumanGate() *HumanGate {
	return &HumanGate{pending: make(map[string]chan GateDecision)}
}

// open registers a decision slot for taskID and returns the channel
// the scheduler waits on. The channel is buffered so Resolve never
// blocks the caller.
func (g *HumanGate) open(taskID string) (<-chan GateDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[taskID]; ok {
		return nil, ErrGateAlreadyOpen
	}
	ch := make(chan GateDecision, 1)
	g.pending[taskID] = ch
	return ch, nil
}

// discard drops a pending slot without delivering a decision, used
// when a run is cancelled while a gate is open.
func (g *HumanGate) discard(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, taskID)
}

// Resolve delivers the operator's decision for taskID. A gate can be
// resolved at most once; later calls return ErrNoPendingGate.
func (g *HumanGate) Resolve(taskID string, d GateDecision) error {
	g.mu.Lock()
	ch, ok := g.pending[taskID]
	if ok {
		delete(g.pending, taskID)
	}
	g.mu.Unlock()
	if !ok {
		return ErrNoPendingGate
	}
	ch <- d
	return nil
}

// Pending lists task IDs with an open gate, sorted for stable output.
func (g *HumanGate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
