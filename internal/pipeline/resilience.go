package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/elisa-dev/elisa/internal/worker"
)

// BreakerRegistry manages per-agent circuit breakers. A misbehaving
// agent process (crashing CLI, dead endpoint) trips its own breaker
// without affecting other agents.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the circuit breaker for the given agent, creating it on
// first use.
func (r *BreakerRegistry) Get(agentName string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentName]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentName,
		MaxRequests: 3, // test requests allowed in half-open state
		Interval:    0, // never clear counts automatically
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Run cancellation is not an agent failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[agentName] = cb
	return cb
}

// executeThroughBreaker runs one worker invocation guarded by the
// agent's circuit breaker. A worker result with Success=false is an
// agent-level failure, not a transport failure, so only transport
// errors count toward tripping the breaker.
func executeThroughBreaker(ctx context.Context, w worker.Worker, req worker.Request, cb *gobreaker.CircuitBreaker) (worker.Result, error) {
	result, err := cb.Execute(func() (interface{}, error) {
		return w.Execute(ctx, req)
	})
	if err != nil {
		return worker.Result{}, err
	}
	return result.(worker.Result), nil
}
