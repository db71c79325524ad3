package pipeline

// RetryDecision is the outcome of consulting the retry policy after a
// failed attempt.
type RetryDecision int

const (
	DecisionRetry    RetryDecision = iota // re-dispatch immediately
	DecisionEscalate                      // raise a human gate
)

// RetryPolicy bounds how many attempts a task gets before escalating
// to a human. Re-dispatch is immediate; no backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int // total attempts per task (initial + retries)
}

// DefaultRetryPolicy allows 3 total attempts: the initial one plus two
// retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3}
}

// Decide returns what to do after failedAttempts consecutive failures
// of one task.
func (p RetryPolicy) Decide(failedAttempts int) RetryDecision {
	max := p.MaxAttempts
	if max <= 0 {
		max = DefaultRetryPolicy().MaxAttempts
	}
	if failedAttempts < max {
		return DecisionRetry
	}
	return DecisionEscalate
}
