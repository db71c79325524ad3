package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultQuestionTimeout bounds how long a worker waits for an answer
// to an interactive question before the attempt is failed.
const DefaultQuestionTimeout = 5 * time.Minute

// ErrQuestionTimeout is returned by Ask when no answer arrives within
// the question timeout. The attempt that asked is treated as failed.
var ErrQuestionTimeout = errors.New("interactive question timed out")

// Question is a request from a running agent for information it cannot
// derive from its prompt.
type Question struct {
	TaskID     string
	Content    string
	responseCh chan Answer
}

// Answer is the response delivered back to the asking agent.
type Answer struct {
	Content string
	Error   error
}

// AnswerFunc resolves a question, typically by forwarding it to the
// operator or to a planner with full run context.
type AnswerFunc func(ctx context.Context, taskID string, question string) (string, error)

// QuestionChannel serializes interactive questions from concurrently
// running agents through a single answer handler.
type QuestionChannel struct {
	questionCh chan Question
	answerFn   AnswerFunc
	timeout    time.Duration
	done       chan struct{}
}

// NewQuestionChannel creates a question channel. bufferSize should be
// roughly twice the dispatch concurrency so senders rarely block. A
// non-positive timeout falls back to DefaultQuestionTimeout.
func NewQuestionChannel(bufferSize int, timeout time.Duration, answerFn AnswerFunc) *QuestionChannel {
	if timeout <= 0 {
		timeout = DefaultQuestionTimeout
	}
	return &QuestionChannel{
		questionCh: make(chan Question, bufferSize),
		answerFn:   answerFn,
		timeout:    timeout,
		done:       make(chan struct{}),
	}
}

// Start launches the handler goroutine. It runs until ctx is cancelled.
func (qc *QuestionChannel) Start(ctx context.Context) {
	go qc.handleQuestions(ctx)
}

func (qc *QuestionChannel) handleQuestions(ctx context.Context) {
	defer close(qc.done)

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-qc.questionCh:
			content, err := qc.answerFn(ctx, q.TaskID, q.Content)

			select {
			case <-ctx.Done():
				q.responseCh <- Answer{Error: ctx.Err()}
				return
			default:
				q.responseCh <- Answer{Content: content, Error: err}
			}
		}
	}
}

// Ask submits a question and waits for the answer. It fails with
// ErrQuestionTimeout when the deadline passes, and with the context
// error when the run is cancelled first.
func (qc *QuestionChannel) Ask(ctx context.Context, taskID string, question string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, qc.timeout)
	defer cancel()

	responseCh := make(chan Answer, 1)
	q := Question{TaskID: taskID, Content: question, responseCh: responseCh}

	select {
	case qc.questionCh <- q:
	case <-waitCtx.Done():
		return "", qc.waitErr(ctx, waitCtx)
	}

	select {
	case answer := <-responseCh:
		if answer.Error != nil {
			return "", answer.Error
		}
		return answer.Content, nil
	case <-waitCtx.Done():
		return "", qc.waitErr(ctx, waitCtx)
	}
}

func (qc *QuestionChannel) waitErr(ctx, waitCtx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrQuestionTimeout, qc.timeout)
	}
	return waitCtx.Err()
}

// Stop blocks until the handler goroutine has exited. The context
// passed to Start must already be cancelled.
func (qc *QuestionChannel) Stop() {
	<-qc.done
}
