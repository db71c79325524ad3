package events

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sink delivers events to the external client. Send returns nil as the
// acknowledgement; a non-nil error marks the delivery as failed and
// eligible for retry.
type Sink interface {
	Send(Event) error
}

// Emitter is the single logical writer for a run's event stream. All
// emissions are serialized behind one mutex so concurrent task
// completions can never interleave partial writes or reorder events.
// Transient sink errors are retried with capped exponential backoff;
// a persistently failing sink drops the event with a warning rather
// than failing the run.
type Emitter struct {
	mu   sync.Mutex
	bus  *Bus
	sink Sink

	// retry bounds, overridable in tests
	initialInterval time.Duration
	maxElapsedTime  time.Duration
}

// NewEmitter creates an emitter. Both bus and sink may be nil: a nil
// bus skips in-process fan-out, a nil sink skips external delivery.
func NewEmitter(bus *Bus, sink Sink) *Emitter {
	return &Emitter{
		bus:             bus,
		sink:            sink,
		initialInterval: 50 * time.Millisecond,
		maxElapsedTime:  10 * time.Second,
	}
}

// Emit publishes the event to the bus and delivers it to the sink, in
// stream order.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(TopicFor(ev), ev)
	}
	if e.sink == nil {
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.initialInterval
	policy.MaxElapsedTime = e.maxElapsedTime

	operation := func() error {
		return e.sink.Send(ev)
	}
	if err := backoff.Retry(operation, policy); err != nil {
		log.Printf("WARNING: dropping %s event after retries: %v", ev.EventType(), err)
	}
}

// JSONLSink writes one JSON object per line to a writer. Used as the
// default sink for the CLI, where the surrounding transport is stdout.
type JSONLSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLSink creates a JSON-lines sink over w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w}
}

// Send marshals the event with its type tag and writes it as one line.
func (s *JSONLSink) Send(ev Event) error {
	data, err := Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "%s\n", data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}
