package trace

import (
	"fmt"
	"os"
	"sync"
)

// Sink is the minimal interface blocks and pipelines depend on.
//
// Record must be inert: it must not panic and must not return errors.
// Callers must assume Record may be a no-op.
type Sink interface {
	Record(event TraceEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(TraceEvent) {}

// SafeRecord records an event and guarantees inertness even if the sink is buggy.
// It swallows panics.
func SafeRecord(s Sink, event TraceEvent) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory collector.
//
// Parallel pipeline steps record through the same mutex. Insertion order is
// irrelevant because ordering is computed after collection.
type Recorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event TraceEvent) {
	if r == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []TraceEvent {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonical ExecutionTrace from the recorded events.
func (r *Recorder) Trace(pipelineHash string) ExecutionTrace {
	tr := ExecutionTrace{PipelineHash: pipelineHash}
	tr.Events = r.Snapshot()
	tr.Canonicalize()
	return tr
}

// WriteFile writes the canonical JSON encoding of t to path.
func WriteFile(path string, t ExecutionTrace) error {
	b, err := t.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
