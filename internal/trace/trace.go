package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical, deterministic record of a pipeline run.
//
// Invariants:
//   - Captures the PipelineHash and the list of block-level decisions.
//   - Contains logical decisions only (cache hit, executed, stored, skipped),
//     never timestamps, durations or error strings.
//
// Canonical representation:
//   - Events are sorted via Canonicalize() using a fully-specified ordering,
//     so traces from concurrent runs of a parallel pipeline compare equal.
//   - JSON serialization uses a custom marshaler to fix field order and omit
//     absent optional fields.
//
// The trace is observational only and never affects execution behavior.
type ExecutionTrace struct {
	PipelineHash string
	Events       []TraceEvent
}

// TraceEventKind is the stable, canonical discriminator for TraceEvent.
// The string values are part of the trace's canonical bytes; do not rename.
type TraceEventKind string

const (
	EventBlockSkipped  TraceEventKind = "BlockSkipped"
	EventBlockCached   TraceEventKind = "BlockCached"
	EventBlockExecuted TraceEventKind = "BlockExecuted"
	EventBlockStored   TraceEventKind = "BlockStored"
	EventBlockFailed   TraceEventKind = "BlockFailed"
)

// Stage names the block operation an event refers to.
type Stage string

const (
	StageTransform Stage = "transform"
	StageTrain     Stage = "train"
	StagePredict   Stage = "predict"
)

// TraceEvent is a single logical decision taken for a block.
//
// Determinism constraints:
//   - No timestamps.
//   - No error strings / stack traces.
//   - Artifacts are sorted and empty slices omitted.
type TraceEvent struct {
	Kind TraceEventKind

	// Block is the block name. Required.
	Block string

	// Hash is the block hash the decision was keyed on.
	Hash string

	Stage Stage

	// Reason is a stable reason code (e.g., "CacheHit", "ResumedFromCache").
	Reason string

	// Artifacts lists cache entry names read or written by the decision.
	Artifacts []string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.PipelineHash == "" {
		return errors.New("pipelineHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Block == "" {
			return fmt.Errorf("events[%d].block is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form.
//
// Events are stably sorted by (block, hash, stage, kindOrder, reason, artifactsLex).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := make([]string, len(t.Events[i].Artifacts))
		copy(art, t.Events[i].Artifacts)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.Block != b.Block {
			return a.Block < b.Block
		}
		if a.Hash != b.Hash {
			return a.Hash < b.Hash
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return compareStringSlices(a.Artifacts, b.Artifacts)
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventBlockSkipped:
		return 10
	case EventBlockCached:
		return 20
	case EventBlockExecuted:
		return 30
	case EventBlockStored:
		return 40
	case EventBlockFailed:
		return 50
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy of the trace to avoid mutating the caller's slices.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	copyTrace := ExecutionTrace{PipelineHash: t.PipelineHash}
	copyTrace.Events = make([]TraceEvent, len(t.Events))
	copy(copyTrace.Events, t.Events)
	copyTrace.Canonicalize()
	if err := copyTrace.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&copyTrace)
}

// Hash returns the deterministic trace hash (sha256 hex) of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON ensures canonical field ordering.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.PipelineHash == "" {
		return nil, errors.New("pipelineHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"pipelineHash":`)
	ph, _ := json.Marshal(t.PipelineHash)
	buf.Write(ph)

	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON ensures canonical field ordering and omission of empty optional fields.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var artifacts []string
	if len(e.Artifacts) > 0 {
		artifacts = make([]string, len(e.Artifacts))
		copy(artifacts, e.Artifacts)
		sort.Strings(artifacts)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeString(&buf, "kind", string(e.Kind), true)
	writeString(&buf, "block", e.Block, false)
	writeString(&buf, "hash", e.Hash, false)
	writeString(&buf, "stage", string(e.Stage), false)
	writeString(&buf, "reason", e.Reason, false)

	if len(artifacts) > 0 {
		buf.WriteString(`,"artifacts":`)
		ab, _ := json.Marshal(artifacts)
		buf.Write(ab)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeString writes "key":"value", skipping empty values. first suppresses
// the leading comma.
func writeString(buf *bytes.Buffer, key, value string, first bool) {
	if value == "" {
		return
	}
	if !first {
		buf.WriteByte(',')
	}
	buf.WriteByte('"')
	buf.WriteString(key)
	buf.WriteString(`":`)
	vb, _ := json.Marshal(value)
	buf.Write(vb)
}
