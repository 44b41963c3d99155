package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := ExecutionTrace{
		PipelineHash: "pipe-abc",
		Events: []TraceEvent{
			{Kind: EventBlockExecuted, Block: "b", Stage: StageTransform},
			{Kind: EventBlockCached, Block: "a", Stage: StageTransform, Reason: "CacheHit"},
			{Kind: EventBlockSkipped, Block: "c", Stage: StageTransform, Reason: "ResumedFromCache"},
		},
	}

	trace2 := ExecutionTrace{
		PipelineHash: "pipe-abc",
		Events: []TraceEvent{
			{Kind: EventBlockSkipped, Block: "c", Reason: "ResumedFromCache", Stage: StageTransform},
			{Kind: EventBlockCached, Block: "a", Stage: StageTransform, Reason: "CacheHit"},
			{Kind: EventBlockExecuted, Block: "b", Stage: StageTransform},
		},
	}

	b1, err := trace1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := trace2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}

	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", string(b1), string(b2))
	}
}

func TestCanonicalJSON_FieldOrderAndOmission(t *testing.T) {
	tr := ExecutionTrace{
		PipelineHash: "p",
		Events: []TraceEvent{
			{Kind: EventBlockStored, Block: "scale", Hash: "h1", Stage: StageTransform, Artifacts: []string{"z", "a"}},
			{Kind: EventBlockExecuted, Block: "clip"},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"pipelineHash":"p","events":[` +
		`{"kind":"BlockExecuted","block":"clip"},` +
		`{"kind":"BlockStored","block":"scale","hash":"h1","stage":"transform","artifacts":["a","z"]}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}
}

func TestCanonicalize_SameBlockOrdersByKind(t *testing.T) {
	tr := ExecutionTrace{
		PipelineHash: "p",
		Events: []TraceEvent{
			{Kind: EventBlockStored, Block: "a"},
			{Kind: EventBlockExecuted, Block: "a"},
			{Kind: EventBlockSkipped, Block: "a"},
		},
	}
	tr.Canonicalize()

	got := []TraceEventKind{tr.Events[0].Kind, tr.Events[1].Kind, tr.Events[2].Kind}
	want := []TraceEventKind{EventBlockSkipped, EventBlockExecuted, EventBlockStored}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("kind order mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_RequiresPipelineHashAndBlock(t *testing.T) {
	if _, err := (ExecutionTrace{}).CanonicalJSON(); err == nil {
		t.Fatal("expected error for missing pipeline hash")
	}
	tr := ExecutionTrace{PipelineHash: "p", Events: []TraceEvent{{Kind: EventBlockExecuted}}}
	if _, err := tr.CanonicalJSON(); err == nil {
		t.Fatal("expected error for missing block")
	}
}

func TestHash_IgnoresInsertionOrder(t *testing.T) {
	tr1 := ExecutionTrace{PipelineHash: "g", Events: []TraceEvent{
		{Kind: EventBlockExecuted, Block: "b"},
		{Kind: EventBlockCached, Block: "a"},
	}}
	tr2 := ExecutionTrace{PipelineHash: "g", Events: []TraceEvent{
		{Kind: EventBlockCached, Block: "a"},
		{Kind: EventBlockExecuted, Block: "b"},
	}}

	h1, err := tr1.Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := tr2.Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected equal hash, got %q != %q", h1, h2)
	}
	if ComputeTraceHash(nil) != "" {
		t.Fatal("empty encoding must hash to empty string")
	}
}

func TestRecorder_ConcurrentRecordAndTrace(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for _, name := range []string{"c", "a", "b"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			SafeRecord(r, TraceEvent{Kind: EventBlockExecuted, Block: name})
		}(name)
	}
	wg.Wait()

	tr := r.Trace("p")
	var blocks []string
	for _, e := range tr.Events {
		blocks = append(blocks, e.Block)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, blocks); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

type panickingSink struct{}

func (panickingSink) Record(TraceEvent) { panic("boom") }

func TestSafeRecord_SwallowsPanicsAndNil(t *testing.T) {
	SafeRecord(nil, TraceEvent{Kind: EventBlockExecuted, Block: "a"})
	SafeRecord(panickingSink{}, TraceEvent{Kind: EventBlockExecuted, Block: "a"})
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	tr := ExecutionTrace{PipelineHash: "p", Events: []TraceEvent{{Kind: EventBlockCached, Block: "a"}}}
	if err := WriteFile(path, tr); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := `{"pipelineHash":"p","events":[{"kind":"BlockCached","block":"a"}]}` + "\n"
	if string(b) != want {
		t.Fatalf("unexpected file content: %s", b)
	}
}
