package pipeline

import "testing"

func TestRunState_TransitionsFollowLifecycle(t *testing.T) {
	s := newRunState([]string{"a"})

	if err := s.transition("a", StepPending, StepRunning); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if err := s.transition("a", StepRunning, StepCached); err == nil {
		t.Fatalf("expected running -> cached to be rejected")
	}
	if err := s.transition("a", StepPending, StepRunning); err == nil {
		t.Fatalf("expected stale from-state to be rejected")
	}
	if err := s.transition("a", StepRunning, StepCompleted); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}
	if !IsTerminal(s["a"]) {
		t.Fatalf("expected completed to be terminal")
	}
	if err := s.transition("missing", StepPending, StepRunning); err == nil {
		t.Fatalf("expected unknown step to be rejected")
	}
}

func TestRunState_SkipPendingLeavesOtherStatesAlone(t *testing.T) {
	s := RunState{"a": StepCompleted, "b": StepPending, "c": StepFailed}
	s.skipPending()

	want := RunState{"a": StepCompleted, "b": StepSkipped, "c": StepFailed}
	for k, v := range want {
		if s[k] != v {
			t.Fatalf("state[%q] = %s, want %s", k, s[k], v)
		}
	}
}
