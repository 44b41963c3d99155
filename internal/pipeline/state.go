package pipeline

import "fmt"

// StepState is the runtime state of one pipeline step during a run.
type StepState string

const (
	StepPending   StepState = "PENDING"
	StepRunning   StepState = "RUNNING"
	StepCompleted StepState = "COMPLETED"
	StepFailed    StepState = "FAILED"
	StepSkipped   StepState = "SKIPPED"
	StepCached    StepState = "CACHED"
)

// RunState holds per-step state keyed by step name.
type RunState map[string]StepState

func newRunState(steps []string) RunState {
	s := make(RunState, len(steps))
	for _, name := range steps {
		s[name] = StepPending
	}
	return s
}

// IsTerminal reports whether the state is terminal (finished).
func IsTerminal(s StepState) bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCached:
		return true
	default:
		return false
	}
}

// transition performs a validated transition for a single step.
//
// The caller supplies the expected prior state (from). The map is mutated
// only if the transition is valid.
func (s RunState) transition(step string, from, to StepState) error {
	cur, ok := s[step]
	if !ok {
		return fmt.Errorf("unknown step in state: %q", step)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", step, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", step, from, to)
	}
	s[step] = to
	return nil
}

func isAllowedTransition(from, to StepState) bool {
	switch from {
	case StepPending:
		return to == StepRunning || to == StepCached || to == StepSkipped
	case StepRunning:
		return to == StepCompleted || to == StepFailed
	default:
		return false
	}
}

// skipPending marks every still-pending step as skipped. It is used after a
// failure and when a pipeline-level cache hit makes the steps unnecessary.
func (s RunState) skipPending() {
	for name, st := range s {
		if st == StepPending {
			s[name] = StepSkipped
		}
	}
}

func (s RunState) clone() RunState {
	cp := make(RunState, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}
