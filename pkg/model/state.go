package model

// RunState represents the lifecycle state of a simulation Run.
type RunState string

const (
	RunStatePending   RunState = "PENDING"
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
	RunStatePanicked  RunState = "PANICKED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// Valid reports whether s is one of the known run states.
func (s RunState) Valid() bool {
	switch s {
	case RunStatePending, RunStateRunning, RunStateCompleted, RunStateFailed, RunStatePanicked:
		return true
	}
	return false
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStatePanicked:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for Runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStatePending: {RunStateRunning, RunStateFailed},
	RunStateRunning: {RunStateCompleted, RunStateFailed, RunStatePanicked},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
