package model

import "time"

// Run is one recorded simulation: a scenario executed against a kernel
// with a fixed boot configuration, plus the counters it ended with.
type Run struct {
	ID       string   `json:"id"`
	Scenario string   `json:"scenario"`
	State    RunState `json:"state"`

	// Boot configuration the kernel ran with.
	MLFQS     bool `json:"mlfqs"`
	TimerFreq int  `json:"timer_freq"`

	// Counters at the end of the run.
	Ticks       int64 `json:"ticks"`
	Switches    int64 `json:"switches"`
	IdleTicks   int64 `json:"idle_ticks"`
	KernelTicks int64 `json:"kernel_ticks"`
	ThreadCount int   `json:"thread_count"`

	// FailedChecks counts scenario checks that did not hold.
	FailedChecks int `json:"failed_checks"`

	// Error carries the failure or panic diagnostic for terminal
	// non-completed states.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
