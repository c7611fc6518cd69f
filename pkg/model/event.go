package model

// Event is one scheduling event recorded during a run: a state
// transition, context switch, donation, wake-up, or panic. Seq orders
// events within a run; several events can share a tick.
type Event struct {
	Seq        int64  `json:"seq"`
	RunID      string `json:"run_id"`
	Tick       int64  `json:"tick"`
	Type       string `json:"type"`
	ThreadID   int64  `json:"thread_id"`
	ThreadName string `json:"thread_name"`
	Detail     string `json:"detail,omitempty"`
}

// ThreadStat summarizes one thread's life within a run.
type ThreadStat struct {
	RunID         string `json:"run_id"`
	ThreadID      int64  `json:"thread_id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	BasePriority  int    `json:"base_priority"`
	FinalPriority int    `json:"final_priority"`
	Nice          int    `json:"nice"`
	CPUTicks      int64  `json:"cpu_ticks"`
}
