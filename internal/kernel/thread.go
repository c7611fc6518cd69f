package kernel

import (
	"github.com/me/kernsim/internal/kernel/palloc"
	"github.com/me/kernsim/pkg/fixedpt"
)

// State represents the lifecycle state of a Thread.
type State string

const (
	StateRunning State = "RUNNING"
	StateReady   State = "READY"
	StateBlocked State = "BLOCKED"
	StateDying   State = "DYING"
)

// String returns the string representation of the thread state.
func (s State) String() string {
	return string(s)
}

// Thread priorities. Lower values run later.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

// Nice value bounds for the feedback-queue policy.
const (
	NiceMin = -20
	NiceMax = 20
)

// threadMagic detects corruption of a thread control block. Every
// current-thread access validates it; a mismatch means a stack overflow
// scribbled over the TCB and the kernel halts.
const threadMagic uint32 = 0xcd6abf4b

// TID identifies a thread for the lifetime of a kernel instance.
type TID int64

// ThreadFunc is one scheduling slot of a thread's body. The scheduler
// invokes it each time the thread holds the CPU; the function performs
// at most one kernel operation and returns true once the thread has
// finished its work. A blocking operation that could not complete marks
// the caller blocked inside the kernel; the function then returns false
// and is re-invoked the next time the thread is scheduled, re-attempting
// the operation (the semaphore re-check loop made explicit).
type ThreadFunc func(k *Kernel) bool

// Thread is the unit of scheduling: one control block per logical
// thread of control. All fields are guarded by the interrupt discipline
// in Kernel; accessors take the snapshot under interrupts-off.
type Thread struct {
	tid   TID
	name  string
	state State
	fn    ThreadFunc

	// Priority bookkeeping. priority is the effective priority used for
	// every scheduling decision; it equals basePriority plus whatever
	// donations are currently active.
	basePriority int
	priority     int

	// Donation bookkeeping: the one lock this thread is blocked on, and
	// the set of threads currently donating to it (threads blocked on a
	// lock this thread holds).
	waitingOn *Lock
	donations []*Thread

	// wakeTick is the absolute tick at which a sleeping thread becomes
	// ready again; meaningful only while in the sleep set.
	wakeTick int64

	// Feedback-queue accounting.
	nice      int
	recentCPU fixedpt.Val

	cpuTicks int64

	stack *palloc.Page
	magic uint32
}

// TID returns the thread's identifier.
func (t *Thread) TID() TID {
	return t.tid
}

// Name returns the thread's debug name.
func (t *Thread) Name() string {
	return t.name
}

// State returns the thread's lifecycle state.
func (t *Thread) State() State {
	return t.state
}

// BasePriority returns the priority assigned at creation or by an
// explicit priority change, before donation.
func (t *Thread) BasePriority() int {
	return t.basePriority
}

// EffectivePriority returns the donation-adjusted priority.
func (t *Thread) EffectivePriority() int {
	return t.priority
}

// Nice returns the thread's niceness.
func (t *Thread) Nice() int {
	return t.nice
}

// CPUTicks returns the number of ticks this thread has spent running.
func (t *Thread) CPUTicks() int64 {
	return t.cpuTicks
}

// WakeTick returns the absolute tick a sleeping thread wakes at.
func (t *Thread) WakeTick() int64 {
	return t.wakeTick
}

// WaitingOn returns the lock this thread is blocked on, or nil.
func (t *Thread) WaitingOn() *Lock {
	return t.waitingOn
}
