// Package kernel implements the thread-scheduling and synchronization
// core of a teaching operating system as a deterministic single-CPU
// state machine: thread control blocks, a priority ready queue with a
// tick-driven sleep set, semaphores, locks and condition variables with
// priority donation, and an optional multi-level feedback queue policy.
//
// There is no real context switch. Blocking is an explicit state
// transition: an operation that cannot complete marks the calling
// thread blocked, hands the CPU off through schedule, and reports
// non-completion to the loop driving the thread so it can re-attempt
// the operation when the thread next runs. All mutation of shared
// scheduler state happens with simulated interrupts disabled, which is
// the only mutual exclusion available at this layer.
package kernel

import (
	"fmt"
	"log/slog"

	"github.com/me/kernsim/internal/kernel/palloc"
	"github.com/me/kernsim/pkg/fixedpt"
)

// Config holds boot-time kernel configuration. The scheduling policy is
// fixed for the whole run: donation-based priority scheduling by
// default, the feedback-queue policy when MLFQS is set.
type Config struct {
	MLFQS            bool // use the feedback-queue policy instead of donation
	TimerFreq        int  // timer ticks per simulated second
	TimeSlice        int  // ticks a thread may run before round-robin yield
	MaxDonationDepth int  // bound on transitive donation chain traversal
	StackPages       int  // page pool size; one page per live thread
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TimerFreq:        100,
		TimeSlice:        4,
		MaxDonationDepth: 8,
		StackPages:       64,
	}
}

// IntrLevel is the simulated interrupt state: true when interrupts are
// enabled. DisableInterrupts returns the previous level so that
// critical sections nest the save/restore way.
type IntrLevel bool

// PanicError is the diagnostic carried by a kernel halt. Invariant
// violations and logical misuse of the primitives are not recoverable;
// the kernel panics with one of these rather than continuing on
// corrupted scheduler state.
type PanicError struct {
	Tick   int64
	Reason string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("kernel panic at tick %d: %s", e.Tick, e.Reason)
}

// Stats are cumulative counters for one kernel run.
type Stats struct {
	Ticks       int64
	Switches    int64
	IdleTicks   int64
	KernelTicks int64
}

// Kernel is the process-wide scheduler context: the single CPU, its
// current thread, the ready queue, the sleep set, and the tick clock.
// Construct with New and call Start before creating threads.
type Kernel struct {
	cfg    Config
	logger *slog.Logger
	sink   Sink
	pool   *palloc.Pool

	ticks       int64
	idleTicks   int64
	kernelTicks int64
	switches    int64

	current  *Thread
	idle     *Thread
	ready    []*Thread // effective priority descending, FIFO among equals
	sleepers []*Thread // wake tick ascending

	all   map[TID]*Thread
	order []*Thread // creation order, for policy sweeps and snapshots
	reap  []*Thread

	nextTID TID

	intrOn        bool
	inIntr        bool
	yieldOnReturn bool
	sliceTicks    int

	loadAvg fixedpt.Val
	started bool
}

// New creates a kernel with the given configuration. sink may be nil;
// scheduling events are then only logged.
func New(cfg Config, logger *slog.Logger, sink Sink) *Kernel {
	if cfg.TimerFreq <= 0 {
		cfg.TimerFreq = DefaultConfig().TimerFreq
	}
	if cfg.TimeSlice <= 0 {
		cfg.TimeSlice = DefaultConfig().TimeSlice
	}
	if cfg.MaxDonationDepth <= 0 {
		cfg.MaxDonationDepth = DefaultConfig().MaxDonationDepth
	}
	if cfg.StackPages <= 0 {
		cfg.StackPages = DefaultConfig().StackPages
	}
	return &Kernel{
		cfg:    cfg,
		logger: logger.With("component", "kernel"),
		sink:   sink,
		pool:   palloc.New(cfg.StackPages),
		all:    make(map[TID]*Thread),
		intrOn: true,
	}
}

// Start boots the scheduler: it creates the idle thread and installs it
// as the running thread. The idle thread is always eligible but never
// preferred; it holds the CPU only while the ready queue is empty.
func (k *Kernel) Start() error {
	if k.started {
		k.panicf("kernel started twice")
	}
	page, err := k.pool.Get()
	if err != nil {
		return fmt.Errorf("allocate idle stack: %w", err)
	}
	k.idle = &Thread{
		tid:          k.nextTID,
		name:         "idle",
		state:        StateRunning,
		basePriority: PriMin,
		priority:     PriMin,
		stack:        page,
		magic:        threadMagic,
	}
	k.nextTID++
	k.all[k.idle.tid] = k.idle
	k.current = k.idle
	k.started = true
	k.logger.Info("kernel started",
		"mlfqs", k.cfg.MLFQS,
		"timer_freq", k.cfg.TimerFreq,
		"stack_pages", k.cfg.StackPages,
	)
	return nil
}

// Create allocates a control block and a stack page for a new thread,
// marks it ready, and enqueues it. The new thread preempts the current
// one immediately if it has higher effective priority. Creation fails
// with an error when the page pool is exhausted; an out-of-range
// priority is a caller bug and halts the kernel.
func (k *Kernel) Create(name string, priority int, fn ThreadFunc) (TID, error) {
	k.assertStarted()
	k.assertPriority(priority)

	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	page, err := k.pool.Get()
	if err != nil {
		k.logger.Warn("thread creation failed", "name", name, "error", err)
		return 0, fmt.Errorf("allocate stack for %q: %w", name, err)
	}

	t := &Thread{
		tid:          k.nextTID,
		name:         name,
		fn:           fn,
		basePriority: priority,
		priority:     priority,
		stack:        page,
		magic:        threadMagic,
	}
	k.nextTID++
	if k.cfg.MLFQS && k.current != k.idle {
		// Children inherit the parent's niceness and CPU usage.
		t.nice = k.current.nice
		t.recentCPU = k.current.recentCPU
	}
	k.all[t.tid] = t
	k.order = append(k.order, t)

	k.emit(EventCreated, t, fmt.Sprintf("priority %d", priority))
	k.insertReady(t)
	k.maybePreempt()
	return t.tid, nil
}

// Current returns the running thread, validating its TCB canary.
func (k *Kernel) Current() *Thread {
	k.validate(k.current)
	return k.current
}

// Thread looks up a thread by ID. The second result is false if the
// thread does not exist or has already been reaped.
func (k *Kernel) Thread(tid TID) (*Thread, bool) {
	t, ok := k.all[tid]
	return t, ok
}

// EffectivePriority returns the donation-adjusted priority of a thread.
func (k *Kernel) EffectivePriority(tid TID) int {
	return k.mustThread(tid).priority
}

// Ticks returns the number of timer ticks since Start.
func (k *Kernel) Ticks() int64 {
	return k.ticks
}

// TicksSince returns the ticks elapsed since an earlier clock reading.
func (k *Kernel) TicksSince(then int64) int64 {
	return k.ticks - then
}

// Stats returns cumulative run counters.
func (k *Kernel) Stats() Stats {
	return Stats{
		Ticks:       k.ticks,
		Switches:    k.switches,
		IdleTicks:   k.idleTicks,
		KernelTicks: k.kernelTicks,
	}
}

// LoadAvg100 returns 100 times the current load average, rounded to the
// nearest integer.
func (k *Kernel) LoadAvg100() int {
	return k.loadAvg.MulInt(100).Round()
}

// RecentCPU100 returns 100 times a thread's recent CPU accumulator,
// rounded to the nearest integer.
func (k *Kernel) RecentCPU100(tid TID) int {
	return k.mustThread(tid).recentCPU.MulInt(100).Round()
}

// MLFQS reports whether the feedback-queue policy is active.
func (k *Kernel) MLFQS() bool {
	return k.cfg.MLFQS
}

// Threads returns all live threads in creation order, excluding idle.
func (k *Kernel) Threads() []*Thread {
	out := make([]*Thread, len(k.order))
	copy(out, k.order)
	return out
}

// DisableInterrupts turns simulated interrupts off and returns the
// previous level.
func (k *Kernel) DisableInterrupts() IntrLevel {
	prev := IntrLevel(k.intrOn)
	k.intrOn = false
	return prev
}

// RestoreInterrupts restores a level previously returned by
// DisableInterrupts.
func (k *Kernel) RestoreInterrupts(level IntrLevel) {
	k.intrOn = bool(level)
}

// InterruptsEnabled reports the simulated interrupt level.
func (k *Kernel) InterruptsEnabled() bool {
	return k.intrOn
}

// InInterrupt reports whether the tick handler is executing.
func (k *Kernel) InInterrupt() bool {
	return k.inIntr
}

func (k *Kernel) mustThread(tid TID) *Thread {
	t, ok := k.all[tid]
	if !ok {
		k.panicf("no such thread %d", tid)
	}
	k.validate(t)
	return t
}

// validate checks the TCB canary. A corrupted canary means the thread's
// stack overflowed into its control block.
func (k *Kernel) validate(t *Thread) {
	if t == nil {
		k.panicf("nil thread")
	}
	if t.magic != threadMagic {
		k.panicf("stack overflow detected on thread %q", t.name)
	}
}

func (k *Kernel) assertStarted() {
	if !k.started {
		k.panicf("kernel not started")
	}
}

func (k *Kernel) assertPriority(priority int) {
	if priority < PriMin || priority > PriMax {
		k.panicf("priority %d out of range [%d, %d]", priority, PriMin, PriMax)
	}
}

func (k *Kernel) assertNotInterrupt(op string) {
	if k.inIntr {
		k.panicf("%s from interrupt context", op)
	}
}

func (k *Kernel) assertInterruptsOff(op string) {
	if k.intrOn {
		k.panicf("%s with interrupts enabled", op)
	}
}

// panicf halts the kernel with a diagnostic. Continuing on corrupted
// scheduler state would surface as silent data loss elsewhere.
func (k *Kernel) panicf(format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	k.logger.Error("kernel panic", "tick", k.ticks, "reason", reason)
	if k.sink != nil {
		k.sink.Emit(Event{Tick: k.ticks, Type: EventPanic, Detail: reason})
	}
	panic(&PanicError{Tick: k.ticks, Reason: reason})
}
