package scenario

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/me/kernsim/internal/kernel"
	"github.com/me/kernsim/internal/kexpr"
)

// Options override scenario settings at run time.
type Options struct {
	// ForceMLFQS boots the feedback-queue scheduler even when the
	// scenario does not ask for it.
	ForceMLFQS bool

	// MaxTicks caps the run, overriding the scenario's bound when
	// positive.
	MaxTicks int64
}

// CheckResult is the outcome of one check expression.
type CheckResult struct {
	At     int64  `json:"at"`
	Expr   string `json:"expr"`
	Passed bool   `json:"passed"`

	// Detail carries the scenario's msg on failure, or the evaluation
	// error.
	Detail string `json:"detail,omitempty"`
}

// ThreadResult is one thread's final accounting.
type ThreadResult struct {
	TID           kernel.TID `json:"tid"`
	Name          string     `json:"name"`
	State         string     `json:"state"`
	BasePriority  int        `json:"base_priority"`
	FinalPriority int        `json:"final_priority"`
	Nice          int        `json:"nice"`
	CPUTicks      int64      `json:"cpu_ticks"`
}

// Result is everything a finished run produced.
type Result struct {
	Scenario     string         `json:"scenario"`
	MLFQS        bool           `json:"mlfqs"`
	Ticks        int64          `json:"ticks"`
	Stats        kernel.Stats   `json:"stats"`
	Checks       []CheckResult  `json:"checks,omitempty"`
	FailedChecks int            `json:"failed_checks"`
	Threads      []ThreadResult `json:"threads"`

	// Panic is set when the kernel halted on an invariant violation.
	Panic *kernel.PanicError `json:"panic,omitempty"`
}

// Passed reports whether the run completed with every check holding.
func (r *Result) Passed() bool {
	return r.Panic == nil && r.FailedChecks == 0
}

// pendingThread is a thread whose creation is delayed to a later tick.
type pendingThread struct {
	spec    *ThreadSpec
	startAt int64
}

// Runner executes one scenario against a fresh kernel.
type Runner struct {
	sc     *Scenario
	opts   Options
	logger *slog.Logger
	sink   kernel.Sink
	eval   *kexpr.Evaluator

	k       *kernel.Kernel
	locks   map[string]*kernel.Lock
	semas   map[string]*kernel.Semaphore
	conds   map[string]*kernel.Cond
	byName  map[string]*kernel.Thread
	pending []pendingThread
	checks  []CheckSpec
	nextChk int
	result  *Result
}

// NewRunner prepares a runner. sink may be nil; scheduling events are
// then not recorded.
func NewRunner(sc *Scenario, opts Options, logger *slog.Logger, sink kernel.Sink) *Runner {
	return &Runner{
		sc:     sc,
		opts:   opts,
		logger: logger.With("component", "runner", "scenario", sc.Name),
		sink:   sink,
		eval:   kexpr.NewEvaluator(sc.ExpressionLib),
		locks:  map[string]*kernel.Lock{},
		semas:  map[string]*kernel.Semaphore{},
		conds:  map[string]*kernel.Cond{},
		byName: map[string]*kernel.Thread{},
	}
}

// Run boots the kernel, drives the simulation to completion, and
// returns the collected result. An error means the run could not be
// set up; a kernel panic is reported in the result, not as an error.
func (r *Runner) Run() (*Result, error) {
	mlfqs := r.sc.Kernel.MLFQS || r.opts.ForceMLFQS
	cfg := kernel.Config{
		MLFQS:            mlfqs,
		TimerFreq:        r.sc.Kernel.TimerFreq,
		TimeSlice:        r.sc.Kernel.TimeSlice,
		MaxDonationDepth: r.sc.Kernel.MaxDonationDepth,
		StackPages:       r.sc.Kernel.Pages,
	}
	r.k = kernel.New(cfg, r.logger, r.sink)
	if err := r.k.Start(); err != nil {
		return nil, fmt.Errorf("start kernel: %w", err)
	}

	for _, name := range r.sc.Locks {
		r.locks[name] = r.k.NewLock(name)
	}
	for _, s := range r.sc.Semaphores {
		r.semas[s.Name] = r.k.NewSemaphore(s.Name, s.Count)
	}
	for _, name := range r.sc.Condvars {
		r.conds[name] = r.k.NewCond(name)
	}

	for i := range r.sc.Threads {
		th := &r.sc.Threads[i]
		if th.StartAt == 0 {
			if err := r.createThread(th); err != nil {
				return nil, err
			}
			continue
		}
		r.pending = append(r.pending, pendingThread{spec: th, startAt: th.StartAt})
	}
	sort.SliceStable(r.pending, func(i, j int) bool {
		return r.pending[i].startAt < r.pending[j].startAt
	})

	r.checks = append([]CheckSpec(nil), r.sc.Checks...)
	sort.SliceStable(r.checks, func(i, j int) bool {
		return r.checks[i].At < r.checks[j].At
	})

	r.result = &Result{Scenario: r.sc.Name, MLFQS: mlfqs}

	maxTicks := r.sc.MaxTicksOrDefault()
	if r.opts.MaxTicks > 0 {
		maxTicks = r.opts.MaxTicks
	}

	if pe := r.simulate(maxTicks); pe != nil {
		r.result.Panic = pe
	} else {
		// Checks the run never reached are judged against the final
		// state; a frozen simulation cannot change their verdict.
		r.runDueChecks(maxTicks)
	}

	r.result.Ticks = r.k.Ticks()
	r.result.Stats = r.k.Stats()
	r.collectThreads()

	r.logger.Info("run finished",
		"ticks", r.result.Ticks,
		"switches", r.result.Stats.Switches,
		"failed_checks", r.result.FailedChecks,
		"panicked", r.result.Panic != nil,
	)
	return r.result, nil
}

// simulate drives the slot/tick loop, converting a kernel halt into a
// returned PanicError.
func (r *Runner) simulate(maxTicks int64) (pe *kernel.PanicError) {
	defer func() {
		if rec := recover(); rec != nil {
			kp, ok := rec.(*kernel.PanicError)
			if !ok {
				panic(rec)
			}
			pe = kp
		}
	}()

	for r.k.Ticks() < maxTicks {
		tick := r.k.Ticks()
		if err := r.startDue(tick); err != nil {
			// Creation failures surface as a failed check would: the
			// run goes on with the threads that exist.
			r.logger.Warn("deferred thread creation failed", "error", err)
		}
		r.runDueChecks(tick)

		if len(r.k.Threads()) == 0 && len(r.pending) == 0 {
			break
		}

		r.k.RunSlot()
		r.k.Tick()
	}
	return nil
}

// createThread compiles a thread body and hands it to the kernel.
func (r *Runner) createThread(spec *ThreadSpec) error {
	priority := kernel.PriDefault
	if spec.Priority != nil {
		priority = *spec.Priority
	}

	steps := make([]kernel.Step, len(spec.Body))
	for i := range spec.Body {
		steps[i] = r.compileStep(&spec.Body[i])
	}

	tid, err := r.k.Create(spec.Name, priority, kernel.Steps(steps...))
	if err != nil {
		return fmt.Errorf("create thread %q: %w", spec.Name, err)
	}
	t, _ := r.k.Thread(tid)
	r.byName[spec.Name] = t
	if spec.Nice != 0 {
		r.k.SetNice(tid, spec.Nice)
	}
	return nil
}

// startDue creates pending threads whose start tick has arrived.
func (r *Runner) startDue(tick int64) error {
	for len(r.pending) > 0 && r.pending[0].startAt <= tick {
		p := r.pending[0]
		r.pending = r.pending[1:]
		if err := r.createThread(p.spec); err != nil {
			return err
		}
	}
	return nil
}

// compileStep maps one parsed step to a kernel action. Validation has
// already established that the referenced primitives exist.
func (r *Runner) compileStep(st *StepSpec) kernel.Step {
	switch {
	case st.Spin != nil:
		return kernel.Spin(*st.Spin)
	case st.Sleep != nil:
		return kernel.Sleep(*st.Sleep)
	case st.Yield:
		return kernel.Yield()
	case st.Acquire != "":
		return kernel.AcquireLock(r.locks[st.Acquire])
	case st.Release != "":
		return kernel.ReleaseLock(r.locks[st.Release])
	case st.Down != "":
		return kernel.DownSema(r.semas[st.Down])
	case st.Up != "":
		return kernel.UpSema(r.semas[st.Up])
	case st.Wait != nil:
		return kernel.WaitCond(r.conds[st.Wait.Cond], r.locks[st.Wait.Lock])
	case st.Signal != nil:
		return kernel.SignalCond(r.conds[st.Signal.Cond], r.locks[st.Signal.Lock])
	case st.Broadcast != nil:
		return kernel.BroadcastCond(r.conds[st.Broadcast.Cond], r.locks[st.Broadcast.Lock])
	case st.SetPriority != nil:
		return kernel.SetOwnPriority(*st.SetPriority)
	case st.SetNice != nil:
		return kernel.SetOwnNice(*st.SetNice)
	default:
		return kernel.Exit()
	}
}

// runDueChecks evaluates every check whose tick has arrived.
func (r *Runner) runDueChecks(tick int64) {
	for r.nextChk < len(r.checks) && r.checks[r.nextChk].At <= tick {
		c := r.checks[r.nextChk]
		r.nextChk++

		res := CheckResult{At: c.At, Expr: c.Expr}
		ok, err := r.eval.EvaluateBool(c.Expr, r.snapshot())
		switch {
		case err != nil:
			res.Detail = err.Error()
		case ok:
			res.Passed = true
		default:
			res.Detail = c.Msg
		}
		if !res.Passed {
			r.result.FailedChecks++
			r.logger.Warn("check failed", "at", c.At, "expr", c.Expr, "detail", res.Detail)
		}
		r.result.Checks = append(r.result.Checks, res)
	}
}

// snapshot captures the simulation state for expression evaluation.
// Thread snapshots come from the runner's own registry so finished
// threads stay visible after the kernel reclaims them.
func (r *Runner) snapshot() *kexpr.Context {
	ctx := kexpr.NewContext(r.k.Ticks())
	ctx.Current = r.k.Current().Name()

	for name, t := range r.byName {
		ctx.Threads[name] = map[string]any{
			"state":         string(t.State()),
			"priority":      int64(t.EffectivePriority()),
			"base_priority": int64(t.BasePriority()),
			"nice":          int64(t.Nice()),
			"cpu_ticks":     t.CPUTicks(),
			"wake_tick":     t.WakeTick(),
		}
	}
	for name, l := range r.locks {
		var owner any
		if o := l.Owner(); o != nil {
			owner = o.Name()
		}
		ctx.Locks[name] = map[string]any{
			"owner":   owner,
			"waiters": int64(l.Waiters()),
		}
	}
	for name, s := range r.semas {
		ctx.Semaphores[name] = map[string]any{
			"count":   int64(s.Value()),
			"waiters": int64(s.Waiters()),
		}
	}

	stats := r.k.Stats()
	ctx.Stats = map[string]any{
		"ticks":        stats.Ticks,
		"switches":     stats.Switches,
		"idle_ticks":   stats.IdleTicks,
		"kernel_ticks": stats.KernelTicks,
		"load_avg_100": int64(r.k.LoadAvg100()),
	}
	return ctx
}

// collectThreads records the final accounting of every thread that
// existed during the run, in creation order.
func (r *Runner) collectThreads() {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.byName[names[i]].TID() < r.byName[names[j]].TID()
	})
	for _, name := range names {
		t := r.byName[name]
		r.result.Threads = append(r.result.Threads, ThreadResult{
			TID:           t.TID(),
			Name:          t.Name(),
			State:         string(t.State()),
			BasePriority:  t.BasePriority(),
			FinalPriority: t.EffectivePriority(),
			Nice:          t.Nice(),
			CPUTicks:      t.CPUTicks(),
		})
	}
}
