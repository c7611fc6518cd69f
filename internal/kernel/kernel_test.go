package kernel

import (
	"io"
	"log/slog"
	"testing"
)

// testKernel boots a kernel with a discard logger.
func testKernel(t *testing.T, cfg Config) *Kernel {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	k := New(cfg, logger, nil)
	if err := k.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return k
}

// step advances the simulation n iterations: one scheduling slot of the
// running thread followed by one timer tick.
func step(k *Kernel, n int) {
	for i := 0; i < n; i++ {
		k.RunSlot()
		k.Tick()
	}
}

// stepUntil steps the simulation until cond holds, failing after max
// iterations.
func stepUntil(t *testing.T, k *Kernel, max int, cond func() bool) {
	t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		step(k, 1)
	}
	if !cond() {
		t.Fatalf("condition not reached within %d steps", max)
	}
}

// record returns a step that appends name to out when executed.
func record(out *[]string, name string) Step {
	return func(k *Kernel) bool {
		*out = append(*out, name)
		return true
	}
}

func TestPickNextHighestPriority(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	var order []string

	mk := func(name string, pri int) {
		t.Helper()
		if _, err := k.Create(name, pri, Steps(record(&order, name))); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
	}
	mk("a", 10)
	mk("b", 30)
	mk("c", 30)
	mk("d", 20)

	step(k, 10)

	want := []string{"b", "c", "d", "a"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestFIFOAmongEqualPriority(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	var order []string

	for _, name := range []string{"first", "second", "third"} {
		if _, err := k.Create(name, PriDefault, Steps(record(&order, name))); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
	}

	step(k, 6)

	want := []string{"first", "second", "third"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestCreatePreemptsLowerPriorityRunner(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	low, err := k.Create("low", 10, Steps(Spin(50)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)
	lowT := k.mustThread(low)
	if lowT.State() != StateRunning {
		t.Fatalf("low state = %s, want RUNNING", lowT.State())
	}

	high, err := k.Create("high", 40, Steps(Spin(2)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if k.Current().TID() != high {
		t.Errorf("current = %s, want high (immediate preemption)", k.Current().Name())
	}
	if lowT.State() != StateReady {
		t.Errorf("low state = %s, want READY", lowT.State())
	}
}

func TestYieldKeepsHighestRunner(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	high, err := k.Create("high", 40, Steps(Yield(), Spin(5)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := k.Create("low", 10, Steps(Spin(5))); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The yield puts high behind nobody of its rank; it must be picked
	// straight back.
	step(k, 1)
	if k.Current().TID() != high {
		t.Errorf("current after yield = %s, want high", k.Current().Name())
	}
}

func TestRoundRobinAmongEquals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeSlice = 2
	k := testKernel(t, cfg)

	a, err := k.Create("a", PriDefault, Steps(Spin(100)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := k.Create("b", PriDefault, Steps(Spin(100)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	seen := map[TID]bool{}
	for i := 0; i < 3*cfg.TimeSlice; i++ {
		seen[k.Current().TID()] = true
		step(k, 1)
	}
	if !seen[a] || !seen[b] {
		t.Errorf("time slice did not rotate equal-priority threads: %v", seen)
	}
}

func TestAlarmMonotonicity(t *testing.T) {
	for _, pri := range []int{PriMin, PriDefault, PriMax} {
		k := testKernel(t, DefaultConfig())

		tid, err := k.Create("sleeper", pri, Steps(Sleep(10), Spin(1)))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		// One slot: the sleeper runs and goes to sleep.
		k.RunSlot()
		th := k.mustThread(tid)
		if th.State() != StateBlocked {
			t.Fatalf("pri %d: state after sleep call = %s, want BLOCKED", pri, th.State())
		}
		wake := th.WakeTick()
		if wake != k.Ticks()+10 {
			t.Fatalf("pri %d: wake tick = %d, want %d", pri, wake, k.Ticks()+10)
		}

		start := k.Ticks()
		for k.Ticks() < wake {
			if th.State() != StateBlocked {
				t.Fatalf("pri %d: state at tick %d = %s, want BLOCKED until %d",
					pri, k.Ticks(), th.State(), wake)
			}
			k.Tick()
		}
		if s := th.State(); s != StateReady && s != StateRunning {
			t.Errorf("pri %d: state at wake tick %d = %s, want READY", pri, wake, s)
		}
		if got := k.TicksSince(start); got != 10 {
			t.Errorf("pri %d: slept %d ticks, want 10", pri, got)
		}
	}
}

func TestSleepNonPositiveIsNoop(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	tid, err := k.Create("t", PriDefault, Steps(Sleep(0), Sleep(-5), Spin(3)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 2)
	th := k.mustThread(tid)
	if th.State() == StateBlocked {
		t.Errorf("thread blocked after sleep(0)/sleep(-5)")
	}
}

func TestIdleRunsWhenNothingReady(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	if _, err := k.Create("napper", PriDefault, Steps(Sleep(5), Spin(1))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // napper sleeps
	if k.Current() != k.idle {
		t.Errorf("current = %s, want idle", k.Current().Name())
	}
	before := k.Stats().IdleTicks
	step(k, 2)
	if k.Stats().IdleTicks <= before {
		t.Errorf("idle ticks did not advance while only idle was runnable")
	}
}

func TestExitReclaimsStackPage(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	free := k.pool.Available()

	tid, err := k.Create("short", PriDefault, Steps(Spin(1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if k.pool.Available() != free-1 {
		t.Fatalf("page not allocated at create")
	}

	stepUntil(t, k, 20, func() bool {
		_, ok := k.Thread(tid)
		return !ok
	})
	if k.pool.Available() != free {
		t.Errorf("stack page not reclaimed after exit: %d free, want %d", k.pool.Available(), free)
	}
}

func TestCreateFailsOnPageExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StackPages = 3 // idle takes one
	k := testKernel(t, cfg)

	if _, err := k.Create("a", PriDefault, Steps(Spin(100))); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := k.Create("b", PriDefault, Steps(Spin(100))); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if _, err := k.Create("c", PriDefault, Steps(Spin(100))); err == nil {
		t.Error("Create on exhausted pool succeeded, want error")
	}
}

func TestCreatePriorityOutOfRangePanics(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	defer func() {
		if _, ok := recover().(*PanicError); !ok {
			t.Error("out-of-range priority did not halt the kernel")
		}
	}()
	k.Create("bad", PriMax+1, nil)
}

func TestStackOverflowCanary(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	tid, err := k.Create("victim", 40, Steps(Spin(10)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)
	th, _ := k.Thread(tid)
	th.magic = 0xdeadbeef // simulated stack overflow into the TCB

	defer func() {
		if _, ok := recover().(*PanicError); !ok {
			t.Error("corrupted canary did not halt the kernel")
		}
	}()
	k.Current()
}

func TestSetPriorityLoweringYields(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	a, err := k.Create("a", 40, Steps(Spin(50)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := k.Create("b", 30, Steps(Spin(50)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)
	if k.Current().TID() != a {
		t.Fatalf("current = %s, want a", k.Current().Name())
	}

	k.SetPriority(a, 20)
	if k.Current().TID() != b {
		t.Errorf("current after lowering = %s, want b", k.Current().Name())
	}
	if got := k.EffectivePriority(a); got != 20 {
		t.Errorf("EffectivePriority(a) = %d, want 20", got)
	}
}

func TestSetPriorityRaisingReadyThreadPreempts(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	a, err := k.Create("a", 40, Steps(Spin(50)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := k.Create("b", 30, Steps(Spin(50)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)

	k.SetPriority(b, 50)
	if k.Current().TID() != b {
		t.Errorf("current = %s, want b after raise", k.Current().Name())
	}
	_ = a
}

func TestTickPreemptsWhenSleeperWakes(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	high, err := k.Create("high", 50, Steps(Sleep(3), Spin(5)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	low, err := k.Create("low", 10, Steps(Spin(50)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	step(k, 1) // high sleeps, low takes over
	if k.Current().TID() != low {
		t.Fatalf("current = %s, want low", k.Current().Name())
	}
	stepUntil(t, k, 10, func() bool { return k.Current().TID() == high })
}
