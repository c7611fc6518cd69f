package kernel

import "fmt"

// insertReady places t into the ready queue in effective-priority order.
// Among equal priorities the queue is FIFO: a thread is inserted after
// every thread of greater or equal priority, so peers are never starved.
func (k *Kernel) insertReady(t *Thread) {
	k.assertInterruptsOff("ready enqueue")
	t.state = StateReady

	i := 0
	for i < len(k.ready) && k.ready[i].priority >= t.priority {
		i++
	}
	k.ready = append(k.ready, nil)
	copy(k.ready[i+1:], k.ready[i:])
	k.ready[i] = t
}

// removeReady takes t out of the ready queue. Missing membership is an
// invariant violation: state and container are kept in lock-step.
func (k *Kernel) removeReady(t *Thread) {
	for i, q := range k.ready {
		if q == t {
			k.ready = append(k.ready[:i], k.ready[i+1:]...)
			return
		}
	}
	k.panicf("ready thread %q not on ready queue", t.name)
}

// requeueReady repositions a ready thread after its effective priority
// changed (a donation can land on a thread sitting in the queue).
func (k *Kernel) requeueReady(t *Thread) {
	k.removeReady(t)
	k.insertReady(t)
}

func (k *Kernel) popReady() *Thread {
	if len(k.ready) == 0 {
		return nil
	}
	t := k.ready[0]
	k.ready = k.ready[1:]
	return t
}

// topReadyPriority returns the highest effective priority on the ready
// queue, or PriMin-1 when it is empty.
func (k *Kernel) topReadyPriority() int {
	if len(k.ready) == 0 {
		return PriMin - 1
	}
	return k.ready[0].priority
}

// schedule hands the CPU to the highest-priority ready thread, or to
// idle when none is ready. The outgoing thread must already have been
// placed where it belongs (ready queue, waiter set, sleep set, or the
// reap queue). Must be called with interrupts disabled.
func (k *Kernel) schedule() {
	k.assertInterruptsOff("schedule")
	prev := k.current
	k.validate(prev)
	if prev.state == StateRunning {
		k.panicf("schedule away from still-running thread %q", prev.name)
	}

	next := k.popReady()
	if next == nil {
		next = k.idle
	}
	next.state = StateRunning
	k.sliceTicks = 0
	k.current = next
	if next != prev {
		k.switches++
		k.emit(EventSwitch, next, fmt.Sprintf("from %s", prev.name))
	}

	k.reapDying(prev)
}

// reapDying frees control blocks and stack pages of threads that have
// finished. The thread that just released the CPU is skipped and reaped
// on a later schedule, never while it could still reference its own
// stack.
func (k *Kernel) reapDying(prev *Thread) {
	if len(k.reap) == 0 {
		return
	}
	kept := k.reap[:0]
	for _, t := range k.reap {
		if t == k.current || t == prev {
			kept = append(kept, t)
			continue
		}
		k.pool.Free(t.stack)
		t.stack = nil
		t.magic = 0
		delete(k.all, t.tid)
		for i, o := range k.order {
			if o == t {
				k.order = append(k.order[:i], k.order[i+1:]...)
				break
			}
		}
		k.emit(EventReaped, t, "")
	}
	k.reap = kept
}

// blockCurrent transitions the running thread to blocked and schedules.
// The caller has already queued the thread on whatever it is waiting
// for. Must be called with interrupts disabled; never legal from the
// tick handler.
func (k *Kernel) blockCurrent(reason string) {
	k.assertNotInterrupt("block")
	k.assertInterruptsOff("block")
	t := k.Current()
	if t == k.idle {
		k.panicf("idle thread blocked on %s", reason)
	}
	t.state = StateBlocked
	k.emit(EventBlocked, t, reason)
	k.schedule()
}

// blockThread blocks t wherever it stands: the running thread gives up
// the CPU through schedule, a ready thread is pulled straight off the
// queue. Callers use this when the block target was fixed before an
// intervening preemption could change the running thread.
func (k *Kernel) blockThread(t *Thread, reason string) {
	k.assertNotInterrupt("block")
	k.assertInterruptsOff("block")
	if t == k.current {
		k.blockCurrent(reason)
		return
	}
	k.validate(t)
	if t == k.idle {
		k.panicf("idle thread blocked on %s", reason)
	}
	if t.state != StateReady {
		k.panicf("block of %q in state %s", t.name, t.state)
	}
	k.removeReady(t)
	t.state = StateBlocked
	k.emit(EventBlocked, t, reason)
}

// unblock moves a blocked thread back to the ready queue. It does not
// preempt; callers decide whether the wake-up warrants a yield.
func (k *Kernel) unblock(t *Thread) {
	k.assertInterruptsOff("unblock")
	k.validate(t)
	if t.state != StateBlocked {
		k.panicf("unblock of %q in state %s", t.name, t.state)
	}
	k.emit(EventWoken, t, "")
	k.insertReady(t)
}

// Unblock makes a blocked thread ready and preempts the current thread
// if the woken one outranks it.
func (k *Kernel) Unblock(tid TID) {
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)
	k.unblock(k.mustThread(tid))
	k.maybePreempt()
}

// BlockCurrent blocks the running thread until some other thread calls
// Unblock on it. Prefer the synchronization primitives; this is the
// low-level mechanism they are built on.
func (k *Kernel) BlockCurrent(reason string) {
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)
	k.blockCurrent(reason)
}

// YieldCurrent surrenders the CPU voluntarily. The caller goes back on
// the ready queue behind its priority peers and the scheduler picks
// again; if the caller still outranks everyone it keeps running.
func (k *Kernel) YieldCurrent() {
	k.assertNotInterrupt("yield")
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)
	k.yield()
}

func (k *Kernel) yield() {
	t := k.Current()
	if t != k.idle {
		k.insertReady(t)
	} else {
		t.state = StateReady
	}
	k.schedule()
}

// ExitCurrent finishes the running thread: it is marked dying and the
// CPU moves on. Its page and control block are reclaimed on a later
// schedule. The driving loop must not run the thread again.
func (k *Kernel) ExitCurrent() {
	k.assertNotInterrupt("exit")
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)
	t := k.Current()
	if t == k.idle {
		k.panicf("idle thread exited")
	}
	if len(t.donations) > 0 {
		k.panicf("thread %q exited while holding contended locks", t.name)
	}
	t.state = StateDying
	k.emit(EventDying, t, "")
	k.reap = append(k.reap, t)
	k.schedule()
}

// SleepFor blocks the running thread for the given number of ticks.
// Non-positive durations are a no-op. The wake-up is tick-driven: the
// timer handler moves due sleepers back to ready, there is no polling.
func (k *Kernel) SleepFor(ticks int64) {
	if ticks <= 0 {
		return
	}
	k.SleepUntil(k.ticks + ticks)
}

// SleepUntil blocks the running thread until the clock reaches tick.
// A deadline at or before the current tick is a no-op.
func (k *Kernel) SleepUntil(tick int64) {
	k.assertNotInterrupt("sleep")
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)
	if tick <= k.ticks {
		return
	}
	t := k.Current()
	if t == k.idle {
		k.panicf("idle thread slept")
	}
	t.wakeTick = tick

	i := 0
	for i < len(k.sleepers) && k.sleepers[i].wakeTick <= tick {
		i++
	}
	k.sleepers = append(k.sleepers, nil)
	copy(k.sleepers[i+1:], k.sleepers[i:])
	k.sleepers[i] = t

	k.blockCurrent(fmt.Sprintf("sleep until %d", tick))
}

// WakeDueSleepers moves every thread whose wake tick has arrived back
// to the ready queue. The tick handler calls this once per tick; it is
// harmless to call again with an unchanged clock.
func (k *Kernel) WakeDueSleepers() {
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)
	for len(k.sleepers) > 0 && k.sleepers[0].wakeTick <= k.ticks {
		t := k.sleepers[0]
		k.sleepers = k.sleepers[1:]
		t.wakeTick = 0
		k.unblock(t)
	}
}

// Tick is the timer interrupt: it advances the clock, charges the
// running thread, wakes due sleepers, runs feedback-queue accounting,
// and requests a reschedule when a ready thread outranks the runner or
// the time slice expired. The handler itself never blocks; the yield
// happens at the safe point after it returns.
func (k *Kernel) Tick() {
	if k.inIntr {
		k.panicf("nested timer interrupt")
	}
	k.inIntr = true
	old := k.DisableInterrupts()

	k.ticks++
	if k.current == k.idle {
		k.idleTicks++
	} else {
		k.kernelTicks++
		k.current.cpuTicks++
	}

	if k.cfg.MLFQS {
		k.mlfqsTick()
	}
	k.WakeDueSleepers()
	// The previous slot is over; anything that died in it is safe to
	// reclaim now even if no context switch happens before the next one.
	k.reapDying(nil)

	k.sliceTicks++
	if k.sliceTicks >= k.cfg.TimeSlice && k.current != k.idle {
		k.yieldOnReturn = true
	}
	if k.topReadyPriority() > k.current.priority {
		k.yieldOnReturn = true
	}
	if k.current == k.idle && len(k.ready) > 0 {
		k.yieldOnReturn = true
	}

	k.inIntr = false
	if k.yieldOnReturn {
		k.yieldOnReturn = false
		k.yield()
	}
	k.RestoreInterrupts(old)
}

// RunSlot executes one scheduling slot of the running thread's body and
// reports whether any thread ran (idle slots return false). A body that
// reports completion exits the thread.
func (k *Kernel) RunSlot() bool {
	k.assertStarted()
	t := k.Current()
	if t == k.idle || t.fn == nil {
		return false
	}
	done := t.fn(k)
	if done && k.current == t && t.state == StateRunning {
		k.ExitCurrent()
	}
	return true
}

// maybePreempt yields the CPU when a ready thread outranks the current
// one. From interrupt context the yield is deferred to the handler's
// return path.
func (k *Kernel) maybePreempt() {
	if k.current == k.idle {
		if len(k.ready) == 0 {
			return
		}
	} else if k.topReadyPriority() <= k.current.priority {
		return
	}
	if k.inIntr {
		k.yieldOnReturn = true
		return
	}
	k.yield()
}
