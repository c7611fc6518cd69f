package kernel

import "fmt"

// Semaphore is a non-negative counter with a waiter set. Up never
// blocks and is safe from interrupt context; Down blocks the caller
// while the count is zero.
type Semaphore struct {
	k       *Kernel
	name    string
	count   int
	waiters []*Thread // arrival order; selection at Up is by priority
}

// NewSemaphore creates a semaphore with the given initial count.
func (k *Kernel) NewSemaphore(name string, n int) *Semaphore {
	if n < 0 {
		k.panicf("semaphore %q initialized to %d", name, n)
	}
	return &Semaphore{k: k, name: name, count: n}
}

// Name returns the semaphore's debug name.
func (s *Semaphore) Name() string {
	return s.name
}

// Value returns the current count.
func (s *Semaphore) Value() int {
	return s.count
}

// Waiters returns the number of threads blocked on the semaphore.
func (s *Semaphore) Waiters() int {
	return len(s.waiters)
}

// Down decrements the semaphore on behalf of the running thread. It
// returns true when the decrement happened. When the count is zero the
// caller joins the waiter set and blocks; Down then returns false and
// the thread must re-attempt once it is scheduled again. The count is
// re-checked on every attempt, so a wake-up that loses the CPU race to
// another decrementer simply blocks again.
func (s *Semaphore) Down() bool {
	k := s.k
	k.assertNotInterrupt("semaphore down")
	return s.downFor(k.Current())
}

// downFor runs the decrement on behalf of t, which need not still be
// the running thread: releasing a lock inside a condition wait can hand
// the CPU to a woken lock waiter before the wait finishes its
// transition. Keeping the block target explicit guarantees the thread
// that entered the wait, and only that thread, parks on the semaphore.
func (s *Semaphore) downFor(t *Thread) bool {
	k := s.k
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	if s.count > 0 {
		s.count--
		return true
	}
	s.waiters = append(s.waiters, t)
	k.blockThread(t, fmt.Sprintf("semaphore %s", s.name))
	return false
}

// TryDown decrements without blocking. It returns false when the count
// is zero.
func (s *Semaphore) TryDown() bool {
	k := s.k
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// Up increments the semaphore and wakes the highest-effective-priority
// waiter, FIFO among equals. Safe from interrupt context: it never
// blocks, and any preemption it causes is deferred to the interrupt
// return path.
func (s *Semaphore) Up() {
	k := s.k
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	if w := s.popMaxWaiter(); w != nil {
		k.unblock(w)
	}
	s.count++
	k.maybePreempt()
}

// popMaxWaiter removes and returns the waiter with the highest
// effective priority. Scanning with a strict comparison keeps equal
// priorities FIFO. Waiter priorities can change while queued (donation
// lands on blocked lock holders), so the maximum is computed at wake
// time rather than kept sorted.
func (s *Semaphore) popMaxWaiter() *Thread {
	if len(s.waiters) == 0 {
		return nil
	}
	best := 0
	for i, t := range s.waiters {
		if t.priority > s.waiters[best].priority {
			best = i
		}
	}
	w := s.waiters[best]
	s.waiters = append(s.waiters[:best], s.waiters[best+1:]...)
	return w
}

// Lock is a mutual-exclusion primitive built on a binary semaphore plus
// an owner, which is what priority donation needs to chase.
type Lock struct {
	k     *Kernel
	name  string
	sema  *Semaphore
	owner *Thread
}

// NewLock creates an unlocked lock.
func (k *Kernel) NewLock(name string) *Lock {
	return &Lock{k: k, name: name, sema: k.NewSemaphore("lock:"+name, 1)}
}

// Name returns the lock's debug name.
func (l *Lock) Name() string {
	return l.name
}

// Owner returns the holding thread, or nil when unlocked.
func (l *Lock) Owner() *Thread {
	return l.owner
}

// Waiters returns the number of threads blocked on the lock.
func (l *Lock) Waiters() int {
	return l.sema.Waiters()
}

// HeldByCurrent reports whether the running thread owns the lock.
func (l *Lock) HeldByCurrent() bool {
	return l.owner == l.k.current
}

// Acquire takes the lock on behalf of the running thread, returning
// true on success. On contention the caller records the lock it waits
// on, donates its priority up the ownership chain, blocks, and must
// re-attempt when next scheduled. Re-entrant acquisition is a fatal
// error: the primitive assumes non-reentrant use, and the resulting
// acyclicity is what bounds the donation chain.
func (l *Lock) Acquire() bool {
	k := l.k
	k.assertNotInterrupt("lock acquire")
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	t := k.Current()
	if l.owner == t {
		k.panicf("reentrant acquire of lock %q by %q", l.name, t.name)
	}
	if l.owner != nil && !k.cfg.MLFQS {
		t.waitingOn = l
		k.addDonor(l.owner, t)
		k.donate(t)
	}
	if !l.sema.Down() {
		return false
	}
	t.waitingOn = nil
	l.owner = t
	return true
}

// TryAcquire takes the lock without blocking or donating.
func (l *Lock) TryAcquire() bool {
	k := l.k
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)
	if l.owner == k.current {
		k.panicf("reentrant acquire of lock %q by %q", l.name, k.current.name)
	}
	if !l.sema.TryDown() {
		return false
	}
	l.owner = k.current
	return true
}

// Release gives up the lock. The releasing thread drops the donations
// it received through this lock, recomputes its effective priority from
// base priority and any remaining donors, and wakes the best waiter.
// Releasing a lock the caller does not own is a fatal error.
func (l *Lock) Release() {
	k := l.k
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	if l.owner != k.Current() {
		owner := "nobody"
		if l.owner != nil {
			owner = l.owner.name
		}
		k.panicf("release of lock %q by %q, held by %s", l.name, k.current.name, owner)
	}
	if !k.cfg.MLFQS {
		k.dropDonationsFor(k.current, l)
		k.refreshPriority(k.current)
	}
	l.owner = nil
	l.sema.Up()
}

// CondWaiter pairs a waiting thread with the private semaphore its
// wake-up travels on.
type CondWaiter struct {
	sema *Semaphore
	t    *Thread
	lock *Lock
}

// Resume re-attempts the internal wait. It returns true once the waiter
// has been signalled; the caller must then reacquire the lock via
// Lock().Acquire() before the wait is complete.
func (w *CondWaiter) Resume() bool {
	return w.sema.Down()
}

// Lock returns the lock the waiter released and must reacquire.
func (w *CondWaiter) Lock() *Lock {
	return w.lock
}

// Cond is a condition variable. A thread is on the waiter list only
// between its Wait call and its subsequent reacquisition of the lock.
type Cond struct {
	k       *Kernel
	name    string
	waiters []*CondWaiter
}

// NewCond creates a condition variable.
func (k *Kernel) NewCond(name string) *Cond {
	return &Cond{k: k, name: name}
}

// Name returns the condition variable's debug name.
func (c *Cond) Name() string {
	return c.name
}

// Waiters returns the number of threads waiting on the condition.
func (c *Cond) Waiters() int {
	return len(c.waiters)
}

// Wait atomically releases l and blocks the running thread until it is
// signalled. The caller must hold l. The returned handle drives the
// remaining steps of the wait in the state-machine style: call Resume
// until it reports the signal arrived, then reacquire the lock.
func (c *Cond) Wait(l *Lock) *CondWaiter {
	k := c.k
	k.assertNotInterrupt("condition wait")
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	t := k.Current()
	if l.owner != t {
		k.panicf("wait on condition %q without holding lock %q", c.name, l.name)
	}
	w := &CondWaiter{
		sema: k.NewSemaphore(fmt.Sprintf("cond:%s:%s", c.name, t.name), 0),
		t:    t,
		lock: l,
	}
	c.waiters = append(c.waiters, w)
	// Release can preempt: waking a higher-priority lock waiter switches
	// the running thread before Wait returns. The block below therefore
	// names t explicitly instead of re-reading the current thread.
	l.Release()
	w.sema.downFor(t)
	return w
}

// Signal wakes the highest-effective-priority waiter, if any. The
// caller must hold the lock associated with the condition.
func (c *Cond) Signal(l *Lock) {
	k := c.k
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	if l.owner != k.Current() {
		k.panicf("signal on condition %q without holding lock %q", c.name, l.name)
	}
	if w := c.popMaxWaiter(); w != nil {
		w.sema.Up()
	}
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast(l *Lock) {
	k := c.k
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	if l.owner != k.Current() {
		k.panicf("broadcast on condition %q without holding lock %q", c.name, l.name)
	}
	for {
		w := c.popMaxWaiter()
		if w == nil {
			return
		}
		w.sema.Up()
	}
}

func (c *Cond) popMaxWaiter() *CondWaiter {
	if len(c.waiters) == 0 {
		return nil
	}
	best := 0
	for i, w := range c.waiters {
		if w.t.priority > c.waiters[best].t.priority {
			best = i
		}
	}
	w := c.waiters[best]
	c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	return w
}
