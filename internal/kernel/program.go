package kernel

// Step is one resumable action of a thread body. It returns true when
// the action completed; a blocked action leaves the program counter in
// place and is re-attempted on the thread's next scheduling slot.
type Step func(k *Kernel) bool

// Steps composes a thread body from a sequence of actions, one
// scheduling slot per attempt. The returned ThreadFunc carries the
// program counter, so it must not be shared between threads.
func Steps(steps ...Step) ThreadFunc {
	pc := 0
	return func(k *Kernel) bool {
		if pc >= len(steps) {
			return true
		}
		if steps[pc](k) {
			pc++
		}
		return pc >= len(steps)
	}
}

// Spin occupies the CPU for n scheduling slots.
func Spin(n int) Step {
	left := n
	return func(k *Kernel) bool {
		if left > 0 {
			left--
		}
		return left <= 0
	}
}

// Sleep blocks the thread for the given number of ticks.
func Sleep(ticks int64) Step {
	return func(k *Kernel) bool {
		k.SleepFor(ticks)
		return true
	}
}

// Yield surrenders the CPU for one slot.
func Yield() Step {
	return func(k *Kernel) bool {
		k.YieldCurrent()
		return true
	}
}

// AcquireLock takes l, blocking and donating as needed.
func AcquireLock(l *Lock) Step {
	return func(k *Kernel) bool {
		return l.Acquire()
	}
}

// ReleaseLock gives up l.
func ReleaseLock(l *Lock) Step {
	return func(k *Kernel) bool {
		l.Release()
		return true
	}
}

// DownSema decrements s, blocking while the count is zero.
func DownSema(s *Semaphore) Step {
	return func(k *Kernel) bool {
		return s.Down()
	}
}

// UpSema increments s.
func UpSema(s *Semaphore) Step {
	return func(k *Kernel) bool {
		s.Up()
		return true
	}
}

// WaitCond waits on c with l held, reacquiring l before completing.
func WaitCond(c *Cond, l *Lock) Step {
	var w *CondWaiter
	phase := 0
	return func(k *Kernel) bool {
		switch phase {
		case 0:
			w = c.Wait(l)
			phase = 1
			return false
		case 1:
			if !w.Resume() {
				return false
			}
			phase = 2
			return false
		default:
			return l.Acquire()
		}
	}
}

// SignalCond wakes one waiter of c; l must be held.
func SignalCond(c *Cond, l *Lock) Step {
	return func(k *Kernel) bool {
		c.Signal(l)
		return true
	}
}

// BroadcastCond wakes every waiter of c; l must be held.
func BroadcastCond(c *Cond, l *Lock) Step {
	return func(k *Kernel) bool {
		c.Broadcast(l)
		return true
	}
}

// SetOwnPriority changes the running thread's base priority.
func SetOwnPriority(priority int) Step {
	return func(k *Kernel) bool {
		k.SetPriority(k.Current().TID(), priority)
		return true
	}
}

// SetOwnNice changes the running thread's niceness.
func SetOwnNice(nice int) Step {
	return func(k *Kernel) bool {
		k.SetNice(k.Current().TID(), nice)
		return true
	}
}

// Exit finishes the thread immediately, skipping any remaining steps.
func Exit() Step {
	return func(k *Kernel) bool {
		k.ExitCurrent()
		return true
	}
}
