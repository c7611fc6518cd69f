package kernel

import "fmt"

// addDonor records donor in holder's donation set. Donors are recorded
// only on the direct lock holder; transitive elevation travels through
// donate without adding membership further up the chain.
func (k *Kernel) addDonor(holder, donor *Thread) {
	k.assertInterruptsOff("donation update")
	for _, d := range holder.donations {
		if d == donor {
			return
		}
	}
	holder.donations = append(holder.donations, donor)
}

// donate propagates the donor's effective priority up the lock
// ownership chain: raise the holder of the lock the donor waits on,
// then the holder of whatever that thread waits on, and so on. The walk
// stops at an unblocked link, an unowned lock, or the configured depth
// bound. Ownership is acyclic (a thread cannot wait on a lock it owns),
// so the bound only guards pathological chain lengths.
func (k *Kernel) donate(donor *Thread) {
	k.assertInterruptsOff("donation update")
	cur := donor
	for depth := 0; depth < k.cfg.MaxDonationDepth; depth++ {
		if cur.waitingOn == nil {
			return
		}
		holder := cur.waitingOn.owner
		if holder == nil {
			return
		}
		if holder.priority >= cur.priority {
			return
		}
		holder.priority = cur.priority
		k.emit(EventDonation, holder, fmt.Sprintf("raised to %d by %s via %s", cur.priority, cur.name, cur.waitingOn.name))
		if holder.state == StateReady {
			k.requeueReady(holder)
		}
		cur = holder
	}
}

// dropDonationsFor withdraws every donation the holder received through
// the given lock. Called on release, before the holder's priority is
// recomputed.
func (k *Kernel) dropDonationsFor(holder *Thread, l *Lock) {
	k.assertInterruptsOff("donation update")
	kept := holder.donations[:0]
	for _, d := range holder.donations {
		if d.waitingOn == l {
			continue
		}
		kept = append(kept, d)
	}
	holder.donations = kept
}

// refreshPriority recomputes a thread's effective priority as the
// maximum of its base priority and its remaining donors' current
// effective priorities. A recomputation, not a pop: the thread may hold
// several locks with independent donor sets at once.
func (k *Kernel) refreshPriority(t *Thread) {
	k.assertInterruptsOff("priority refresh")
	p := t.basePriority
	for _, d := range t.donations {
		if d.priority > p {
			p = d.priority
		}
	}
	if p == t.priority {
		return
	}
	t.priority = p
	k.emit(EventPriority, t, fmt.Sprintf("effective %d", p))
	if t.state == StateReady {
		k.requeueReady(t)
	}
}

// refreshChain recomputes effective priorities up the ownership chain
// after a donor's priority changed in either direction. Unlike donate,
// each holder is recomputed from its donors' current values, so drops
// travel as well as raises.
func (k *Kernel) refreshChain(t *Thread) {
	k.assertInterruptsOff("priority refresh")
	cur := t
	for depth := 0; depth < k.cfg.MaxDonationDepth; depth++ {
		if cur.waitingOn == nil {
			return
		}
		holder := cur.waitingOn.owner
		if holder == nil {
			return
		}
		k.refreshPriority(holder)
		cur = holder
	}
}

// SetPriority changes a thread's base priority and recomputes its
// effective priority; active donations still apply. A change to a
// thread blocked on a lock re-propagates through the ownership chain.
// Lowering the running thread below a ready peer yields immediately.
// Under the feedback-queue policy priorities are formula-driven and
// this is a no-op.
func (k *Kernel) SetPriority(tid TID, priority int) {
	if k.cfg.MLFQS {
		return
	}
	k.assertPriority(priority)
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	t := k.mustThread(tid)
	t.basePriority = priority
	k.refreshPriority(t)
	k.refreshChain(t)

	if t == k.current {
		if k.topReadyPriority() > t.priority {
			if k.inIntr {
				k.yieldOnReturn = true
			} else {
				k.yield()
			}
		}
		return
	}
	k.maybePreempt()
}

// SetNice adjusts a thread's niceness and, under the feedback-queue
// policy, immediately recomputes its priority from the formula,
// yielding if the running thread no longer has the highest priority.
func (k *Kernel) SetNice(tid TID, nice int) {
	if nice < NiceMin || nice > NiceMax {
		k.panicf("nice %d out of range [%d, %d]", nice, NiceMin, NiceMax)
	}
	old := k.DisableInterrupts()
	defer k.RestoreInterrupts(old)

	t := k.mustThread(tid)
	t.nice = nice
	if !k.cfg.MLFQS {
		return
	}
	k.mlfqsRecomputeThread(t)
	if t == k.current {
		if k.topReadyPriority() > t.priority && !k.inIntr {
			k.yield()
		}
		return
	}
	k.maybePreempt()
}
