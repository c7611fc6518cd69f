package kernel

import (
	"fmt"

	"github.com/me/kernsim/pkg/fixedpt"
)

// priUpdateInterval is how often, in ticks, feedback-queue priorities
// are recomputed.
const priUpdateInterval = 4

// mlfqsTick runs the per-tick feedback-queue accounting from the timer
// handler: charge the running thread, refresh the load average and
// decay once per simulated second, and recompute priorities every
// fourth tick.
func (k *Kernel) mlfqsTick() {
	if k.current != k.idle {
		k.current.recentCPU = k.current.recentCPU.AddInt(1)
	}
	if k.ticks%int64(k.cfg.TimerFreq) == 0 {
		k.mlfqsRefreshLoadAvg()
		k.mlfqsDecayAll()
	}
	if k.ticks%priUpdateInterval == 0 {
		k.mlfqsRecomputeAll()
	}
}

// mlfqsRefreshLoadAvg folds the current ready-thread count into the
// exponentially decayed load average:
//
//	load_avg = (59/60)*load_avg + (1/60)*ready
//
// where ready counts runnable threads including the runner, excluding
// idle.
func (k *Kernel) mlfqsRefreshLoadAvg() {
	ready := len(k.ready)
	if k.current != k.idle {
		ready++
	}
	k.loadAvg = fixedpt.Frac(59, 60).Mul(k.loadAvg).Add(fixedpt.Frac(1, 60).MulInt(ready))
}

// mlfqsDecayAll decays every thread's CPU accumulator by
// (2*load_avg)/(2*load_avg + 1) and folds in its niceness.
func (k *Kernel) mlfqsDecayAll() {
	twice := k.loadAvg.MulInt(2)
	coef := twice.Div(twice.AddInt(1))
	for _, t := range k.order {
		t.recentCPU = coef.Mul(t.recentCPU).AddInt(t.nice)
	}
}

// mlfqsRecomputeAll recomputes every thread's priority from the
// formula. Recomputation with unchanged inputs is idempotent, so
// re-running it within the same window cannot drift. The ready queue is
// re-sorted afterwards and a reschedule requested if the runner lost
// its rank.
func (k *Kernel) mlfqsRecomputeAll() {
	for _, t := range k.order {
		k.mlfqsRecomputeThread(t)
	}
	if k.topReadyPriority() > k.current.priority {
		if k.inIntr {
			k.yieldOnReturn = true
		} else {
			k.yield()
		}
	}
}

// mlfqsRecomputeThread applies priority = PRI_MAX - recent_cpu/4 -
// nice*2, clamped to the valid range.
func (k *Kernel) mlfqsRecomputeThread(t *Thread) {
	p := PriMax - t.recentCPU.DivInt(4).Trunc() - t.nice*2
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	if p == t.priority {
		return
	}
	t.priority = p
	k.emit(EventPriority, t, fmt.Sprintf("mlfqs %d", p))
	if t.state == StateReady {
		k.requeueReady(t)
	}
}
