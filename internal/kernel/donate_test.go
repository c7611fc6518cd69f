package kernel

import "testing"

func TestDonationBasic(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	l := k.NewLock("l")

	holder, err := k.Create("holder", 31, Steps(AcquireLock(l), Spin(5), ReleaseLock(l), Spin(2)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // holder acquires

	if _, err := k.Create("donor", 40, Steps(AcquireLock(l), ReleaseLock(l))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // donor runs, blocks on l, donates

	if got := k.EffectivePriority(holder); got != 40 {
		t.Fatalf("EffectivePriority(holder) after donation = %d, want 40", got)
	}
	if got := k.mustThread(holder).BasePriority(); got != 31 {
		t.Fatalf("BasePriority(holder) = %d, want 31 (donation must not touch base)", got)
	}

	// Holder runs at the donated priority until it releases.
	stepUntil(t, k, 20, func() bool { return l.Owner() == nil || l.Owner().TID() != holder })
	if got := k.EffectivePriority(holder); got != 31 {
		t.Errorf("EffectivePriority(holder) after release = %d, want 31", got)
	}
}

func TestTransitiveDonation(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	l1 := k.NewLock("l1")
	l2 := k.NewLock("l2")

	t3, err := k.Create("t3", 10, Steps(AcquireLock(l2), Spin(4), ReleaseLock(l2), Spin(2)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // t3 acquires l2

	t2, err := k.Create("t2", 30, Steps(AcquireLock(l1), AcquireLock(l2), ReleaseLock(l2), ReleaseLock(l1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 2) // t2 acquires l1, then blocks on l2

	if got := k.EffectivePriority(t3); got != 30 {
		t.Fatalf("EffectivePriority(t3) after first donation = %d, want 30", got)
	}

	if _, err := k.Create("t1", 50, Steps(AcquireLock(l1), ReleaseLock(l1))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // t1 blocks on l1; donation rides the chain to t3

	if got := k.EffectivePriority(t2); got != 50 {
		t.Errorf("EffectivePriority(t2) = %d, want 50", got)
	}
	if got := k.EffectivePriority(t3); got != 50 {
		t.Errorf("EffectivePriority(t3) = %d, want 50 (transitive)", got)
	}

	// Unwinding: t3 releases l2 and reverts, then t2 releases l1.
	stepUntil(t, k, 30, func() bool { return l2.Owner() == nil || l2.Owner().TID() != t3 })
	if got := k.EffectivePriority(t3); got != 10 {
		t.Errorf("EffectivePriority(t3) after release = %d, want 10", got)
	}
	stepUntil(t, k, 30, func() bool { return k.EffectivePriority(t2) == 30 })
}

func TestMultiDonorRecompute(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	l1 := k.NewLock("l1")
	l2 := k.NewLock("l2")

	holder, err := k.Create("holder", 5, Steps(
		AcquireLock(l1),
		AcquireLock(l2),
		Spin(2),
		ReleaseLock(l2),
		Spin(2),
		ReleaseLock(l1),
		Spin(2),
	))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 2) // holder takes both locks

	if _, err := k.Create("d1", 20, Steps(AcquireLock(l1), ReleaseLock(l1))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // d1 blocks on l1

	if got := k.EffectivePriority(holder); got != 20 {
		t.Fatalf("EffectivePriority(holder) = %d, want 20", got)
	}

	if _, err := k.Create("d2", 35, Steps(AcquireLock(l2), ReleaseLock(l2))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // d2 blocks on l2

	if got := k.EffectivePriority(holder); got != 35 {
		t.Fatalf("EffectivePriority(holder) with both donors = %d, want 35", got)
	}

	// Releasing l2 withdraws d2's donation but must keep d1's: the
	// recomputation walks the remaining donors, it does not just pop.
	var sawBase bool
	stepUntil(t, k, 30, func() bool {
		p := k.EffectivePriority(holder)
		if p == 5 {
			sawBase = true
		}
		return p == 20
	})
	if sawBase {
		t.Error("holder dropped to base priority while d1 still donates")
	}

	stepUntil(t, k, 30, func() bool { return k.EffectivePriority(holder) == 5 })
}

func TestDonationToReadyThreadReordersQueue(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	l := k.NewLock("l")
	var order []string

	// holder acquires, then sits READY behind mid once preempted.
	holder, err := k.Create("holder", 10, Steps(AcquireLock(l), record(&order, "holder"), ReleaseLock(l)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // holder acquires l

	if _, err := k.Create("mid", 20, Steps(Spin(6), record(&order, "mid"))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// mid preempts holder; holder is READY at priority 10.

	if _, err := k.Create("donor", 40, Steps(AcquireLock(l), record(&order, "donor"), ReleaseLock(l))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // donor blocks on l; donation lands on READY holder

	if got := k.EffectivePriority(holder); got != 40 {
		t.Fatalf("EffectivePriority(holder) = %d, want 40", got)
	}
	// The donated priority must beat mid immediately.
	if k.Current().TID() != holder {
		t.Fatalf("current = %s, want holder scheduled ahead of mid", k.Current().Name())
	}

	step(k, 20)
	want := []string{"holder", "donor", "mid"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestDonationChainDepthBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDonationDepth = 2
	k := testKernel(t, cfg)

	// Chain: t4 -> l3(t3) -> l2(t2) -> l1(t1). With depth 2 the
	// donation from t4 stops after raising t3 and t2; t1 keeps its own.
	l1 := k.NewLock("l1")
	l2 := k.NewLock("l2")
	l3 := k.NewLock("l3")

	t1, err := k.Create("t1", 10, Steps(AcquireLock(l1), Spin(30), ReleaseLock(l1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)
	t2, err := k.Create("t2", 11, Steps(AcquireLock(l2), AcquireLock(l1), ReleaseLock(l1), ReleaseLock(l2)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 2)
	t3, err := k.Create("t3", 12, Steps(AcquireLock(l3), AcquireLock(l2), ReleaseLock(l2), ReleaseLock(l3)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 2)
	if _, err := k.Create("t4", 50, Steps(AcquireLock(l3), ReleaseLock(l3))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)

	if got := k.EffectivePriority(t3); got != 50 {
		t.Errorf("EffectivePriority(t3) = %d, want 50", got)
	}
	if got := k.EffectivePriority(t2); got != 50 {
		t.Errorf("EffectivePriority(t2) = %d, want 50", got)
	}
	if got := k.EffectivePriority(t1); got == 50 {
		t.Errorf("EffectivePriority(t1) = 50; donation crossed the depth bound")
	}
}

func TestSetPriorityOnDonorPropagates(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	l := k.NewLock("l")

	holder, err := k.Create("holder", 31, Steps(AcquireLock(l), Spin(20), ReleaseLock(l)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)
	donor, err := k.Create("donor", 40, Steps(AcquireLock(l), ReleaseLock(l)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // donor blocks on l; holder runs at 40

	// Raising a blocked donor must reach the holder it donates to.
	k.SetPriority(donor, 50)
	if got := k.EffectivePriority(holder); got != 50 {
		t.Errorf("EffectivePriority(holder) after donor raised = %d, want 50", got)
	}

	// Lowering must travel too: the holder recomputes from the donor's
	// current effective priority, not the value cached at block time.
	k.SetPriority(donor, 35)
	if got := k.EffectivePriority(holder); got != 35 {
		t.Errorf("EffectivePriority(holder) after donor lowered = %d, want 35", got)
	}

	stepUntil(t, k, 40, func() bool { return k.EffectivePriority(holder) == 31 })
}

func TestSetPriorityRaisePropagatesTransitively(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	l1 := k.NewLock("l1")
	l2 := k.NewLock("l2")

	bottom, err := k.Create("bottom", 10, Steps(AcquireLock(l2), Spin(20), ReleaseLock(l2)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // bottom acquires l2
	middle, err := k.Create("middle", 20, Steps(AcquireLock(l1), AcquireLock(l2), ReleaseLock(l2), ReleaseLock(l1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 2) // middle acquires l1, blocks on l2
	donor, err := k.Create("donor", 30, Steps(AcquireLock(l1), ReleaseLock(l1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1) // donor blocks on l1; chain donor -> middle -> bottom at 30

	k.SetPriority(donor, 60)
	if got := k.EffectivePriority(middle); got != 60 {
		t.Errorf("EffectivePriority(middle) = %d, want 60", got)
	}
	if got := k.EffectivePriority(bottom); got != 60 {
		t.Errorf("EffectivePriority(bottom) = %d, want 60 (transitive)", got)
	}
}

func TestSetPriorityKeepsActiveDonation(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	l := k.NewLock("l")

	holder, err := k.Create("holder", 31, Steps(AcquireLock(l), Spin(10), ReleaseLock(l)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)
	if _, err := k.Create("donor", 40, Steps(AcquireLock(l), ReleaseLock(l))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	step(k, 1)

	// Lowering base below the donation leaves the effective priority at
	// the donated level; the new base shows once the donation is gone.
	k.SetPriority(holder, 12)
	if got := k.EffectivePriority(holder); got != 40 {
		t.Errorf("EffectivePriority(holder) = %d, want 40 (donation still active)", got)
	}
	stepUntil(t, k, 30, func() bool { return k.EffectivePriority(holder) == 12 })
}
