package scenario

import (
	"strings"
	"testing"
)

const fullDoc = `
name: all-steps
description: exercises every step kind
kernel:
  timer_freq: 100
  time_slice: 4
  pages: 16
  max_ticks: 200
locks: [a]
semaphores:
  - name: slots
    count: 2
condvars: [cv]
threads:
  - name: worker
    priority: 40
    body:
      - spin: 3
      - acquire: a
      - wait: {cond: cv, lock: a}
      - release: a
      - down: slots
      - up: slots
      - sleep: 5
      - yield: true
      - set_priority: 20
      - exit: true
  - name: waker
    start_at: 10
    nice: 5
    body:
      - acquire: a
      - signal: {cond: cv, lock: a}
      - broadcast: {cond: cv, lock: a}
      - release: a
      - set_nice: -5
checks:
  - at: 0
    expr: threads.worker.state == 'RUNNING'
  - at: 12
    expr: locks.a.waiters >= 0
    msg: waiter count went negative
`

func TestParseFullDocument(t *testing.T) {
	sc, err := Parse([]byte(fullDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sc.Name != "all-steps" {
		t.Errorf("Name = %q", sc.Name)
	}
	if sc.Kernel.MaxTicks != 200 {
		t.Errorf("MaxTicks = %d", sc.Kernel.MaxTicks)
	}
	if len(sc.Threads) != 2 {
		t.Fatalf("got %d threads", len(sc.Threads))
	}
	worker := sc.Threads[0]
	if worker.Priority == nil || *worker.Priority != 40 {
		t.Errorf("worker priority = %v", worker.Priority)
	}
	if len(worker.Body) != 10 {
		t.Errorf("worker body has %d steps", len(worker.Body))
	}
	if worker.Body[2].Wait == nil || worker.Body[2].Wait.Cond != "cv" {
		t.Errorf("step 2 should be a wait on cv: %+v", worker.Body[2])
	}
	waker := sc.Threads[1]
	if waker.StartAt != 10 {
		t.Errorf("waker StartAt = %d", waker.StartAt)
	}
	if waker.Priority != nil {
		t.Error("waker priority should default")
	}
	if len(sc.Checks) != 2 {
		t.Errorf("got %d checks", len(sc.Checks))
	}
	if sc.Checks[1].Msg != "waiter count went negative" {
		t.Errorf("check msg = %q", sc.Checks[1].Msg)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			"missing name",
			"threads:\n  - name: t\n    body: [{spin: 1}]\n",
			"missing name",
		},
		{
			"no threads",
			"name: x\n",
			"no threads",
		},
		{
			"duplicate thread",
			"name: x\nthreads:\n  - name: t\n    body: [{spin: 1}]\n  - name: t\n    body: [{spin: 1}]\n",
			"duplicate thread",
		},
		{
			"reserved name",
			"name: x\nthreads:\n  - name: idle\n    body: [{spin: 1}]\n",
			"reserved",
		},
		{
			"priority out of range",
			"name: x\nthreads:\n  - name: t\n    priority: 64\n    body: [{spin: 1}]\n",
			"out of range",
		},
		{
			"unknown lock",
			"name: x\nthreads:\n  - name: t\n    body: [{acquire: a}]\n",
			`unknown lock "a"`,
		},
		{
			"unknown semaphore",
			"name: x\nthreads:\n  - name: t\n    body: [{down: s}]\n",
			`unknown semaphore "s"`,
		},
		{
			"two actions in one step",
			"name: x\nlocks: [a]\nthreads:\n  - name: t\n    body:\n      - spin: 1\n        acquire: a\n",
			"multiple actions",
		},
		{
			"empty step",
			"name: x\nthreads:\n  - name: t\n    body:\n      - {}\n",
			"no action",
		},
		{
			"empty body",
			"name: x\nthreads:\n  - name: t\n    body: []\n",
			"empty body",
		},
		{
			"negative semaphore",
			"name: x\nsemaphores:\n  - name: s\n    count: -1\nthreads:\n  - name: t\n    body: [{spin: 1}]\n",
			"negative count",
		},
		{
			"check without expr",
			"name: x\nthreads:\n  - name: t\n    body: [{spin: 1}]\nchecks:\n  - at: 3\n",
			"missing expr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestMaxTicksOrDefault(t *testing.T) {
	sc := &Scenario{}
	if got := sc.MaxTicksOrDefault(); got != DefaultMaxTicks {
		t.Errorf("default = %d", got)
	}
	sc.Kernel.MaxTicks = 77
	if got := sc.MaxTicksOrDefault(); got != 77 {
		t.Errorf("explicit = %d", got)
	}
}
