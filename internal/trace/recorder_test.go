package trace

import (
	"context"
	"testing"

	"github.com/me/kernsim/internal/kernel"
	"github.com/me/kernsim/pkg/model"
)

func TestRecorderBuffersAndFlushes(t *testing.T) {
	s := testStore(t)
	rec := NewRecorder("run_1")

	rec.Emit(kernel.Event{Tick: 0, Type: kernel.EventCreated, TID: 1, Thread: "a", Detail: "priority 31"})
	rec.Emit(kernel.Event{Tick: 0, Type: kernel.EventSwitch, TID: 1, Thread: "a"})
	rec.Emit(kernel.Event{Tick: 3, Type: kernel.EventBlocked, TID: 1, Thread: "a", Detail: "lock m"})

	if rec.Len() != 3 {
		t.Fatalf("Len = %d", rec.Len())
	}
	events := rec.Events()
	if events[0].Seq != 1 || events[2].Seq != 3 {
		t.Errorf("sequence numbers wrong: %+v", events)
	}
	if events[0].RunID != "run_1" || events[0].Type != "created" {
		t.Errorf("event mapping wrong: %+v", events[0])
	}

	ctx := context.Background()
	if err := rec.Flush(ctx, s); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if rec.Len() != 0 {
		t.Errorf("buffer not cleared after flush: %d", rec.Len())
	}

	got, total, err := s.ListEvents(ctx, "run_1", model.ListOptions{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if total != 3 || len(got) != 3 {
		t.Fatalf("persisted total=%d len=%d", total, len(got))
	}
	if got[2].Detail != "lock m" {
		t.Errorf("persisted content wrong: %+v", got[2])
	}
}

func TestRecorderFlushEmpty(t *testing.T) {
	s := testStore(t)
	rec := NewRecorder("run_1")
	if err := rec.Flush(context.Background(), s); err != nil {
		t.Errorf("empty flush: %v", err)
	}
}
