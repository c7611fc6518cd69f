package trace

import (
	"context"

	"github.com/me/kernsim/internal/kernel"
	"github.com/me/kernsim/pkg/model"
)

// Recorder buffers kernel scheduling events for one run. It implements
// kernel.Sink; the kernel emits from inside critical sections, so the
// recorder only appends in memory and persistence happens in Flush
// after the run.
type Recorder struct {
	runID string
	seq   int64
	buf   []model.Event
}

// NewRecorder creates a recorder for the given run.
func NewRecorder(runID string) *Recorder {
	return &Recorder{runID: runID}
}

// Emit buffers one event, stamping it with the next sequence number.
func (r *Recorder) Emit(ev kernel.Event) {
	r.seq++
	r.buf = append(r.buf, model.Event{
		Seq:        r.seq,
		RunID:      r.runID,
		Tick:       ev.Tick,
		Type:       string(ev.Type),
		ThreadID:   int64(ev.TID),
		ThreadName: ev.Thread,
		Detail:     ev.Detail,
	})
}

// Len returns the number of buffered events.
func (r *Recorder) Len() int {
	return len(r.buf)
}

// Events returns the buffered events in emission order.
func (r *Recorder) Events() []model.Event {
	out := make([]model.Event, len(r.buf))
	copy(out, r.buf)
	return out
}

// Flush writes the buffered events to the store and clears the buffer.
func (r *Recorder) Flush(ctx context.Context, st Store) error {
	if len(r.buf) == 0 {
		return nil
	}
	if err := st.AppendEvents(ctx, r.buf); err != nil {
		return err
	}
	r.buf = r.buf[:0]
	return nil
}
