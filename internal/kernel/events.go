package kernel

// EventType classifies a scheduling event.
type EventType string

const (
	EventCreated  EventType = "created"
	EventSwitch   EventType = "switch"
	EventReady    EventType = "ready"
	EventBlocked  EventType = "blocked"
	EventWoken    EventType = "woken"
	EventDying    EventType = "dying"
	EventReaped   EventType = "reaped"
	EventDonation EventType = "donation"
	EventPriority EventType = "priority"
	EventPanic    EventType = "panic"
)

// Event is one scheduling event, published as it happens. Events are
// emitted from inside critical sections and from interrupt context, so
// a Sink must never block or call back into the kernel.
type Event struct {
	Tick   int64
	Type   EventType
	TID    TID
	Thread string
	Detail string
}

// Sink receives scheduling events.
type Sink interface {
	Emit(ev Event)
}

func (k *Kernel) emit(typ EventType, t *Thread, detail string) {
	ev := Event{Tick: k.ticks, Type: typ, Detail: detail}
	if t != nil {
		ev.TID = t.tid
		ev.Thread = t.name
	}
	if k.sink != nil {
		k.sink.Emit(ev)
	}
	k.logger.Debug("event", "tick", ev.Tick, "type", ev.Type, "thread", ev.Thread, "detail", ev.Detail)
}
