package kexpr

// Context holds the simulation snapshot a check expression evaluates
// against. Every field is exposed to the JavaScript runtime as a global
// of the same (lowercase) name.
type Context struct {
	// Tick is the current timer tick.
	Tick int64

	// Current is the name of the running thread ("idle" for the idle
	// thread).
	Current string

	// Threads maps thread name to a snapshot object with the keys
	// state, priority, base_priority, nice, cpu_ticks and wake_tick.
	Threads map[string]any

	// Locks maps lock name to a snapshot object with the keys owner
	// (thread name or null) and waiters.
	Locks map[string]any

	// Semaphores maps semaphore name to a snapshot object with the
	// keys count and waiters.
	Semaphores map[string]any

	// Stats carries the kernel counters: ticks, switches, idle_ticks,
	// kernel_ticks, load_avg_100.
	Stats map[string]any
}

// NewContext creates an empty evaluation context at the given tick.
func NewContext(tick int64) *Context {
	return &Context{
		Tick:       tick,
		Threads:    map[string]any{},
		Locks:      map[string]any{},
		Semaphores: map[string]any{},
		Stats:      map[string]any{},
	}
}
