// Package scenario loads and runs YAML simulation scenarios: a kernel
// boot configuration, a set of synchronization primitives, scripted
// thread bodies, and tick-anchored check expressions.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/me/kernsim/internal/kernel"
)

// Scenario is the top-level YAML document.
type Scenario struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Kernel      KernelSpec `yaml:"kernel,omitempty"`

	// ExpressionLib is JavaScript helper code made available to every
	// check expression.
	ExpressionLib []string `yaml:"expression_lib,omitempty"`

	Locks      []string        `yaml:"locks,omitempty"`
	Semaphores []SemaphoreSpec `yaml:"semaphores,omitempty"`
	Condvars   []string        `yaml:"condvars,omitempty"`

	Threads []ThreadSpec `yaml:"threads"`
	Checks  []CheckSpec  `yaml:"checks,omitempty"`
}

// KernelSpec is the boot configuration section. Zero values fall back
// to the kernel defaults.
type KernelSpec struct {
	MLFQS            bool  `yaml:"mlfqs,omitempty"`
	TimerFreq        int   `yaml:"timer_freq,omitempty"`
	TimeSlice        int   `yaml:"time_slice,omitempty"`
	MaxDonationDepth int   `yaml:"max_donation_depth,omitempty"`
	Pages            int   `yaml:"pages,omitempty"`
	MaxTicks         int64 `yaml:"max_ticks,omitempty"`
}

// DefaultMaxTicks bounds a run when the scenario does not say.
const DefaultMaxTicks = 1000

// SemaphoreSpec declares a named counting semaphore.
type SemaphoreSpec struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

// ThreadSpec declares one scripted thread.
type ThreadSpec struct {
	Name string `yaml:"name"`

	// Priority defaults to kernel.PriDefault when omitted.
	Priority *int `yaml:"priority,omitempty"`
	Nice     int  `yaml:"nice,omitempty"`

	// StartAt delays creation until the given tick; 0 creates the
	// thread at boot.
	StartAt int64 `yaml:"start_at,omitempty"`

	Body []StepSpec `yaml:"body"`
}

// CondRef names a condition variable together with its monitor lock.
type CondRef struct {
	Cond string `yaml:"cond"`
	Lock string `yaml:"lock"`
}

// StepSpec is one action of a thread body. Exactly one field must be
// set.
type StepSpec struct {
	Spin        *int     `yaml:"spin,omitempty"`
	Sleep       *int64   `yaml:"sleep,omitempty"`
	Yield       bool     `yaml:"yield,omitempty"`
	Acquire     string   `yaml:"acquire,omitempty"`
	Release     string   `yaml:"release,omitempty"`
	Down        string   `yaml:"down,omitempty"`
	Up          string   `yaml:"up,omitempty"`
	Wait        *CondRef `yaml:"wait,omitempty"`
	Signal      *CondRef `yaml:"signal,omitempty"`
	Broadcast   *CondRef `yaml:"broadcast,omitempty"`
	SetPriority *int     `yaml:"set_priority,omitempty"`
	SetNice     *int     `yaml:"set_nice,omitempty"`
	Exit        bool     `yaml:"exit,omitempty"`
}

// actions returns the names of the action fields set on the step.
func (s *StepSpec) actions() []string {
	var set []string
	if s.Spin != nil {
		set = append(set, "spin")
	}
	if s.Sleep != nil {
		set = append(set, "sleep")
	}
	if s.Yield {
		set = append(set, "yield")
	}
	if s.Acquire != "" {
		set = append(set, "acquire")
	}
	if s.Release != "" {
		set = append(set, "release")
	}
	if s.Down != "" {
		set = append(set, "down")
	}
	if s.Up != "" {
		set = append(set, "up")
	}
	if s.Wait != nil {
		set = append(set, "wait")
	}
	if s.Signal != nil {
		set = append(set, "signal")
	}
	if s.Broadcast != nil {
		set = append(set, "broadcast")
	}
	if s.SetPriority != nil {
		set = append(set, "set_priority")
	}
	if s.SetNice != nil {
		set = append(set, "set_nice")
	}
	if s.Exit {
		set = append(set, "exit")
	}
	return set
}

// CheckSpec is one assertion, evaluated when the clock reaches At.
type CheckSpec struct {
	At   int64  `yaml:"at"`
	Expr string `yaml:"expr"`
	Msg  string `yaml:"msg,omitempty"`
}

// Parse unmarshals and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Validate checks structural rules: unique names, declared references,
// in-range priorities, and exactly one action per step.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario: missing name")
	}
	if len(sc.Threads) == 0 {
		return fmt.Errorf("scenario %q: no threads", sc.Name)
	}
	if sc.Kernel.MaxTicks < 0 {
		return fmt.Errorf("scenario %q: negative max_ticks", sc.Name)
	}

	locks := map[string]bool{}
	for _, name := range sc.Locks {
		if name == "" {
			return fmt.Errorf("scenario %q: empty lock name", sc.Name)
		}
		if locks[name] {
			return fmt.Errorf("scenario %q: duplicate lock %q", sc.Name, name)
		}
		locks[name] = true
	}

	semas := map[string]bool{}
	for _, s := range sc.Semaphores {
		if s.Name == "" {
			return fmt.Errorf("scenario %q: semaphore without name", sc.Name)
		}
		if semas[s.Name] {
			return fmt.Errorf("scenario %q: duplicate semaphore %q", sc.Name, s.Name)
		}
		if s.Count < 0 {
			return fmt.Errorf("scenario %q: semaphore %q has negative count", sc.Name, s.Name)
		}
		semas[s.Name] = true
	}

	conds := map[string]bool{}
	for _, name := range sc.Condvars {
		if name == "" {
			return fmt.Errorf("scenario %q: empty condvar name", sc.Name)
		}
		if conds[name] {
			return fmt.Errorf("scenario %q: duplicate condvar %q", sc.Name, name)
		}
		conds[name] = true
	}

	threads := map[string]bool{}
	for ti, th := range sc.Threads {
		if th.Name == "" {
			return fmt.Errorf("scenario %q: threads[%d] missing name", sc.Name, ti)
		}
		if th.Name == "idle" {
			return fmt.Errorf("scenario %q: thread name %q is reserved", sc.Name, th.Name)
		}
		if threads[th.Name] {
			return fmt.Errorf("scenario %q: duplicate thread %q", sc.Name, th.Name)
		}
		threads[th.Name] = true

		if th.Priority != nil && (*th.Priority < kernel.PriMin || *th.Priority > kernel.PriMax) {
			return fmt.Errorf("thread %q: priority %d out of range [%d, %d]",
				th.Name, *th.Priority, kernel.PriMin, kernel.PriMax)
		}
		if th.Nice < kernel.NiceMin || th.Nice > kernel.NiceMax {
			return fmt.Errorf("thread %q: nice %d out of range [%d, %d]",
				th.Name, th.Nice, kernel.NiceMin, kernel.NiceMax)
		}
		if th.StartAt < 0 {
			return fmt.Errorf("thread %q: negative start_at", th.Name)
		}
		if len(th.Body) == 0 {
			return fmt.Errorf("thread %q: empty body", th.Name)
		}

		for si, st := range th.Body {
			if err := validateStep(&st, locks, semas, conds); err != nil {
				return fmt.Errorf("thread %q: body[%d]: %w", th.Name, si, err)
			}
		}
	}

	for ci, c := range sc.Checks {
		if c.Expr == "" {
			return fmt.Errorf("scenario %q: checks[%d] missing expr", sc.Name, ci)
		}
		if c.At < 0 {
			return fmt.Errorf("scenario %q: checks[%d] negative at", sc.Name, ci)
		}
	}

	return nil
}

func validateStep(st *StepSpec, locks, semas, conds map[string]bool) error {
	actions := st.actions()
	if len(actions) == 0 {
		return fmt.Errorf("step has no action")
	}
	if len(actions) > 1 {
		return fmt.Errorf("step sets multiple actions: %v", actions)
	}

	switch actions[0] {
	case "spin":
		if *st.Spin <= 0 {
			return fmt.Errorf("spin must be positive")
		}
	case "sleep":
		if *st.Sleep <= 0 {
			return fmt.Errorf("sleep must be positive")
		}
	case "acquire":
		if !locks[st.Acquire] {
			return fmt.Errorf("unknown lock %q", st.Acquire)
		}
	case "release":
		if !locks[st.Release] {
			return fmt.Errorf("unknown lock %q", st.Release)
		}
	case "down":
		if !semas[st.Down] {
			return fmt.Errorf("unknown semaphore %q", st.Down)
		}
	case "up":
		if !semas[st.Up] {
			return fmt.Errorf("unknown semaphore %q", st.Up)
		}
	case "wait", "signal", "broadcast":
		ref := st.Wait
		if st.Signal != nil {
			ref = st.Signal
		}
		if st.Broadcast != nil {
			ref = st.Broadcast
		}
		if !conds[ref.Cond] {
			return fmt.Errorf("unknown condvar %q", ref.Cond)
		}
		if !locks[ref.Lock] {
			return fmt.Errorf("unknown lock %q", ref.Lock)
		}
	case "set_priority":
		if *st.SetPriority < kernel.PriMin || *st.SetPriority > kernel.PriMax {
			return fmt.Errorf("set_priority %d out of range [%d, %d]",
				*st.SetPriority, kernel.PriMin, kernel.PriMax)
		}
	case "set_nice":
		if *st.SetNice < kernel.NiceMin || *st.SetNice > kernel.NiceMax {
			return fmt.Errorf("set_nice %d out of range [%d, %d]",
				*st.SetNice, kernel.NiceMin, kernel.NiceMax)
		}
	}
	return nil
}

// MaxTicksOrDefault returns the scenario's tick bound.
func (sc *Scenario) MaxTicksOrDefault() int64 {
	if sc.Kernel.MaxTicks > 0 {
		return sc.Kernel.MaxTicks
	}
	return DefaultMaxTicks
}
