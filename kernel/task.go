package kernel

import (
	"fmt"

	"spindle/internal/fiber"
)

// State is the scheduling state of a task.
type State uint8

const (
	StateInit State = iota
	StateRunning
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Entry is a task body. It runs exactly once, on the task's own stack.
type Entry func(ctx *Context, arg any)

// Task is a cooperative unit of execution.
//
// A task in StateRunning is eligible for dispatch; the one actually executing
// is Scheduler.Current.
type Task struct {
	sched *Scheduler
	id    TaskID
	name  string
	prio  Priority
	state State

	entry Entry
	arg   any
	ctx   *Context
	fib   *fiber.Fiber

	runnable func(*Task) bool

	parkRequested bool
	parked        bool

	registered bool
	executing  bool
	destroyed  bool
}

// TaskOption configures a task at creation.
type TaskOption func(*Task)

// WithName sets a human-readable task name.
func WithName(name string) TaskOption {
	return func(t *Task) { t.name = name }
}

// WithRunnable adds a predicate that must hold, on top of the state check,
// for the task to be dispatched.
func WithRunnable(fn func(*Task) bool) TaskOption {
	return func(t *Task) { t.runnable = fn }
}

// NewTask creates a task owned by s. The stack is allocated on first Run.
func NewTask(s *Scheduler, entry Entry, arg any, prio Priority, opts ...TaskOption) *Task {
	t := &Task{
		sched: s,
		id:    s.nextID,
		prio:  prio,
		entry: entry,
		arg:   arg,
	}
	s.nextID++
	t.ctx = &Context{t: t}
	for _, opt := range opts {
		opt(t)
	}
	if t.name == "" {
		t.name = fmt.Sprintf("task-%d", t.id)
	}
	return t
}

func (t *Task) ID() TaskID            { return t.id }
func (t *Task) Name() string          { return t.name }
func (t *Task) Priority() Priority    { return t.prio }
func (t *Task) State() State          { return t.state }
func (t *Task) Scheduler() *Scheduler { return t.sched }
func (t *Task) Destroyed() bool       { return t.destroyed }
func (t *Task) ShouldPark() bool      { return t.parkRequested }
func (t *Task) IsParked() bool        { return t.parked }

// Runnable reports whether Run would execute the task.
func (t *Task) Runnable() bool {
	if t.destroyed || t.state == StateBlocked {
		return false
	}
	if t.runnable != nil {
		return t.runnable(t)
	}
	return true
}

// Info returns a snapshot of the task.
func (t *Task) Info() TaskInfo {
	return TaskInfo{
		ID:            t.id,
		Name:          t.name,
		Priority:      t.prio,
		State:         t.state,
		Executing:     t.executing,
		ParkRequested: t.parkRequested,
		Parked:        t.parked,
		HasStack:      t.fib != nil && !t.fib.Done(),
	}
}

// Run executes the task until it yields or finishes. It returns false with no
// side effect when the task is not runnable. The first run allocates the
// task's stack and may fail with ErrStackExhausted.
func (t *Task) Run() (bool, error) {
	if !t.Runnable() {
		return false, nil
	}
	if t.executing {
		t.sched.fault("task.run", t, "task is already executing")
	}

	if t.state == StateInit {
		f, err := t.sched.stacks.New(t.main)
		if err != nil {
			t.sched.metrics.StackExhausted()
			t.sched.log.Warn("no stack for task", "task", t.id, "name", t.name, "err", err)
			return false, &StackError{Task: t}
		}
		t.fib = f
		t.state = StateRunning
		t.sched.log.Debug("task started", "task", t.id, "name", t.name)
	}

	if done := t.resume(); done {
		t.sched.destroy(t)
	}
	return true, nil
}

func (t *Task) resume() bool {
	s := t.sched
	prev := s.current
	s.current = t
	t.executing = true
	defer func() {
		t.executing = false
		s.current = prev
	}()
	return t.fib.Resume()
}

func (t *Task) main() {
	t.entry(t.ctx, t.arg)
}

// Block moves a running task to StateBlocked. It is a no-op in any other state.
func (t *Task) Block() {
	if t.state == StateRunning {
		t.state = StateBlocked
	}
}

// Unblock makes a blocked task runnable again. It is a no-op for a running
// task. A task that never ran, a parked task, and a task unblocking itself
// are contract violations.
func (t *Task) Unblock() {
	switch {
	case t.state == StateInit:
		t.sched.fault("task.unblock", t, "task has never blocked")
	case t.sched.current == t:
		t.sched.fault("task.unblock", t, "task cannot unblock itself")
	case t.parked:
		t.sched.fault("task.unblock", t, "task is parked")
	}
	if t.state == StateBlocked {
		t.state = StateRunning
	}
}

// Schedule saves the task's continuation and returns control to the frame
// that called Run. Only the executing task may call it, from its own stack.
func (t *Task) Schedule() {
	if t.sched.current != t || t.fib == nil {
		t.sched.fault("task.schedule", t, "not called by the executing task")
	}
	t.fib.Yield()
}

// BlockAndSchedule blocks the task and yields.
func (t *Task) BlockAndSchedule() {
	t.Block()
	t.Schedule()
}

// Park asks the task to pause at its next safe point. It must be requested
// by someone other than the task itself.
func (t *Task) Park() {
	if t.sched.current == t {
		t.sched.fault("task.park", t, "task cannot request its own park")
	}
	t.parkRequested = true
}

// Parked confirms a park request and suspends the task until it is unparked
// and unblocked.
func (t *Task) Parked() {
	if t.sched.current != t {
		t.sched.fault("task.parked", t, "not called by the executing task")
	}
	t.parked = true
	t.BlockAndSchedule()
}

// Unpark clears the park flags so that Unblock may resume the task.
func (t *Task) Unpark() {
	t.parkRequested = false
	t.parked = false
}

// Destroy tears the task down: its timeouts are cancelled, it leaves the
// registry and its stack is released. The executing task cannot destroy
// itself; it finishes by returning from its entry function.
func (t *Task) Destroy() {
	if t.executing {
		t.sched.fault("task.destroy", t, "task is executing")
	}
	t.sched.destroy(t)
}
