// Package kernel implements a single-threaded cooperative task scheduler.
//
// Tasks run on their own stacks and only give up control at explicit
// Schedule/BlockAndSchedule calls. Dispatch picks the highest-priority
// runnable task and runs it until its next yield point.
package kernel

import (
	"errors"
	"fmt"

	"spindle/internal/fiber"
	"spindle/internal/logging"
	"spindle/internal/metrics"
)

// TaskID identifies a task for its whole lifetime. IDs are never reused by
// one Scheduler; zero means "no task".
type TaskID uint32

// Priority orders dispatch. Higher values win.
type Priority uint8

const (
	PriorityIdle Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var (
	// ErrTimedOut is returned by timed waits whose deadline passed.
	ErrTimedOut = errors.New("kernel: timed out")

	// ErrStackExhausted is returned when a task cannot get a stack on its
	// first activation.
	ErrStackExhausted = errors.New("kernel: stack exhausted")
)

// StackError reports the task that could not get a stack. It unwraps to
// ErrStackExhausted.
type StackError struct {
	Task *Task
}

func (e *StackError) Error() string {
	return fmt.Sprintf("task %d (%s): %v", e.Task.id, e.Task.name, ErrStackExhausted)
}

func (e *StackError) Unwrap() error { return ErrStackExhausted }

// Scheduler owns the task registry, the timeout service and the stack budget.
//
// It is not safe for concurrent use: every method must be called from the
// goroutine currently holding the scheduler baton (a task or the code driving
// Dispatch).
type Scheduler struct {
	log     *logging.Logger
	metrics *metrics.Scheduler

	stackLimit int64
	stacks     *fiber.Pool
	timers     *Timers

	tasks   []*Task
	nextID  TaskID
	current *Task
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Scheduler) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithStackLimit bounds the number of live task stacks. Zero means unlimited.
func WithStackLimit(n int) Option {
	return func(s *Scheduler) { s.stackLimit = int64(n) }
}

// New creates a scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{nextID: 1}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).Component("kernel")
	s.stacks = fiber.NewPool(s.stackLimit)
	s.timers = &Timers{s: s}
	return s
}

// Timers returns the timeout service driven by this scheduler's tick source.
func (s *Scheduler) Timers() *Timers { return s.timers }

// Current returns the executing task, or nil outside any task.
func (s *Scheduler) Current() *Task { return s.current }

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int { return len(s.tasks) }

// LiveStacks returns the number of task stacks currently allocated.
func (s *Scheduler) LiveStacks() int64 { return s.stacks.Live() }

// Spawn creates a task and registers it.
func (s *Scheduler) Spawn(name string, entry Entry, arg any, prio Priority, opts ...TaskOption) *Task {
	t := NewTask(s, entry, arg, prio, append([]TaskOption{WithName(name)}, opts...)...)
	s.Register(t)
	return t
}

// Register adds a task to the registry.
func (s *Scheduler) Register(t *Task) {
	if t.sched != s {
		s.fault("sched.register", t, "task belongs to another scheduler")
	}
	if t.registered {
		s.fault("sched.register", t, "task is already registered")
	}
	if t.destroyed {
		s.fault("sched.register", t, "task was destroyed")
	}
	t.registered = true
	s.tasks = append(s.tasks, t)
	s.metrics.SetTasks(len(s.tasks))
	s.log.Debug("task registered", "task", t.id, "name", t.name, "prio", t.prio)
}

// Deregister removes a blocked task from the registry. Its stack stays
// allocated until the task is destroyed.
func (s *Scheduler) Deregister(t *Task) {
	if !t.registered {
		s.fault("sched.deregister", t, "task is not registered")
	}
	if t.state != StateBlocked {
		s.fault("sched.deregister", t, "task is %s, want %s", t.state, StateBlocked)
	}
	s.remove(t)
}

func (s *Scheduler) remove(t *Task) {
	if !t.registered {
		return
	}
	for i, it := range s.tasks {
		if it == t {
			copy(s.tasks[i:], s.tasks[i+1:])
			s.tasks[len(s.tasks)-1] = nil
			s.tasks = s.tasks[:len(s.tasks)-1]
			break
		}
	}
	t.registered = false
	s.metrics.SetTasks(len(s.tasks))
}

// pick returns the highest-priority runnable task. Ties go to the task
// registered first.
func (s *Scheduler) pick() *Task {
	var next *Task
	for _, t := range s.tasks {
		if !t.Runnable() {
			continue
		}
		if next == nil || t.prio > next.prio {
			next = t
		}
	}
	return next
}

// Dispatch runs the highest-priority runnable task until its next yield
// point. It reports false, without side effects, when nothing is runnable.
func (s *Scheduler) Dispatch() (bool, error) {
	next := s.pick()
	if next == nil {
		s.metrics.Idle()
		return false, nil
	}

	ran, err := next.Run()
	if err != nil {
		return false, err
	}
	if ran {
		s.metrics.Dispatched()
	}
	return ran, nil
}

// Drain dispatches until no task is runnable and returns the number of
// dispatches that ran a task.
func (s *Scheduler) Drain() (int, error) {
	n := 0
	for {
		ran, err := s.Dispatch()
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
}

// ScheduleTimeout blocks the current task for at most d ticks. It returns
// ErrTimedOut when the deadline woke the task and nil when another party
// unblocked it first. The timeout is disarmed before returning on both paths.
func (s *Scheduler) ScheduleTimeout(d Duration) error {
	t := s.current
	if t == nil {
		s.fault("sched.schedule_timeout", nil, "called outside a task")
	}

	to := s.timers.NewTaskTimeout(t)
	to.Schedule(d)
	t.BlockAndSchedule()

	fired := to.Fired()
	to.Cancel()
	if fired {
		s.metrics.TimedOut()
		return ErrTimedOut
	}
	return nil
}

// TaskInfo is a point-in-time view of a task.
type TaskInfo struct {
	ID            TaskID
	Name          string
	Priority      Priority
	State         State
	Executing     bool
	ParkRequested bool
	Parked        bool
	HasStack      bool
}

// Tasks returns a snapshot of the registry in dispatch scan order.
func (s *Scheduler) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Info())
	}
	return out
}

// Shutdown destroys every registered task. It must be called from outside
// any task.
func (s *Scheduler) Shutdown() {
	if s.current != nil {
		s.fault("sched.shutdown", s.current, "called from inside a task")
	}
	tasks := append([]*Task(nil), s.tasks...)
	for _, t := range tasks {
		t.Destroy()
	}
	s.log.Debug("scheduler shut down", "tasks", len(tasks))
}

// destroy releases a task whose entry function returned.
func (s *Scheduler) destroy(t *Task) {
	if t.destroyed {
		return
	}
	t.destroyed = true
	s.timers.cancelTask(t)
	s.remove(t)
	if t.fib != nil {
		t.fib.Kill()
	}
	s.log.Debug("task destroyed", "task", t.id, "name", t.name)
}

// Fault raises a contract violation attributed to t and records it in the
// scheduler's log and metrics. It never returns.
func (s *Scheduler) Fault(op string, t *Task, format string, args ...any) {
	s.fault(op, t, format, args...)
}

// Logger returns the scheduler logger.
func (s *Scheduler) Logger() *logging.Logger { return s.log }

func (s *Scheduler) fault(op string, t *Task, format string, args ...any) {
	var id TaskID
	if t != nil {
		id = t.id
	}
	msg := fmt.Sprintf(format, args...)
	s.metrics.Violation(op)
	s.log.Error("contract violation", "op", op, "task", id, "msg", msg)
	Fault(op, id, "%s", msg)
}
