// Package bridge switches between a kernel context and a single user
// context.
//
// The kernel context is the goroutine that calls Run. The user context is a
// separate stack started by Run; it runs until it calls SuspendUser (or one of
// its variants) and is resumed by the kernel with ResumeUser or
// HandleWakeups. Only one side executes at a time.
//
// Asynchronous events reach the kernel through DeliverWakeup, which is the
// only method, together with Resumed, that is safe to call from any
// goroutine.
package bridge

import (
	"context"
	"sync/atomic"

	"spindle/internal/fiber"
	"spindle/internal/logging"
	"spindle/internal/metrics"
	"spindle/kernel"
)

// State tells which side of the bridge is executing.
type State uint8

const (
	StateKernel State = iota
	StateUser
)

func (s State) String() string {
	if s == StateUser {
		return "user"
	}
	return "kernel"
}

// Entry is the body of the user context. It must never return.
type Entry func(b *Bridge, arg any)

// Source names the origin of a wakeup.
type Source string

const (
	SourceTimer  Source = "timer"
	SourceSignal Source = "signal"
	SourceIRQ    Source = "irq"
)

// Wakeup is an asynchronous notification for the kernel.
type Wakeup struct {
	Source Source
	Arg    uint64
}

// Hooks are called in kernel context around a coordinated pause.
type Hooks struct {
	AboutToPause func()
	Resumed      func()
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Scheduler) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithHooks sets the coordinated-pause hooks.
func WithHooks(h Hooks) Option {
	return func(b *Bridge) { b.hooks = h }
}

// WithQueueSlots sets the wakeup queue capacity, rounded up to a power of
// two.
func WithQueueSlots(n int) Option {
	return func(b *Bridge) { b.slots = n }
}

// Bridge owns the user context and the wakeup queue.
type Bridge struct {
	log     *logging.Logger
	metrics *metrics.Scheduler
	hooks   Hooks
	slots   int

	state    State
	user     *fiber.Fiber
	started  bool
	handlers []func(Wakeup)

	// explicit is set when the pending resumption was caused by something
	// other than a timer wakeup. It is cleared once the user suspends.
	explicit bool

	queue   *ring
	kick    atomic.Bool
	dropped atomic.Uint64
	notify  chan struct{}

	// Coordinated pause.
	checkpoint func()
	pausing    bool
	resumed    atomic.Bool
}

// New returns a bridge in kernel state.
func New(opts ...Option) *Bridge {
	b := &Bridge{slots: defaultQueueSlots}
	for _, opt := range opts {
		opt(b)
	}
	if b.slots <= 0 {
		b.slots = defaultQueueSlots
	}
	b.log = logging.OrNop(b.log).Component("bridge")
	b.queue = newRing(b.slots)
	b.notify = make(chan struct{}, 1)
	return b
}

// State returns the executing side.
func (b *Bridge) State() State { return b.state }

// Started reports whether Run was called.
func (b *Bridge) Started() bool { return b.started }

// Paused reports whether the user context is held for a checkpoint.
func (b *Bridge) Paused() bool { return b.pausing }

// Dropped returns the number of wakeups rejected by a full queue.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Notify returns a channel that receives a value after wakeups are
// delivered. It is coalescing: one receive may cover many deliveries.
func (b *Bridge) Notify() <-chan struct{} { return b.notify }

// OnWakeup registers a handler run in kernel context for every delivered
// wakeup, before the user context is resumed.
func (b *Bridge) OnWakeup(fn func(Wakeup)) {
	b.handlers = append(b.handlers, fn)
}

// Run starts the user context and returns once it first suspends. It may be
// called once, from the kernel context.
func (b *Bridge) Run(entry Entry, arg any) {
	if b.state == StateUser {
		b.fault("bridge.run", "called from the user context")
	}
	if b.started {
		b.fault("bridge.run", "user context already started")
	}
	b.started = true
	b.user = fiber.New(func() {
		entry(b, arg)
		b.fault("bridge.entry", "user entry returned")
	})
	b.log.Debug("starting user context")
	b.enterUser()
}

// SuspendUser saves the user continuation and returns to the kernel. It
// returns when the kernel resumes the user context.
func (b *Bridge) SuspendUser() {
	if b.state != StateUser {
		b.fault("bridge.suspend_user", "called from the kernel context")
	}
	b.user.Yield()
}

// SuspendUserTimeout is SuspendUser with a deadline on timers. When the
// deadline passes first, a timer wakeup resumes the user context and
// kernel.ErrTimedOut is returned. A non-timer wakeup handled in the same
// batch as the timer wins and nil is returned. The timeout is disarmed on
// every path.
func (b *Bridge) SuspendUserTimeout(timers *kernel.Timers, d kernel.Duration) error {
	if b.state != StateUser {
		b.fault("bridge.suspend_user_timeout", "called from the kernel context")
	}
	to := timers.NewTimeout(func() {
		b.DeliverWakeup(Wakeup{Source: SourceTimer})
	})
	to.Schedule(d)
	b.SuspendUser()

	fired := to.Fired()
	to.Cancel()
	if fired && !b.explicit {
		return kernel.ErrTimedOut
	}
	return nil
}

// ResumeUser transfers control to the user context and returns when it
// suspends again.
func (b *Bridge) ResumeUser() {
	if b.state != StateKernel {
		b.fault("bridge.resume_user", "called from the user context")
	}
	if !b.started {
		b.fault("bridge.resume_user", "user context not started")
	}
	if b.pausing {
		b.fault("bridge.resume_user", "user context is paused for a checkpoint")
	}
	b.explicit = true
	b.enterUser()
}

// DeliverWakeup queues w for the kernel. It is safe for concurrent use and
// never blocks; it reports false when the queue was full and w was dropped.
// A dropped wakeup still causes the user context to be resumed.
func (b *Bridge) DeliverWakeup(w Wakeup) bool {
	ok := b.queue.trySend(w)
	if !ok {
		b.dropped.Add(1)
	}
	b.kick.Store(true)
	b.signal()
	return ok
}

// Resumed ends a coordinated pause. It is safe for concurrent use.
func (b *Bridge) Resumed() {
	b.resumed.Store(true)
	b.kick.Store(true)
	b.signal()
}

// ScheduleSuspend saves the user continuation and asks the kernel to run
// checkpoint between the AboutToPause and Resumed hooks. The user context
// stays suspended until Resumed is called; ordinary wakeups in between are
// handled but do not resume it.
func (b *Bridge) ScheduleSuspend(checkpoint func()) {
	if b.state != StateUser {
		b.fault("bridge.schedule_suspend", "called from the kernel context")
	}
	b.resumed.Store(false)
	b.checkpoint = checkpoint
	if b.checkpoint == nil {
		b.checkpoint = func() {}
	}
	b.SuspendUser()
}

// HandleWakeups drains the wakeup queue in kernel context, runs the
// registered handlers and resumes the user context once if anything was
// delivered. It returns the number of wakeups drained.
func (b *Bridge) HandleWakeups() int {
	if b.state != StateKernel {
		b.fault("bridge.handle_wakeups", "called from the user context")
	}

	kicked := b.kick.Swap(false)
	n := 0
	for {
		w, ok := b.queue.tryRecv()
		if !ok {
			break
		}
		n++
		if w.Source != SourceTimer {
			b.explicit = true
		}
		b.metrics.Wakeup(string(w.Source))
		for _, h := range b.handlers {
			h(w)
		}
	}
	if n > 0 {
		b.log.Debug("wakeups handled", "count", n)
	}

	if !b.started || !kicked {
		return n
	}
	if b.pausing {
		if !b.resumed.Swap(false) {
			return n
		}
		b.pausing = false
		b.log.Debug("resuming after checkpoint")
		if b.hooks.Resumed != nil {
			b.hooks.Resumed()
		}
	}
	b.enterUser()
	return n
}

// Close ends a suspended user context. The bridge must not be used
// afterwards.
func (b *Bridge) Close() {
	if b.state != StateKernel {
		b.fault("bridge.close", "called from the user context")
	}
	if b.user != nil {
		b.user.Kill()
	}
}

// Serve handles wakeups as they are delivered until ctx is done.
func (b *Bridge) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.notify:
			b.HandleWakeups()
		}
	}
}

func (b *Bridge) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bridge) enterUser() {
	b.resumeFiber()

	cp := b.checkpoint
	if cp == nil {
		return
	}
	b.checkpoint = nil
	b.pausing = true
	b.log.Debug("user context paused for checkpoint")
	if b.hooks.AboutToPause != nil {
		b.hooks.AboutToPause()
	}
	cp()
}

func (b *Bridge) resumeFiber() {
	b.state = StateUser
	defer func() {
		b.state = StateKernel
		b.explicit = false
	}()
	b.user.Resume()
}

func (b *Bridge) fault(op, msg string) {
	b.metrics.Violation(op)
	b.log.Error("contract violation", "op", op, "state", b.state, "msg", msg)
	kernel.Fault(op, 0, "%s", msg)
}
