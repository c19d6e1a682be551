// Package app hosts a scheduler behind the kernel/user bridge and drives it
// from a hal tick stream.
package app

import (
	"errors"
	"io"
	"sync/atomic"

	"spindle/hal"
	"spindle/internal/config"
	"spindle/internal/logging"
	"spindle/internal/metrics"
	"spindle/kernel"
	"spindle/kernel/bridge"
)

// ErrHalted is returned by Step after a contract violation stopped the
// system.
var ErrHalted = errors.New("app: halted after contract violation")

// Options configures a System.
type Options struct {
	Log       *logging.Logger
	Metrics   *metrics.Scheduler
	Scheduler config.SchedulerConfig
	Workload  config.WorkloadConfig

	// Console receives the task table as text when set.
	Console io.Writer
	Color   bool

	// HoldOnFault keeps Step returning nil after a violation so that a
	// window can keep showing the fault screen.
	HoldOnFault bool
}

// System owns one scheduler, its bridge and the hosted workload.
type System struct {
	log   *logging.Logger
	opts  Options
	sched *kernel.Scheduler
	br    *bridge.Bridge
	wl    *workload

	ticks <-chan uint64
	keys  <-chan hal.KeyEvent

	screen  *screen
	console *console

	checkpointReq atomic.Bool
	checkpoints   int
	fault         atomic.Pointer[kernel.Violation]
}

// New builds a system on h. Nothing runs until the first Step.
func New(h hal.HAL, opts Options) *System {
	log := logging.OrNop(opts.Log)
	s := &System{
		log:  log.Component("app"),
		opts: opts,
	}
	s.sched = kernel.New(
		kernel.WithLogger(log),
		kernel.WithMetrics(opts.Metrics),
		kernel.WithStackLimit(opts.Scheduler.StackLimit),
	)
	s.br = bridge.New(
		bridge.WithLogger(log),
		bridge.WithMetrics(opts.Metrics),
		bridge.WithQueueSlots(opts.Scheduler.QueueSlots),
		bridge.WithHooks(bridge.Hooks{
			AboutToPause: func() { s.log.Info("pausing user context") },
			Resumed:      func() { s.log.Info("user context resumed") },
		}),
	)

	if h != nil {
		if t := h.Time(); t != nil {
			s.ticks = t.Ticks()
		}
		if in := h.Input(); in != nil && in.Keyboard() != nil {
			s.keys = in.Keyboard().Events()
		}
		if d := h.Display(); d != nil {
			s.screen = newScreen(d.Framebuffer())
		}
	}
	if opts.Console != nil {
		s.console = newConsole(opts.Console, opts.Color)
	}

	s.wl = newWorkload(s.sched, opts.Workload, log)
	s.wl.render = s.render
	s.wl.spawn()

	s.br.OnWakeup(func(w bridge.Wakeup) {
		if w.Source == bridge.SourceSignal {
			s.wl.notify()
		}
	})
	return s
}

// NewStep adapts New to the hal runners.
func NewStep(opts Options, out **System) func(hal.HAL) hal.StepFunc {
	return func(h hal.HAL) hal.StepFunc {
		s := New(h, opts)
		if out != nil {
			*out = s
		}
		return s.Step
	}
}

// Scheduler returns the hosted scheduler.
func (s *System) Scheduler() *kernel.Scheduler { return s.sched }

// Bridge returns the kernel/user bridge.
func (s *System) Bridge() *bridge.Bridge { return s.br }

// Stats returns the workload counters.
func (s *System) Stats() Stats { return s.wl.stats }

// Checkpoints returns the number of completed checkpoints.
func (s *System) Checkpoints() int { return s.checkpoints }

// Fault returns the violation that halted the system, or nil.
func (s *System) Fault() *kernel.Violation { return s.fault.Load() }

// Signal delivers a signal wakeup. It is safe for concurrent use.
func (s *System) Signal() {
	s.br.DeliverWakeup(bridge.Wakeup{Source: bridge.SourceSignal})
}

// RequestCheckpoint asks the user context to pause for a checkpoint at its
// next suspension. It is safe for concurrent use.
func (s *System) RequestCheckpoint() {
	s.checkpointReq.Store(true)
	s.br.DeliverWakeup(bridge.Wakeup{Source: bridge.SourceIRQ})
}

// Step runs one host frame in kernel context: it feeds new ticks to the
// timeout service, turns expired timers into a wakeup and lets the bridge
// resume the user context.
func (s *System) Step() (err error) {
	if v := s.fault.Load(); v != nil {
		if s.opts.HoldOnFault {
			return nil
		}
		return ErrHalted
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		v, ok := kernel.AsViolation(r)
		if !ok {
			panic(r)
		}
		s.halt(v)
		if !s.opts.HoldOnFault {
			err = ErrHalted
		}
	}()

	if !s.br.Started() {
		s.br.Run(s.userMain, nil)
	}

	if now, ok := s.latestTick(); ok {
		timers := s.sched.Timers()
		timers.AdvanceTime(kernel.Tick(now))
		if n := timers.RunExpiredTimers(); n > 0 {
			s.br.DeliverWakeup(bridge.Wakeup{Source: bridge.SourceTimer, Arg: now})
		}
	}
	s.pollKeys()

	if s.br.Paused() {
		s.br.Resumed()
	}
	s.br.HandleWakeups()
	return nil
}

// Shutdown destroys every task and ends the user context. The system must
// not be stepped afterwards.
func (s *System) Shutdown() {
	s.sched.Shutdown()
	s.br.Close()
}

func (s *System) latestTick() (uint64, bool) {
	var now uint64
	ok := false
	for {
		select {
		case v := <-s.ticks:
			now, ok = v, true
		default:
			return now, ok
		}
	}
}

func (s *System) pollKeys() {
	for {
		select {
		case ev := <-s.keys:
			if !ev.Press {
				continue
			}
			switch ev.Code {
			case hal.KeySpace, hal.KeyEnter:
				s.Signal()
			case hal.KeyF2:
				s.RequestCheckpoint()
			default:
				s.br.DeliverWakeup(bridge.Wakeup{Source: bridge.SourceIRQ, Arg: uint64(ev.Code)})
			}
		default:
			return
		}
	}
}

// userMain is the user context: it runs tasks until none is runnable, then
// hands control back to the kernel.
func (s *System) userMain(b *bridge.Bridge, _ any) {
	for {
		if s.checkpointReq.Swap(false) {
			b.ScheduleSuspend(s.checkpoint)
		}
		if _, err := s.sched.Drain(); err != nil {
			var se *kernel.StackError
			if errors.As(err, &se) {
				s.log.Warn("abandoning task without stack", "task", se.Task.ID(), "name", se.Task.Name())
				se.Task.Destroy()
				continue
			}
			s.log.Error("dispatch failed", "err", err)
		}
		b.SuspendUser()
	}
}

// checkpoint runs in kernel context while the user context is paused.
func (s *System) checkpoint() {
	tasks := s.sched.Tasks()
	s.checkpoints++
	s.log.Info("checkpoint",
		"n", s.checkpoints,
		"tick", s.sched.Timers().Now(),
		"tasks", len(tasks),
		"timers", s.sched.Timers().Pending(),
		"stats", s.wl.stats.String(),
	)
}

func (s *System) render(now kernel.Tick, tasks []kernel.TaskInfo, st Stats) {
	if s.screen != nil {
		if err := s.screen.renderStatus(statusLines(now, tasks, st)); err != nil {
			s.log.Warn("status render failed", "err", err)
		}
	}
	if s.console != nil {
		s.console.status(now, tasks, st)
	}
}

func (s *System) halt(v *kernel.Violation) {
	if !s.fault.CompareAndSwap(nil, v) {
		return
	}
	s.log.Error("halted", "op", v.Op, "task", v.Task, "msg", v.Msg)
	if s.screen != nil {
		_ = s.screen.renderFault(v)
	}
	if s.console != nil {
		s.console.violation(v)
	}
}
