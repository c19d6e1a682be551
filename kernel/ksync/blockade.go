// Package ksync provides blocking primitives for tasks of a kernel.Scheduler.
//
// The primitives are not safe for concurrent use by goroutines; they are
// driven by tasks of one scheduler, or by kernel code running between
// dispatches.
package ksync

import "spindle/kernel"

// Blockade is a one-shot signal with at most one waiting task.
//
// Wakeup sets the signal and makes the waiter runnable; Block consumes it.
// A Wakeup with no waiter is remembered until the next Block.
type Blockade struct {
	s         *kernel.Scheduler
	signalled bool
	waiter    *kernel.Task
}

// NewBlockade returns an unsignalled blockade for tasks of s.
func NewBlockade(s *kernel.Scheduler) *Blockade {
	return &Blockade{s: s}
}

// Signalled reports whether a wakeup is pending.
func (b *Blockade) Signalled() bool { return b.signalled }

// Waiter returns the task blocked on b, or nil.
func (b *Blockade) Waiter() *kernel.Task { return b.waiter }

// Wakeup signals the blockade. Calling it again before the waiter consumed
// the signal has no further effect.
func (b *Blockade) Wakeup() {
	b.signalled = true
	w := b.waiter
	if w == nil || w.State() != kernel.StateBlocked || w.IsParked() {
		return
	}
	if b.s.Current() == w {
		return
	}
	w.Unblock()
}

// Block suspends the calling task until the blockade is signalled, then
// clears the signal.
func (b *Blockade) Block() {
	t := b.enter("blockade.block")
	defer b.leave()

	for !b.signalled {
		t.BlockAndSchedule()
	}
	b.signalled = false
}

// BlockTimeout is Block bounded by d ticks. It returns kernel.ErrTimedOut
// when the deadline passed first; a signal that arrived before the waiter
// resumed wins over the deadline. A zero d only consumes a pending signal.
func (b *Blockade) BlockTimeout(d kernel.Duration) error {
	t := b.enter("blockade.block_timeout")
	defer b.leave()

	if b.signalled {
		b.signalled = false
		return nil
	}
	if d == 0 {
		return kernel.ErrTimedOut
	}

	to := b.s.Timers().NewTaskTimeout(t)
	to.Schedule(d)
	defer to.Cancel()

	for !b.signalled {
		t.BlockAndSchedule()
		if !b.signalled && to.Fired() {
			return kernel.ErrTimedOut
		}
	}
	b.signalled = false
	return nil
}

func (b *Blockade) enter(op string) *kernel.Task {
	t := b.s.Current()
	if t == nil {
		b.s.Fault(op, nil, "called outside a task")
	}
	if b.waiter != nil {
		b.s.Fault(op, t, "task %d is already waiting", b.waiter.ID())
	}
	b.waiter = t
	return t
}

func (b *Blockade) leave() { b.waiter = nil }
