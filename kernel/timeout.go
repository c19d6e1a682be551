package kernel

import (
	"math"
	"sort"
)

// Tick is an absolute point on the monotonic tick counter.
type Tick uint64

// Duration is a relative number of ticks.
type Duration uint64

// Timers converts relative durations into deadlines against a tick counter
// advanced by an external driver, and fires timeouts whose deadline passed.
type Timers struct {
	s     *Scheduler
	now   Tick
	queue []*Timeout // by deadline, arming order among equal deadlines
}

// Now returns the last tick passed to AdvanceTime.
func (ts *Timers) Now() Tick { return ts.now }

// AbsoluteDeadline returns now + d, saturating at the largest tick.
func (ts *Timers) AbsoluteDeadline(d Duration) Tick {
	if Tick(d) > math.MaxUint64-ts.now {
		return math.MaxUint64
	}
	return ts.now + Tick(d)
}

// Remaining returns the ticks left until deadline, or zero once it passed.
func (ts *Timers) Remaining(deadline Tick) Duration {
	if deadline <= ts.now {
		return 0
	}
	return Duration(deadline - ts.now)
}

// Pending returns the number of armed timeouts.
func (ts *Timers) Pending() int { return len(ts.queue) }

// AdvanceTime moves the counter forward. Ticks older than the current one
// are ignored.
func (ts *Timers) AdvanceTime(t Tick) {
	if t < ts.now {
		ts.s.log.Debug("ignoring stale tick", "tick", t, "now", ts.now)
		return
	}
	ts.now = t
}

// RunExpiredTimers fires every armed timeout whose deadline is not after
// now, in deadline order, and returns how many fired.
func (ts *Timers) RunExpiredTimers() int {
	n := 0
	for len(ts.queue) > 0 && ts.queue[0].deadline <= ts.now {
		to := ts.queue[0]
		ts.removeAt(0)
		to.armed = false
		to.fired = to.fire()
		n++
	}
	ts.s.metrics.TimersFired(n)
	return n
}

// NewTimeout returns a disarmed timeout that calls handler when it fires.
func (ts *Timers) NewTimeout(handler func()) *Timeout {
	return &Timeout{timers: ts, handler: handler}
}

// NewTaskTimeout returns a disarmed timeout that unblocks t when it fires.
func (ts *Timers) NewTaskTimeout(t *Task) *Timeout {
	if t.destroyed {
		ts.s.fault("timers.new_task_timeout", t, "task was destroyed")
	}
	return &Timeout{timers: ts, target: t}
}

func (ts *Timers) insert(to *Timeout) {
	i := sort.Search(len(ts.queue), func(i int) bool {
		return ts.queue[i].deadline > to.deadline
	})
	ts.queue = append(ts.queue, nil)
	copy(ts.queue[i+1:], ts.queue[i:])
	ts.queue[i] = to
}

func (ts *Timers) remove(to *Timeout) {
	for i, it := range ts.queue {
		if it == to {
			ts.removeAt(i)
			return
		}
	}
}

func (ts *Timers) removeAt(i int) {
	copy(ts.queue[i:], ts.queue[i+1:])
	ts.queue[len(ts.queue)-1] = nil
	ts.queue = ts.queue[:len(ts.queue)-1]
}

// cancelTask disarms every timeout targeting t.
func (ts *Timers) cancelTask(t *Task) {
	kept := ts.queue[:0]
	for _, to := range ts.queue {
		if to.target == t {
			to.armed = false
			continue
		}
		kept = append(kept, to)
	}
	for i := len(kept); i < len(ts.queue); i++ {
		ts.queue[i] = nil
	}
	ts.queue = kept
}

// Timeout is a one-shot deadline that either unblocks a task or calls a
// handler. It can be re-armed after it fired or was cancelled.
type Timeout struct {
	timers   *Timers
	target   *Task
	handler  func()
	deadline Tick
	armed    bool
	fired    bool
}

// Schedule arms the timeout d ticks from now, replacing any earlier deadline.
func (to *Timeout) Schedule(d Duration) {
	to.ScheduleAt(to.timers.AbsoluteDeadline(d))
}

// ScheduleAt arms the timeout for an absolute deadline.
func (to *Timeout) ScheduleAt(deadline Tick) {
	if to.target != nil && to.target.destroyed {
		to.timers.s.fault("timeout.schedule", to.target, "target task was destroyed")
	}
	if to.armed {
		to.timers.remove(to)
	}
	to.deadline = deadline
	to.armed = true
	to.fired = false
	to.timers.insert(to)
}

// Cancel disarms the timeout. It is safe to call in any state.
func (to *Timeout) Cancel() {
	if !to.armed {
		return
	}
	to.timers.remove(to)
	to.armed = false
}

// Armed reports whether the timeout is waiting for its deadline.
func (to *Timeout) Armed() bool { return to.armed }

// Fired reports whether the last deadline took effect: the handler ran, or
// the target task was woken by it.
func (to *Timeout) Fired() bool { return to.fired }

// Deadline returns the last armed deadline.
func (to *Timeout) Deadline() Tick { return to.deadline }

// fire reports whether the timeout took effect. A target task that is
// already running (woken by someone else) or parked is left alone.
func (to *Timeout) fire() bool {
	if t := to.target; t != nil {
		if t.state != StateBlocked || t.parked || t.executing {
			return false
		}
		t.Unblock()
		return true
	}
	if to.handler != nil {
		to.handler()
	}
	return true
}
