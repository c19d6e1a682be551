package kernel

import (
	"errors"
	"math"
	"testing"
)

func advance(ts *Timers, tick Tick) int {
	ts.AdvanceTime(tick)
	return ts.RunExpiredTimers()
}

func TestDeadlineArithmetic(t *testing.T) {
	s := New()
	ts := s.Timers()
	ts.AdvanceTime(5)

	if got := ts.AbsoluteDeadline(10); got != 15 {
		t.Fatalf("AbsoluteDeadline(10) = %d, want 15", got)
	}
	if got := ts.Remaining(15); got != 10 {
		t.Fatalf("Remaining(15) = %d, want 10", got)
	}
	if got := ts.Remaining(3); got != 0 {
		t.Fatalf("Remaining(3) = %d, want 0", got)
	}

	ts.AdvanceTime(2)
	if ts.Now() != 5 {
		t.Fatalf("Now() = %d after stale tick, want 5", ts.Now())
	}
}

func TestHugeDurationSaturates(t *testing.T) {
	s := New()
	ts := s.Timers()
	ts.AdvanceTime(5)

	if got := ts.AbsoluteDeadline(math.MaxUint64); got != math.MaxUint64 {
		t.Fatalf("AbsoluteDeadline(max) = %d, want %d", got, uint64(math.MaxUint64))
	}
	if got := ts.AbsoluteDeadline(math.MaxUint64 - 5); got != math.MaxUint64 {
		t.Fatalf("AbsoluteDeadline(max-5) = %d, want %d", got, uint64(math.MaxUint64))
	}

	var err error
	done := false
	s.Spawn("forever", func(*Context, any) {
		err = s.ScheduleTimeout(math.MaxUint64)
		done = true
	}, nil, PriorityNormal)
	s.Drain()

	for _, now := range []Tick{5, 6, 1 << 40} {
		if n := advance(ts, now); n != 0 {
			t.Fatalf("RunExpiredTimers() at tick %d = %d, want 0", now, n)
		}
		s.Drain()
		if done {
			t.Fatalf("woke at tick %d with %v", now, err)
		}
	}
}

func TestScheduleTimeoutFiresAfterExactTicks(t *testing.T) {
	s := New()
	ts := s.Timers()
	var err error
	var woke Tick
	task := s.Spawn("sleeper", func(ctx *Context, _ any) {
		err = ctx.Scheduler().ScheduleTimeout(10)
		woke = ctx.NowTick()
	}, nil, PriorityNormal)

	s.Dispatch()
	if task.State() != StateBlocked {
		t.Fatalf("State() = %s, want blocked", task.State())
	}

	for tick := Tick(1); tick < 10; tick++ {
		if n := advance(ts, tick); n != 0 {
			t.Fatalf("RunExpiredTimers() at tick %d = %d, want 0", tick, n)
		}
		if task.State() != StateBlocked {
			t.Fatalf("task woke at tick %d, want 10", tick)
		}
	}

	if n := advance(ts, 10); n != 1 {
		t.Fatalf("RunExpiredTimers() at tick 10 = %d, want 1", n)
	}
	if task.State() != StateRunning {
		t.Fatalf("State() at tick 10 = %s, want running", task.State())
	}

	s.Dispatch()
	if !errors.Is(err, ErrTimedOut) || woke != 10 {
		t.Fatalf("ScheduleTimeout() = %v at tick %d, want ErrTimedOut at 10", err, woke)
	}
	if ts.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", ts.Pending())
	}
}

func TestScheduleTimeoutEarlyWakeDisarms(t *testing.T) {
	s := New()
	ts := s.Timers()
	var err error
	task := s.Spawn("waiter", func(ctx *Context, _ any) {
		err = ctx.Scheduler().ScheduleTimeout(10)
		ctx.BlockAndSchedule()
	}, nil, PriorityNormal)

	s.Dispatch()
	advance(ts, 3)
	task.Unblock()
	s.Dispatch()

	if err != nil {
		t.Fatalf("ScheduleTimeout() = %v, want nil", err)
	}
	if ts.Pending() != 0 {
		t.Fatalf("Pending() = %d after early wake, want 0", ts.Pending())
	}

	// The task is blocked in an unrelated wait now; the old deadline must
	// not wake it.
	advance(ts, 20)
	if task.State() != StateBlocked {
		t.Fatalf("State() = %s after old deadline, want blocked", task.State())
	}
	task.Destroy()
}

func TestStaleTimerOnRunningTaskIsNoop(t *testing.T) {
	s := New()
	ts := s.Timers()
	steps := 0
	task := s.Spawn("double-wake", func(ctx *Context, _ any) {
		ctx.BlockAndSchedule()
		steps++
		ctx.Schedule()
		steps++
	}, nil, PriorityNormal)

	s.Dispatch()
	stale := ts.NewTaskTimeout(task)
	stale.Schedule(5)

	task.Unblock()
	s.Dispatch() // running again, yielded without blocking

	if n := advance(ts, 5); n != 1 {
		t.Fatalf("RunExpiredTimers() = %d, want 1", n)
	}
	if task.State() != StateRunning {
		t.Fatalf("State() = %s after stale fire, want running", task.State())
	}
	if stale.Fired() || stale.Armed() {
		t.Fatalf("stale timeout Fired() = %v, Armed() = %v, want false, false", stale.Fired(), stale.Armed())
	}

	s.Dispatch()
	if steps != 2 || !task.Destroyed() {
		t.Fatalf("steps = %d, destroyed = %v", steps, task.Destroyed())
	}
}

func TestHandlerTimeoutsFireInDeadlineOrder(t *testing.T) {
	s := New()
	ts := s.Timers()
	var order []string
	mk := func(name string) *Timeout {
		return ts.NewTimeout(func() { order = append(order, name) })
	}

	late := mk("late")
	early := mk("early")
	tie := mk("tie")
	cancelled := mk("cancelled")

	late.Schedule(8)
	early.Schedule(2)
	tie.Schedule(2)
	cancelled.Schedule(1)
	cancelled.Cancel()
	cancelled.Cancel()

	if n := advance(ts, 8); n != 3 {
		t.Fatalf("RunExpiredTimers() = %d, want 3", n)
	}
	want := []string{"early", "tie", "late"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if cancelled.Fired() || cancelled.Armed() {
		t.Fatalf("cancelled timeout fired")
	}
}

func TestRescheduleReplacesDeadline(t *testing.T) {
	s := New()
	ts := s.Timers()
	fired := 0
	to := ts.NewTimeout(func() { fired++ })

	to.Schedule(3)
	to.Schedule(6)
	if ts.Pending() != 1 || to.Deadline() != 6 {
		t.Fatalf("Pending() = %d, Deadline() = %d, want 1, 6", ts.Pending(), to.Deadline())
	}
	advance(ts, 5)
	if fired != 0 {
		t.Fatalf("fired at old deadline")
	}
	advance(ts, 6)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestSleepReportsEarlyWake(t *testing.T) {
	s := New()
	ts := s.Timers()
	var results []bool
	task := s.Spawn("sleeper", func(ctx *Context, _ any) {
		results = append(results, ctx.Sleep(4))
		results = append(results, ctx.Sleep(4))
	}, nil, PriorityNormal)

	s.Dispatch()
	advance(ts, 4)
	s.Dispatch()
	task.Unblock()
	s.Dispatch()

	if len(results) != 2 || results[0] || !results[1] {
		t.Fatalf("results = %v, want [false true]", results)
	}
}

func TestScheduleTimeoutOutsideTaskIsViolation(t *testing.T) {
	s := New()
	expectViolation(t, "sched.schedule_timeout", func() { _ = s.ScheduleTimeout(1) })
}

func TestTimeoutOnDestroyedTaskIsViolation(t *testing.T) {
	s := New()
	task := s.Spawn("gone", func(*Context, any) {}, nil, PriorityNormal)
	s.Drain()
	expectViolation(t, "timers.new_task_timeout", func() { s.Timers().NewTaskTimeout(task) })
}
