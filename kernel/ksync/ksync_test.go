package ksync

import (
	"errors"
	"math"
	"testing"

	"spindle/kernel"
)

func expectViolation(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		v, ok := kernel.AsViolation(recover())
		if !ok {
			t.Fatalf("expected *kernel.Violation for %s", op)
		}
		if v.Op != op {
			t.Fatalf("Violation.Op = %q, want %q", v.Op, op)
		}
	}()
	fn()
}

func tick(s *kernel.Scheduler, now kernel.Tick) int {
	s.Timers().AdvanceTime(now)
	return s.Timers().RunExpiredTimers()
}

func TestBlockadeRemembersEarlyWakeup(t *testing.T) {
	s := kernel.New()
	b := NewBlockade(s)
	b.Wakeup()
	b.Wakeup()

	passes := 0
	s.Spawn("waiter", func(*kernel.Context, any) {
		b.Block()
		passes++
		b.Block()
		passes++
	}, nil, kernel.PriorityNormal)

	s.Drain()
	if passes != 1 || b.Signalled() {
		t.Fatalf("passes = %d, signalled = %v, want 1, false", passes, b.Signalled())
	}
	b.Wakeup()
	s.Drain()
	if passes != 2 {
		t.Fatalf("passes = %d, want 2", passes)
	}
}

func TestBlockadeIgnoresSpuriousUnblock(t *testing.T) {
	s := kernel.New()
	b := NewBlockade(s)
	done := false
	task := s.Spawn("waiter", func(*kernel.Context, any) {
		b.Block()
		done = true
	}, nil, kernel.PriorityNormal)

	s.Dispatch()
	task.Unblock()
	s.Dispatch()
	if done || task.State() != kernel.StateBlocked {
		t.Fatalf("done = %v, state = %s, want false, blocked", done, task.State())
	}
	b.Wakeup()
	s.Drain()
	if !done {
		t.Fatalf("waiter did not pass the blockade")
	}
}

func TestBlockadeSecondWaiterIsViolation(t *testing.T) {
	s := kernel.New()
	b := NewBlockade(s)
	s.Spawn("first", func(*kernel.Context, any) { b.Block() }, nil, kernel.PriorityNormal)
	s.Spawn("second", func(*kernel.Context, any) { b.Block() }, nil, kernel.PriorityNormal)

	s.Dispatch()
	expectViolation(t, "blockade.block", func() { s.Dispatch() })
}

func TestBlockadeOutsideTaskIsViolation(t *testing.T) {
	s := kernel.New()
	b := NewBlockade(s)
	expectViolation(t, "blockade.block", b.Block)
}

func TestBlockadeTimeout(t *testing.T) {
	s := kernel.New()
	b := NewBlockade(s)
	var errs []error
	s.Spawn("waiter", func(*kernel.Context, any) {
		errs = append(errs, b.BlockTimeout(3))
		errs = append(errs, b.BlockTimeout(3))
		errs = append(errs, b.BlockTimeout(0))
	}, nil, kernel.PriorityNormal)

	s.Dispatch()
	tick(s, 3)
	s.Dispatch()
	b.Wakeup()
	s.Drain()

	if len(errs) != 3 {
		t.Fatalf("errs = %v", errs)
	}
	if !errors.Is(errs[0], kernel.ErrTimedOut) || errs[1] != nil || !errors.Is(errs[2], kernel.ErrTimedOut) {
		t.Fatalf("errs = %v, want [timed out, nil, timed out]", errs)
	}
	if s.Timers().Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", s.Timers().Pending())
	}
}

func TestBlockadeSignalBeatsFiredTimer(t *testing.T) {
	s := kernel.New()
	b := NewBlockade(s)
	var err error
	ran := false
	s.Spawn("waiter", func(*kernel.Context, any) {
		err = b.BlockTimeout(2)
		ran = true
	}, nil, kernel.PriorityNormal)

	s.Dispatch()
	tick(s, 2)
	b.Wakeup()
	s.Drain()
	if !ran || err != nil {
		t.Fatalf("BlockTimeout() = %v, want nil", err)
	}
}

func TestSemaphoreUpWakesBlockedDown(t *testing.T) {
	s := kernel.New()
	m := NewSemaphore(s, 0)
	acquired := false
	x := s.Spawn("x", func(*kernel.Context, any) {
		m.Down()
		acquired = true
	}, nil, kernel.PriorityNormal)
	s.Spawn("y", func(*kernel.Context, any) { m.Up() }, nil, kernel.PriorityNormal)

	s.Dispatch()
	if x.State() != kernel.StateBlocked || m.Count() != -1 || m.Waiters() != 1 {
		t.Fatalf("after down: state = %s, count = %d, waiters = %d", x.State(), m.Count(), m.Waiters())
	}

	s.Dispatch()
	if x.State() != kernel.StateRunning {
		t.Fatalf("after up: state = %s, want running", x.State())
	}

	s.Dispatch()
	if !acquired || !x.Destroyed() {
		t.Fatalf("x did not return from Down")
	}
	if m.Count() != 0 || m.Waiters() != 0 {
		t.Fatalf("count = %d, waiters = %d, want 0, 0", m.Count(), m.Waiters())
	}
}

func TestSemaphoreDownTimeoutRestoresCount(t *testing.T) {
	s := kernel.New()
	m := NewSemaphore(s, 0)
	var err error
	x := s.Spawn("x", func(*kernel.Context, any) {
		err = m.DownTimeout(10)
	}, nil, kernel.PriorityNormal)

	s.Dispatch()
	for now := kernel.Tick(1); now < 10; now++ {
		tick(s, now)
		if x.State() != kernel.StateBlocked {
			t.Fatalf("woke at tick %d", now)
		}
	}
	tick(s, 10)
	s.Dispatch()

	if !errors.Is(err, kernel.ErrTimedOut) {
		t.Fatalf("DownTimeout() = %v, want ErrTimedOut", err)
	}
	if m.Count() != 0 || m.Waiters() != 0 {
		t.Fatalf("count = %d, waiters = %d, want 0, 0", m.Count(), m.Waiters())
	}
}

func TestSemaphoreUpAfterTimerFiredStillHandsOver(t *testing.T) {
	s := kernel.New()
	m := NewSemaphore(s, 0)
	var err error
	s.Spawn("x", func(*kernel.Context, any) {
		err = m.DownTimeout(4)
	}, nil, kernel.PriorityNormal)

	s.Dispatch()
	tick(s, 4)
	m.Up()
	s.Drain()

	if err != nil {
		t.Fatalf("DownTimeout() = %v, want nil", err)
	}
	if m.Count() != 0 || m.Waiters() != 0 {
		t.Fatalf("count = %d, waiters = %d, want 0, 0", m.Count(), m.Waiters())
	}
}

func TestSemaphoreTimerAfterUpIsNoop(t *testing.T) {
	s := kernel.New()
	m := NewSemaphore(s, 0)
	var err error
	s.Spawn("x", func(*kernel.Context, any) {
		err = m.DownTimeout(4)
	}, nil, kernel.PriorityNormal)

	s.Dispatch()
	m.Up()
	if n := tick(s, 4); n != 1 {
		t.Fatalf("RunExpiredTimers() = %d, want 1", n)
	}
	s.Drain()

	if err != nil {
		t.Fatalf("DownTimeout() = %v, want nil", err)
	}
	if m.Count() != 0 {
		t.Fatalf("count = %d, want 0", m.Count())
	}
}

func TestSemaphoreWakesInArrivalOrder(t *testing.T) {
	s := kernel.New()
	m := NewSemaphore(s, 0)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		s.Spawn(name, func(*kernel.Context, any) {
			m.Down()
			order = append(order, name)
		}, nil, kernel.PriorityNormal)
	}
	s.Drain()
	if m.Waiters() != 3 || m.Count() != -3 {
		t.Fatalf("count = %d, waiters = %d, want -3, 3", m.Count(), m.Waiters())
	}

	for i := 0; i < 3; i++ {
		m.Up()
		s.Drain()
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSemaphoreTryDown(t *testing.T) {
	s := kernel.New()
	m := NewSemaphore(s, 1)
	var errs []error
	task := s.Spawn("try", func(*kernel.Context, any) {
		errs = append(errs, m.DownTimeout(0))
		errs = append(errs, m.DownTimeout(0))
	}, nil, kernel.PriorityNormal)

	if ran, _ := s.Dispatch(); !ran || !task.Destroyed() {
		t.Fatalf("try-down blocked")
	}
	if errs[0] != nil || !errors.Is(errs[1], kernel.ErrTimedOut) {
		t.Fatalf("errs = %v, want [nil, timed out]", errs)
	}
	if m.Count() != 0 || m.Waiters() != 0 {
		t.Fatalf("count = %d, waiters = %d, want 0, 0", m.Count(), m.Waiters())
	}
}

func TestSemaphoreDestroyedWaiterLeavesQueue(t *testing.T) {
	s := kernel.New()
	m := NewSemaphore(s, 0)
	x := s.Spawn("x", func(*kernel.Context, any) { m.Down() }, nil, kernel.PriorityNormal)

	s.Dispatch()
	x.Destroy()
	if m.Count() != 0 || m.Waiters() != 0 {
		t.Fatalf("count = %d, waiters = %d, want 0, 0", m.Count(), m.Waiters())
	}
}

func TestSemaphoreDestroyedTimedWaiterLeavesQueue(t *testing.T) {
	s := kernel.New()
	m := NewSemaphore(s, 0)
	x := s.Spawn("x", func(*kernel.Context, any) { m.DownTimeout(100) }, nil, kernel.PriorityNormal)

	s.Dispatch()
	x.Destroy()
	if m.Count() != 0 || m.Waiters() != 0 {
		t.Fatalf("count = %d, waiters = %d, want 0, 0", m.Count(), m.Waiters())
	}
	if s.Timers().Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", s.Timers().Pending())
	}

	got := false
	s.Spawn("y", func(*kernel.Context, any) {
		m.Up()
		m.Down()
		got = true
	}, nil, kernel.PriorityNormal)
	s.Drain()
	if !got || m.Count() != 0 || m.Waiters() != 0 {
		t.Fatalf("got = %v, count = %d, waiters = %d, want true, 0, 0", got, m.Count(), m.Waiters())
	}
}

func TestBlockTimeoutHugeDurationDoesNotFire(t *testing.T) {
	s := kernel.New()
	b := NewBlockade(s)
	s.Timers().AdvanceTime(5)

	var err error
	done := false
	s.Spawn("waiter", func(*kernel.Context, any) {
		err = b.BlockTimeout(math.MaxUint64)
		done = true
	}, nil, kernel.PriorityNormal)
	s.Drain()

	if n := tick(s, 5); n != 0 {
		t.Fatalf("RunExpiredTimers() = %d, want 0", n)
	}
	s.Drain()
	if done {
		t.Fatalf("BlockTimeout returned early with %v", err)
	}

	b.Wakeup()
	s.Drain()
	if !done || err != nil {
		t.Fatalf("done = %v, err = %v, want true, nil", done, err)
	}
}

func TestSemaphoreProducerConsumer(t *testing.T) {
	s := kernel.New()
	items := NewSemaphore(s, 0)
	slots := NewSemaphore(s, 2)
	var got []int
	buf := make([]int, 0, 2)

	s.Spawn("producer", func(*kernel.Context, any) {
		for i := 0; i < 5; i++ {
			slots.Down()
			buf = append(buf, i)
			items.Up()
		}
	}, nil, kernel.PriorityNormal)
	s.Spawn("consumer", func(*kernel.Context, any) {
		for i := 0; i < 5; i++ {
			items.Down()
			got = append(got, buf[0])
			buf = buf[1:]
			slots.Up()
		}
	}, nil, kernel.PriorityNormal)

	s.Drain()
	if len(got) != 5 {
		t.Fatalf("got = %v, want 5 items", got)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got = %v, want in order", got)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}
