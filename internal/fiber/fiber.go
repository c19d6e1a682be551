// Package fiber provides goroutine-backed continuations with an explicit
// baton: a fiber and the code that resumed it never run at the same time.
//
// This is the only place in the module that switches execution contexts.
// Everything above it (tasks, the kernel/user bridge) sees Resume/Yield only.
package fiber

import (
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrExhausted is returned when a pool has no stack budget left.
var ErrExhausted = errors.New("fiber: stack budget exhausted")

type exit struct {
	done     bool
	killed   bool
	panicked bool
	value    any
}

// Fiber is a lazily started execution context.
//
// The goroutine backing a fiber is created on the first Resume. A panic on
// the fiber is recovered there and re-raised on the resumer's goroutine.
type Fiber struct {
	fn      func()
	resume  chan bool
	yield   chan exit
	started bool
	done    bool
	running atomic.Bool
	release func()
}

// New returns a fiber outside of any stack budget.
func New(fn func()) *Fiber {
	return &Fiber{
		fn:     fn,
		resume: make(chan bool),
		yield:  make(chan exit),
	}
}

// Started reports whether the fiber has been resumed at least once.
func (f *Fiber) Started() bool { return f.started }

// Done reports whether the fiber function has returned, panicked or was killed.
func (f *Fiber) Done() bool { return f.done }

// Running reports whether the fiber currently holds the baton.
func (f *Fiber) Running() bool { return f.running.Load() }

// Resume transfers control to the fiber and blocks until it yields or ends.
// It reports whether the fiber has ended.
func (f *Fiber) Resume() bool {
	if f.done {
		return true
	}
	if !f.started {
		f.started = true
		go f.main()
	}

	f.running.Store(true)
	f.resume <- false
	e := <-f.yield
	f.running.Store(false)

	if e.done {
		f.finish()
	}
	if e.panicked {
		panic(e.value)
	}
	return e.done
}

// Yield saves the fiber's continuation and hands control back to the resumer.
// It must only be called from the fiber's own goroutine.
func (f *Fiber) Yield() {
	f.yield <- exit{}
	if kill := <-f.resume; kill {
		runtime.Goexit()
	}
}

// Kill ends a suspended fiber without running it to completion. Deferred
// calls on the fiber run, and must not yield.
func (f *Fiber) Kill() {
	if f.done {
		return
	}
	if !f.started {
		f.started = true
		f.finish()
		return
	}
	f.resume <- true
	<-f.yield
	f.finish()
}

func (f *Fiber) main() {
	if kill := <-f.resume; kill {
		f.yield <- exit{done: true, killed: true}
		return
	}

	returned := false
	defer func() {
		e := exit{done: true}
		if r := recover(); r != nil {
			e.panicked = true
			e.value = r
		} else if !returned {
			e.killed = true
		}
		f.yield <- e
	}()

	f.fn()
	returned = true
}

func (f *Fiber) finish() {
	f.done = true
	if f.release != nil {
		f.release()
		f.release = nil
	}
}

// Pool charges fibers against a fixed stack budget.
type Pool struct {
	sem   *semaphore.Weighted
	limit int64
	live  atomic.Int64
}

// NewPool returns a pool that admits at most limit live fibers.
// A limit <= 0 means unlimited.
func NewPool(limit int64) *Pool {
	p := &Pool{limit: limit}
	if limit > 0 {
		p.sem = semaphore.NewWeighted(limit)
	}
	return p
}

// New allocates a fiber from the budget. The budget is returned exactly once,
// when the fiber ends or is killed.
func (p *Pool) New(fn func()) (*Fiber, error) {
	if p.sem != nil && !p.sem.TryAcquire(1) {
		return nil, ErrExhausted
	}
	p.live.Add(1)

	f := New(fn)
	f.release = func() {
		p.live.Add(-1)
		if p.sem != nil {
			p.sem.Release(1)
		}
	}
	return f, nil
}

// Limit returns the configured budget (0 when unlimited).
func (p *Pool) Limit() int64 { return p.limit }

// Live returns the number of fibers currently holding budget.
func (p *Pool) Live() int64 { return p.live.Load() }
