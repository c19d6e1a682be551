package ksync

import "spindle/kernel"

type waiter struct {
	b     *Blockade
	woken bool
}

// Semaphore is a counting lock with a FIFO queue of waiting tasks.
//
// A negative count is the number of queued waiters.
type Semaphore struct {
	s     *kernel.Scheduler
	count int
	queue []*waiter
}

// NewSemaphore returns a semaphore holding initial units.
func NewSemaphore(s *kernel.Scheduler, initial int) *Semaphore {
	return &Semaphore{s: s, count: initial}
}

// Count returns the counter value.
func (m *Semaphore) Count() int { return m.count }

// Waiters returns the number of queued tasks.
func (m *Semaphore) Waiters() int { return len(m.queue) }

// Up releases one unit and wakes the longest waiting task, if any.
func (m *Semaphore) Up() {
	m.count++
	if m.count > 0 || len(m.queue) == 0 {
		return
	}
	w := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	w.woken = true
	w.b.Wakeup()
}

// Down takes one unit, blocking the calling task until one is available.
func (m *Semaphore) Down() {
	if m.s.Current() == nil {
		m.s.Fault("semaphore.down", nil, "called outside a task")
	}
	m.count--
	if m.count >= 0 {
		return
	}
	w := m.enqueue()
	defer func() {
		// Destroyed while queued.
		if !w.woken {
			m.dequeue(w)
			m.count++
		}
	}()
	w.b.Block()
}

// DownTimeout is Down bounded by d ticks. On kernel.ErrTimedOut the caller
// leaves the queue and the counter is restored. A zero d never blocks.
func (m *Semaphore) DownTimeout(d kernel.Duration) error {
	if m.s.Current() == nil {
		m.s.Fault("semaphore.down_timeout", nil, "called outside a task")
	}
	if m.count > 0 {
		m.count--
		return nil
	}
	if d == 0 {
		return kernel.ErrTimedOut
	}

	m.count--
	w := m.enqueue()
	defer func() {
		// Timed out, or destroyed while queued.
		if !w.woken {
			m.dequeue(w)
			m.count++
		}
	}()
	if err := w.b.BlockTimeout(d); err != nil && !w.woken {
		return err
	}
	return nil
}

func (m *Semaphore) enqueue() *waiter {
	w := &waiter{b: NewBlockade(m.s)}
	m.queue = append(m.queue, w)
	return w
}

func (m *Semaphore) dequeue(w *waiter) {
	for i, it := range m.queue {
		if it == w {
			copy(m.queue[i:], m.queue[i+1:])
			m.queue[len(m.queue)-1] = nil
			m.queue = m.queue[:len(m.queue)-1]
			return
		}
	}
}
