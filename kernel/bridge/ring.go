package bridge

import "sync/atomic"

const defaultQueueSlots = 16

type slot struct {
	seq atomic.Uint32
	w   Wakeup
}

// ring is a bounded multi-producer, single-consumer queue. It never allocates
// after construction and never blocks: a full ring rejects the send.
type ring struct {
	_     [0]func() // prevent accidental copying.
	head  atomic.Uint32
	tail  atomic.Uint32
	mask  uint32
	slots []slot
}

// newRing returns a ring with n slots rounded up to a power of two.
func newRing(n int) *ring {
	size := uint32(1)
	for size < uint32(n) {
		size <<= 1
	}
	r := &ring{mask: size - 1, slots: make([]slot, size)}
	for i := range r.slots {
		r.slots[i].seq.Store(uint32(i))
	}
	return r
}

// trySend enqueues w, returning false if the ring is full.
func (r *ring) trySend(w Wakeup) bool {
	for {
		head := r.head.Load()
		s := &r.slots[head&r.mask]
		switch diff := int32(s.seq.Load() - head); {
		case diff == 0:
			// Reserve the slot, then publish it.
			if r.head.CompareAndSwap(head, head+1) {
				s.w = w
				s.seq.Store(head + 1)
				return true
			}
		case diff < 0:
			return false
		}
	}
}

// tryRecv dequeues one wakeup. Only the consumer may call it.
func (r *ring) tryRecv() (Wakeup, bool) {
	tail := r.tail.Load()
	s := &r.slots[tail&r.mask]
	if int32(s.seq.Load()-(tail+1)) < 0 {
		return Wakeup{}, false
	}
	w := s.w
	s.w = Wakeup{}
	s.seq.Store(tail + r.mask + 1)
	r.tail.Store(tail + 1)
	return w, true
}

// size returns the slot count.
func (r *ring) size() int { return len(r.slots) }
