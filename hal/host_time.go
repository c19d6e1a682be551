package hal

import "time"

type hostTime struct {
	ch   chan uint64
	seq  uint64
	tick time.Duration

	last time.Time
	acc  time.Duration
}

func newHostTime(hz int) *hostTime {
	if hz <= 0 {
		hz = 100
	}
	return &hostTime{
		ch:   make(chan uint64, 1024),
		tick: time.Second / time.Duration(hz),
	}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step emits the ticks that elapsed on the wall clock since the previous
// call. The first call emits one tick. It returns the number emitted.
func (t *hostTime) step(now time.Time) uint64 {
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.stepN(1)
		return 1
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / t.tick)
	if ticks == 0 {
		return 0
	}
	t.acc = t.acc % t.tick
	t.stepN(ticks)
	return ticks
}

func (t *hostTime) stepN(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}
