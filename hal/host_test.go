package hal

import (
	"context"
	"testing"
	"time"
)

func drain(ch <-chan uint64) []uint64 {
	var out []uint64
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestHostTimeStepCatchesUp(t *testing.T) {
	ht := newHostTime(100) // 10ms per tick
	start := time.Unix(0, 0)

	if n := ht.step(start); n != 1 {
		t.Fatalf("first step() = %d, want 1", n)
	}
	if n := ht.step(start.Add(5 * time.Millisecond)); n != 0 {
		t.Fatalf("step() after 5ms = %d, want 0", n)
	}
	if n := ht.step(start.Add(35 * time.Millisecond)); n != 3 {
		t.Fatalf("step() after 35ms = %d, want 3", n)
	}
	if n := ht.step(start.Add(38 * time.Millisecond)); n != 0 {
		t.Fatalf("step() after 38ms = %d, want 0", n)
	}
	if n := ht.step(start.Add(45 * time.Millisecond)); n != 1 {
		t.Fatalf("step() after 45ms = %d, want 1", n)
	}

	got := drain(ht.Ticks())
	want := []uint64{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("ticks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", got, want)
		}
	}
}

func TestHostTimeDropsWhenFullButKeepsCounting(t *testing.T) {
	ht := newHostTime(1000)
	ht.stepN(uint64(cap(ht.ch)) + 10)
	if ht.seq != uint64(cap(ht.ch))+10 {
		t.Fatalf("seq = %d, want %d", ht.seq, cap(ht.ch)+10)
	}
	if got := len(drain(ht.Ticks())); got != cap(ht.ch) {
		t.Fatalf("buffered = %d, want %d", got, cap(ht.ch))
	}
}

func TestFramebufferClear(t *testing.T) {
	fb := newHostFramebuffer(4, 2)
	if fb.StrideBytes() != 8 || len(fb.Buffer()) != 16 {
		t.Fatalf("stride = %d, len = %d", fb.StrideBytes(), len(fb.Buffer()))
	}
	fb.ClearRGB(255, 0, 0)

	snap := make([]byte, 16)
	if _, ok := fb.snapshot(snap, 0); ok {
		t.Fatal("snapshot before any Present copied a frame")
	}
	if err := fb.Present(); err != nil {
		t.Fatalf("Present() = %v", err)
	}
	n, ok := fb.snapshot(snap, 0)
	if !ok || n != 1 {
		t.Fatalf("snapshot() = %d, %v, want 1, true", n, ok)
	}
	if _, ok := fb.snapshot(snap, n); ok {
		t.Fatal("snapshot of an already seen frame copied again")
	}
	for i := 0; i < len(snap); i += 2 {
		p := uint16(snap[i]) | uint16(snap[i+1])<<8
		r, g, b := RGB888(p)
		if r != 255 || g != 0 || b != 0 {
			t.Fatalf("pixel %d = (%d,%d,%d), want red", i/2, r, g, b)
		}
	}
}

func TestRunHeadlessStopsAtTickLimit(t *testing.T) {
	steps := 0
	var seen uint64
	err := RunHeadless(context.Background(), func(h HAL) StepFunc {
		if h.Display().Framebuffer() == nil {
			t.Fatal("expected framebuffer")
		}
		ticks := h.Time().Ticks()
		return func() error {
			steps++
			for _, v := range drain(ticks) {
				seen = v
			}
			return nil
		}
	}, RunConfig{Hz: 1000, Ticks: 5})
	if err != nil {
		t.Fatalf("RunHeadless: %v", err)
	}
	if steps == 0 || seen < 5 {
		t.Fatalf("steps = %d, last tick = %d", steps, seen)
	}
}

func TestRunHeadlessStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := RunHeadless(ctx, func(HAL) StepFunc {
		return func() error {
			cancel()
			return nil
		}
	}, RunConfig{Hz: 1000})
	if err != nil {
		t.Fatalf("RunHeadless: %v", err)
	}
}
