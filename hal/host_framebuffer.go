package hal

import (
	"sync"
	"sync/atomic"
)

// hostFramebuffer is an RGB565 framebuffer in memory. Writers draw into
// Buffer and call Present; readers copy the last presented frame.
type hostFramebuffer struct {
	mu     sync.Mutex
	width  int
	height int
	stride int
	buf    []byte

	frames atomic.Uint64
}

func newHostFramebuffer(width, height int) *hostFramebuffer {
	return &hostFramebuffer{
		width:  width,
		height: height,
		stride: width * 2,
		buf:    make([]byte, width*2*height),
	}
}

func (f *hostFramebuffer) Width() int          { return f.width }
func (f *hostFramebuffer) Height() int         { return f.height }
func (f *hostFramebuffer) Format() PixelFormat { return PixelFormatRGB565 }
func (f *hostFramebuffer) StrideBytes() int    { return f.stride }
func (f *hostFramebuffer) Buffer() []byte      { return f.buf }

// Present publishes the buffer contents as a new frame.
func (f *hostFramebuffer) Present() error {
	f.frames.Add(1)
	return nil
}

// Frames returns the number of presented frames.
func (f *hostFramebuffer) Frames() uint64 { return f.frames.Load() }

func (f *hostFramebuffer) ClearRGB(r, g, b uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pixel := RGB565(r, g, b)
	for i := 0; i+1 < len(f.buf); i += 2 {
		f.buf[i] = byte(pixel)
		f.buf[i+1] = byte(pixel >> 8)
	}
}

// snapshot copies the buffer into dst when a frame newer than seen was
// presented and returns the current frame number.
func (f *hostFramebuffer) snapshot(dst []byte, seen uint64) (uint64, bool) {
	n := f.frames.Load()
	if n == seen {
		return n, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, f.buf)
	return n, true
}

// NewMemoryFramebuffer returns an RGB565 framebuffer backed by memory only.
// It also reports presented frames through a Frames() uint64 method.
func NewMemoryFramebuffer(width, height int) Framebuffer {
	return newHostFramebuffer(width, height)
}
