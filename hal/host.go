package hal

const (
	hostWidth  = 320
	hostHeight = 240
)

type hostHAL struct {
	fb  *hostFramebuffer
	kbd *hostKeyboard
	t   *hostTime
}

// New returns a host HAL ticking at hz.
func New(hz int) HAL {
	return newHost(hz)
}

func newHost(hz int) *hostHAL {
	return &hostHAL{
		fb:  newHostFramebuffer(hostWidth, hostHeight),
		kbd: newHostKeyboard(),
		t:   newHostTime(hz),
	}
}

func (h *hostHAL) Display() Display { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Input() Input     { return hostInput{kbd: h.kbd} }
func (h *hostHAL) Time() Time       { return h.t }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostInput struct {
	kbd *hostKeyboard
}

func (in hostInput) Keyboard() Keyboard { return in.kbd }
