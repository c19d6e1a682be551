package kernel

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// Violation describes a broken scheduler contract: an operation called from
// the wrong task, context or state. It is raised with panic and is never
// returned as an error.
type Violation struct {
	Op    string
	Task  TaskID
	Msg   string
	Stack []byte
}

func (v *Violation) Error() string {
	if v.Task != 0 {
		return fmt.Sprintf("kernel: contract violation in %s (task %d): %s", v.Op, v.Task, v.Msg)
	}
	return fmt.Sprintf("kernel: contract violation in %s: %s", v.Op, v.Msg)
}

var (
	faultActive  atomic.Bool
	faultHandler atomic.Value // func(*Violation)
)

// InFaultMode reports whether a contract violation has been raised.
func InFaultMode() bool {
	return faultActive.Load()
}

// SetFaultHandler installs a process-wide fault handler.
//
// The handler runs on the goroutine that detected the violation, before the
// panic is raised. It must not panic.
func SetFaultHandler(fn func(*Violation)) {
	faultHandler.Store(fn)
}

// Fault raises a contract violation. It never returns.
func Fault(op string, task TaskID, format string, args ...any) {
	v := &Violation{
		Op:    op,
		Task:  task,
		Msg:   fmt.Sprintf(format, args...),
		Stack: debug.Stack(),
	}
	faultActive.Store(true)
	if h := faultHandler.Load(); h != nil {
		if fn, ok := h.(func(*Violation)); ok && fn != nil {
			fn(v)
		}
	}
	panic(v)
}

// AsViolation returns the violation carried by a recovered panic value.
func AsViolation(r any) (*Violation, bool) {
	v, ok := r.(*Violation)
	return v, ok
}
