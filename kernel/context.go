package kernel

// Context provides task-local access to kernel operations.
type Context struct {
	t *Task
}

// Task returns the task this context belongs to.
func (c *Context) Task() *Task { return c.t }

// TaskID returns the current task ID.
func (c *Context) TaskID() TaskID { return c.t.id }

// Scheduler returns the owning scheduler.
func (c *Context) Scheduler() *Scheduler { return c.t.sched }

// Arg returns the opaque argument passed at task creation.
func (c *Context) Arg() any { return c.t.arg }

// Schedule yields to the dispatcher without blocking.
func (c *Context) Schedule() { c.t.Schedule() }

// BlockAndSchedule blocks the task and yields until someone unblocks it.
func (c *Context) BlockAndSchedule() { c.t.BlockAndSchedule() }

// Sleep blocks the task for d ticks. It reports true when the task was
// unblocked before the deadline.
func (c *Context) Sleep(d Duration) (woken bool) {
	return c.t.sched.ScheduleTimeout(d) == nil
}

// NowTick returns the current tick of the timeout service.
func (c *Context) NowTick() Tick { return c.t.sched.timers.Now() }

// ShouldPark reports whether another task asked this one to park.
func (c *Context) ShouldPark() bool { return c.t.parkRequested }

// Parked confirms a pending park request and suspends the task.
func (c *Context) Parked() { c.t.Parked() }
