package app

import (
	"fmt"

	"spindle/internal/config"
	"spindle/internal/logging"
	"spindle/kernel"
	"spindle/kernel/ksync"
)

// Stats counts workload progress.
type Stats struct {
	Produced         int
	Consumed         int
	ConsumerTimeouts int
	Naps             int
	WorkerSteps      int
	Parks            int
	Signals          int
	Renders          int
}

func (st Stats) String() string {
	return fmt.Sprintf("prod %d cons %d idle %d naps %d work %d parks %d sig %d",
		st.Produced, st.Consumed, st.ConsumerTimeouts, st.Naps, st.WorkerSteps, st.Parks, st.Signals)
}

// workload is the set of demo tasks hosted by a System.
type workload struct {
	log   *logging.Logger
	cfg   config.WorkloadConfig
	sched *kernel.Scheduler
	stats Stats

	items  *ksync.Semaphore
	slots  *ksync.Semaphore
	buffer []int

	signal  *ksync.Blockade
	workers []*kernel.Task

	render func(now kernel.Tick, tasks []kernel.TaskInfo, st Stats)
}

func newWorkload(s *kernel.Scheduler, cfg config.WorkloadConfig, log *logging.Logger) *workload {
	return &workload{
		log:    logging.OrNop(log).Component("workload"),
		cfg:    cfg,
		sched:  s,
		items:  ksync.NewSemaphore(s, 0),
		slots:  ksync.NewSemaphore(s, cfg.Items),
		signal: ksync.NewBlockade(s),
	}
}

func (w *workload) spawn() {
	s := w.sched
	s.Spawn("listener", w.listener, nil, kernel.PriorityUrgent)
	s.Spawn("producer", w.producer, nil, kernel.PriorityHigh)
	s.Spawn("consumer", w.consumer, nil, kernel.PriorityHigh)
	s.Spawn("sleeper", w.sleeper, nil, kernel.PriorityNormal)
	for i := 0; i < w.cfg.Workers; i++ {
		t := s.Spawn(fmt.Sprintf("worker-%d", i), w.worker, i, kernel.PriorityIdle)
		w.workers = append(w.workers, t)
	}
	if len(w.workers) > 0 {
		s.Spawn("supervisor", w.supervisor, nil, kernel.PriorityNormal)
	}
	s.Spawn("status", w.status, nil, kernel.PriorityNormal)
}

// notify is called in kernel context for every signal wakeup.
func (w *workload) notify() { w.signal.Wakeup() }

func (w *workload) listener(ctx *kernel.Context, _ any) {
	for {
		w.signal.Block()
		w.stats.Signals++
		w.log.Info("signal received", "count", w.stats.Signals, "tick", ctx.NowTick())
	}
}

func (w *workload) producer(ctx *kernel.Context, _ any) {
	for n := 0; ; n++ {
		w.slots.Down()
		w.buffer = append(w.buffer, n)
		w.stats.Produced++
		w.items.Up()
		ctx.Sleep(kernel.Duration(w.cfg.SleepTicks/2 + 1))
	}
}

func (w *workload) consumer(ctx *kernel.Context, _ any) {
	for {
		if err := w.items.DownTimeout(kernel.Duration(w.cfg.WaitTicks)); err != nil {
			w.stats.ConsumerTimeouts++
			w.log.Debug("consumer idle", "tick", ctx.NowTick())
			continue
		}
		item := w.buffer[0]
		w.buffer = w.buffer[1:]
		w.stats.Consumed++
		w.slots.Up()
		w.log.Debug("consumed", "item", item)
	}
}

func (w *workload) sleeper(ctx *kernel.Context, _ any) {
	for {
		ctx.Sleep(kernel.Duration(w.cfg.SleepTicks))
		w.stats.Naps++
	}
}

func (w *workload) worker(ctx *kernel.Context, _ any) {
	for {
		if ctx.ShouldPark() {
			w.stats.Parks++
			ctx.Parked()
			continue
		}
		w.stats.WorkerSteps++
		ctx.Sleep(1)
	}
}

// supervisor alternately parks and releases the workers.
func (w *workload) supervisor(ctx *kernel.Context, _ any) {
	for {
		ctx.Sleep(kernel.Duration(w.cfg.SleepTicks * 2))
		for _, t := range w.workers {
			switch {
			case t.Destroyed():
			case t.IsParked():
				t.Unpark()
				t.Unblock()
			case !t.ShouldPark():
				t.Park()
			}
		}
	}
}

func (w *workload) status(ctx *kernel.Context, _ any) {
	for {
		ctx.Sleep(kernel.Duration(w.cfg.StatusEvery))
		w.stats.Renders++
		if w.render != nil {
			w.render(ctx.NowTick(), w.sched.Tasks(), w.stats)
		}
	}
}
