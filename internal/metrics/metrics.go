// Package metrics exposes scheduler counters to Prometheus.
//
// A nil *Scheduler is valid and records nothing, so the kernel can be used
// without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spindle"

// Scheduler collects scheduler and bridge metrics.
type Scheduler struct {
	dispatches     prometheus.Counter
	idle           prometheus.Counter
	tasks          prometheus.Gauge
	timersFired    prometheus.Counter
	timedOut       prometheus.Counter
	stackExhausted prometheus.Counter
	wakeups        *prometheus.CounterVec
	violations     *prometheus.CounterVec
}

// NewScheduler creates the collectors and registers them with reg.
func NewScheduler(reg prometheus.Registerer) *Scheduler {
	m := &Scheduler{
		dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sched",
			Name:      "dispatches_total",
			Help:      "Dispatch calls that ran a task.",
		}),
		idle: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sched",
			Name:      "idle_dispatches_total",
			Help:      "Dispatch calls that found no runnable task.",
		}),
		tasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sched",
			Name:      "tasks",
			Help:      "Tasks currently registered.",
		}),
		timersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timers",
			Name:      "fired_total",
			Help:      "Timeouts that reached their deadline.",
		}),
		timedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timers",
			Name:      "timed_out_waits_total",
			Help:      "Timed waits that ended with a timeout.",
		}),
		stackExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sched",
			Name:      "stack_exhausted_total",
			Help:      "Task activations refused for lack of stack budget.",
		}),
		wakeups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "wakeups_total",
			Help:      "Wakeups delivered to the kernel/user bridge by source.",
		}, []string{"source"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sched",
			Name:      "violations_total",
			Help:      "Contract violations by operation.",
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.dispatches,
			m.idle,
			m.tasks,
			m.timersFired,
			m.timedOut,
			m.stackExhausted,
			m.wakeups,
			m.violations,
		)
	}
	return m
}

func (m *Scheduler) Dispatched() {
	if m != nil {
		m.dispatches.Inc()
	}
}

func (m *Scheduler) Idle() {
	if m != nil {
		m.idle.Inc()
	}
}

func (m *Scheduler) SetTasks(n int) {
	if m != nil {
		m.tasks.Set(float64(n))
	}
}

func (m *Scheduler) TimersFired(n int) {
	if m != nil && n > 0 {
		m.timersFired.Add(float64(n))
	}
}

func (m *Scheduler) TimedOut() {
	if m != nil {
		m.timedOut.Inc()
	}
}

func (m *Scheduler) StackExhausted() {
	if m != nil {
		m.stackExhausted.Inc()
	}
}

func (m *Scheduler) Wakeup(source string) {
	if m != nil {
		m.wakeups.WithLabelValues(source).Inc()
	}
}

func (m *Scheduler) Violation(op string) {
	if m != nil {
		m.violations.WithLabelValues(op).Inc()
	}
}
