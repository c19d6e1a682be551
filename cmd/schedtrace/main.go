// Command schedtrace replays the reference scheduling scenarios and prints
// what every dispatch did.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"spindle/internal/logging"
	"spindle/kernel"
	"spindle/kernel/bridge"
	"spindle/kernel/ksync"
)

var (
	head = color.New(color.Bold, color.FgCyan).SprintFunc()
	ok   = color.New(color.FgGreen).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
)

type scenario struct {
	name string
	desc string
	run  func(tr *tracer) error
}

var scenarios = []scenario{
	{"priority", "two tasks that yield until done; the higher priority wins every contested round", priorityScenario},
	{"semaphore", "down on an empty semaphore blocks until another task calls up", semaphoreScenario},
	{"timeout", "down with a 10 tick timeout and no up restores the count", timeoutScenario},
	{"bridge", "a second run from the user context is a violation", bridgeScenario},
}

type tracer struct {
	w     io.Writer
	log   *logging.Logger
	steps []string
}

func (tr *tracer) logf(format string, args ...any) {
	tr.steps = append(tr.steps, fmt.Sprintf(format, args...))
	fmt.Fprintf(tr.w, "  %s\n", fmt.Sprintf(format, args...))
}

func main() {
	var verbose bool
	root := &cobra.Command{
		Use:           "schedtrace [scenario...]",
		Short:         "Replay scheduling scenarios and trace each dispatch",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var log *logging.Logger
			if verbose {
				log = logging.NewLogger(logging.LogConfig{Level: "debug", Output: os.Stderr})
			}
			return runScenarios(cmd.OutOrStdout(), args, log)
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "log scheduler internals to stderr")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, bad("error:"), err)
		os.Exit(1)
	}
}

func runScenarios(w io.Writer, names []string, log *logging.Logger) error {
	selected, err := selectScenarios(names)
	if err != nil {
		return err
	}
	var failed []string
	for _, sc := range selected {
		fmt.Fprintf(w, "%s %s\n", head(sc.name), sc.desc)
		tr := &tracer{w: w, log: log}
		if err := sc.run(tr); err != nil {
			fmt.Fprintf(w, "  %s %v\n\n", bad("FAIL"), err)
			failed = append(failed, sc.name)
			continue
		}
		fmt.Fprintf(w, "  %s\n\n", ok("ok"))
	}
	if len(failed) > 0 {
		return fmt.Errorf("scenarios failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func selectScenarios(names []string) ([]scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}
	var out []scenario
	for _, n := range names {
		found := false
		for _, sc := range scenarios {
			if sc.name == n {
				out = append(out, sc)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown scenario %q", n)
		}
	}
	return out, nil
}

func (tr *tracer) scheduler() *kernel.Scheduler {
	return kernel.New(kernel.WithLogger(tr.log))
}

func priorityScenario(tr *tracer) error {
	s := tr.scheduler()
	yielder := func(label string, n int) kernel.Entry {
		return func(ctx *kernel.Context, _ any) {
			for i := 0; i < n; i++ {
				tr.logf("%s runs (yield %d/%d)", label, i+1, n)
				ctx.Schedule()
			}
			tr.logf("%s returns", label)
		}
	}
	s.Spawn("A", yielder("A", 3), nil, kernel.PriorityHigh)
	s.Spawn("B", yielder("B", 1), nil, kernel.PriorityNormal)

	n, err := s.Drain()
	if err != nil {
		return err
	}
	tr.logf("%d dispatches, %d tasks left", n, s.Len())
	if s.Len() != 0 {
		return errors.New("tasks left after drain")
	}
	for i, step := range tr.steps[:4] {
		if !strings.HasPrefix(step, "A ") {
			return fmt.Errorf("step %d ran %q before A finished", i, step)
		}
	}
	return nil
}

func semaphoreScenario(tr *tracer) error {
	s := tr.scheduler()
	sem := ksync.NewSemaphore(s, 0)
	done := false
	s.Spawn("X", func(*kernel.Context, any) {
		tr.logf("X down (count %d)", sem.Count())
		sem.Down()
		tr.logf("X acquired (count %d)", sem.Count())
		done = true
	}, nil, kernel.PriorityHigh)
	s.Spawn("Y", func(*kernel.Context, any) {
		tr.logf("Y up (waiters %d)", sem.Waiters())
		sem.Up()
	}, nil, kernel.PriorityNormal)

	if _, err := s.Drain(); err != nil {
		return err
	}
	if !done {
		return errors.New("X never acquired")
	}
	return nil
}

func timeoutScenario(tr *tracer) error {
	s := tr.scheduler()
	sem := ksync.NewSemaphore(s, 0)
	var result error
	finished := false
	s.Spawn("X", func(ctx *kernel.Context, _ any) {
		tr.logf("X down_timeout(10) at tick %d", ctx.NowTick())
		result = sem.DownTimeout(10)
		tr.logf("X returned %v at tick %d", result, ctx.NowTick())
		finished = true
	}, nil, kernel.PriorityNormal)

	if _, err := s.Drain(); err != nil {
		return err
	}
	timers := s.Timers()
	for tick := kernel.Tick(1); tick <= 10 && !finished; tick++ {
		timers.AdvanceTime(tick)
		if timers.RunExpiredTimers() > 0 {
			tr.logf("timer fired at tick %d", tick)
		}
		if _, err := s.Drain(); err != nil {
			return err
		}
	}
	if !errors.Is(result, kernel.ErrTimedOut) {
		return fmt.Errorf("want timed out, got %v", result)
	}
	if sem.Count() != 0 || sem.Waiters() != 0 {
		return fmt.Errorf("count %d waiters %d after timeout", sem.Count(), sem.Waiters())
	}
	tr.logf("count %d, waiters %d", sem.Count(), sem.Waiters())
	return nil
}

func bridgeScenario(tr *tracer) (err error) {
	b := bridge.New(bridge.WithLogger(tr.log))
	defer func() {
		v, isViolation := kernel.AsViolation(recover())
		if !isViolation {
			err = errors.New("second run was accepted")
			return
		}
		tr.logf("rejected: %s", v.Msg)
		tr.logf("state after violation: %s", b.State())
	}()
	b.Run(func(b *bridge.Bridge, _ any) {
		tr.logf("user context running in %s state", b.State())
		b.Run(func(*bridge.Bridge, any) {}, nil)
	}, nil)
	return nil
}
