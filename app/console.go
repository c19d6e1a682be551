package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"spindle/kernel"
)

// console prints the task table as text, for runs without a window.
type console struct {
	w       io.Writer
	header  *color.Color
	running *color.Color
	blocked *color.Color
	parked  *color.Color
	fault   *color.Color
}

func newConsole(w io.Writer, colorize bool) *console {
	c := &console{
		w:       w,
		header:  color.New(color.Bold),
		running: color.New(color.FgGreen),
		blocked: color.New(color.FgYellow),
		parked:  color.New(color.FgHiBlack),
		fault:   color.New(color.FgRed, color.Bold),
	}
	for _, col := range []*color.Color{c.header, c.running, c.blocked, c.parked, c.fault} {
		if colorize {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *console) status(now kernel.Tick, tasks []kernel.TaskInfo, st Stats) {
	var b strings.Builder
	b.WriteString(c.header.Sprintf("tick %d  tasks %d\n", now, len(tasks)))
	for _, t := range tasks {
		line := fmt.Sprintf("  %3d %-12s p%d %-8s", t.ID, t.Name, t.Priority, stateLabel(t))
		switch {
		case t.Parked:
			line = c.parked.Sprint(line)
		case t.State == kernel.StateBlocked:
			line = c.blocked.Sprint(line)
		default:
			line = c.running.Sprint(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(fmt.Sprintf("  %s\n", st))
	fmt.Fprint(c.w, b.String())
}

func (c *console) violation(v *kernel.Violation) {
	fmt.Fprintln(c.w, c.fault.Sprint(v.Error()))
}

func stateLabel(t kernel.TaskInfo) string {
	switch {
	case t.Parked:
		return "parked"
	case t.ParkRequested:
		return "parking"
	default:
		return t.State.String()
	}
}

// statusLines formats the task table for the framebuffer.
func statusLines(now kernel.Tick, tasks []kernel.TaskInfo, st Stats) []string {
	lines := []string{
		fmt.Sprintf("spindle  tick %d", now),
		fmt.Sprintf("tasks %d", len(tasks)),
		"",
	}
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("%3d %-12s p%d %s", t.ID, t.Name, t.Priority, stateLabel(t)))
	}
	return append(lines, "", st.String())
}
