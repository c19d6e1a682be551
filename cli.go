package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"spindle/internal/buildinfo"
	"spindle/internal/config"
)

var (
	red   = color.New(color.FgRed).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
)

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type runFlags struct {
	configPath  string
	headless    bool
	hz          int
	ticks       uint64
	scale       int
	stackLimit  int
	workers     int
	logLevel    string
	logFormat   string
	metrics     bool
	metricsAddr string
	console     bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "spindle",
		Short:         "Cooperative task scheduler host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler workload in a window or headless",
		Long: `Run hosts the scheduler behind the kernel/user bridge and drives it
from a tick stream.

  spindle run                      # window, 100 Hz
  spindle run --headless --ticks 500
  spindle run --headless --metrics --metrics-addr :9464

Headless runs react to SIGUSR1 (signal wakeup) and SIGUSR2 (checkpoint).
In a window, Space/Enter send a signal and F2 requests a checkpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f.console || (cfg.Host.Headless && isTTY()))
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fl.BoolVar(&f.headless, "headless", false, "run without a window")
	fl.IntVar(&f.hz, "hz", 0, "tick rate")
	fl.Uint64Var(&f.ticks, "ticks", 0, "stop after N ticks (0 = run until interrupted)")
	fl.IntVar(&f.scale, "scale", 0, "window scale")
	fl.IntVar(&f.stackLimit, "stack-limit", 0, "maximum live task stacks (0 = unlimited)")
	fl.IntVar(&f.workers, "workers", 0, "number of idle-priority worker tasks")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fl.StringVar(&f.logFormat, "log-format", "", "text or json")
	fl.BoolVar(&f.metrics, "metrics", false, "serve Prometheus metrics")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "metrics listen address")
	fl.BoolVar(&f.console, "console", false, "print the task table to stdout")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "YAML config file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spindle %s\n", green(buildinfo.String()))
		},
	}
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, f runFlags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	fl := cmd.Flags()
	if fl.Changed("headless") {
		cfg.Host.Headless = f.headless
	}
	if fl.Changed("hz") {
		cfg.Host.Hz = f.hz
	}
	if fl.Changed("ticks") {
		cfg.Host.Ticks = f.ticks
	}
	if fl.Changed("scale") {
		cfg.Host.Scale = f.scale
	}
	if fl.Changed("stack-limit") {
		cfg.Scheduler.StackLimit = f.stackLimit
	}
	if fl.Changed("workers") {
		cfg.Workload.Workers = f.workers
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if fl.Changed("metrics") {
		cfg.Metrics.Enabled = f.metrics
	}
	if fl.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
