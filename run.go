package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"spindle/app"
	"spindle/hal"
	"spindle/internal/buildinfo"
	"spindle/internal/config"
	"spindle/internal/logging"
	"spindle/internal/metrics"
	"spindle/kernel"
)

// run hosts one System until the tick limit, an interrupt or a violation.
//
// The hal runner stays on the calling goroutine because the window backend
// must own the main thread. The metrics server and the signal relay run
// beside it in an errgroup.
func run(parent context.Context, cfg config.Config, console bool) error {
	cfg.Log.Output = os.Stderr
	log := logging.NewLogger(cfg.Log)
	log.Info("starting", "version", buildinfo.Short(), "headless", cfg.Host.Headless, "hz", cfg.Host.Hz)

	kernel.SetFaultHandler(func(v *kernel.Violation) {
		log.Debug("violation stack", "op", v.Op, "stack", string(v.Stack))
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Scheduler
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewScheduler(reg)
	}

	opts := app.Options{
		Log:         log,
		Metrics:     m,
		Scheduler:   cfg.Scheduler,
		Workload:    cfg.Workload,
		HoldOnFault: !cfg.Host.Headless,
	}
	if console {
		opts.Console = os.Stdout
		opts.Color = isTTY()
	}

	var sys atomic.Pointer[app.System]
	newApp := func(h hal.HAL) hal.StepFunc {
		s := app.New(h, opts)
		sys.Store(s)
		return s.Step
	}

	g, gctx := errgroup.WithContext(ctx)
	if reg != nil {
		serveMetrics(gctx, g, log, cfg.Metrics.Addr, reg)
	}
	g.Go(func() error {
		relaySignals(gctx, log, &sys)
		return nil
	})

	rc := hal.RunConfig{Hz: cfg.Host.Hz, Ticks: cfg.Host.Ticks, Scale: cfg.Host.Scale}
	var runErr error
	if cfg.Host.Headless {
		runErr = hal.RunHeadless(gctx, newApp, rc)
	} else {
		runErr = hal.RunWindow(gctx, newApp, rc)
	}
	stop()
	groupErr := g.Wait()

	if s := sys.Load(); s != nil {
		if v := s.Fault(); v != nil {
			log.Error("stopped after violation", "op", v.Op, "msg", v.Msg)
		} else {
			log.Info("stopped", "tick", s.Scheduler().Timers().Now(), "stats", s.Stats().String())
			s.Shutdown()
		}
	}
	if errors.Is(runErr, app.ErrHalted) {
		return runErr
	}
	return errors.Join(runErr, groupErr)
}

func serveMetrics(ctx context.Context, g *errgroup.Group, log *logging.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
