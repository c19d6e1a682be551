//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"spindle/app"
	"spindle/internal/logging"
)

// relaySignals turns SIGUSR1 into a signal wakeup and SIGUSR2 into a
// checkpoint request until ctx is done.
func relaySignals(ctx context.Context, log *logging.Logger, sys *atomic.Pointer[app.System]) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			s := sys.Load()
			if s == nil {
				log.Warn("signal before system start", "signal", sig.String())
				continue
			}
			switch sig {
			case syscall.SIGUSR1:
				s.Signal()
			case syscall.SIGUSR2:
				s.RequestCheckpoint()
			}
		}
	}
}
