package hal

import (
	"context"
	"fmt"
	"time"
)

// StepFunc is called once per host frame after new ticks were emitted.
type StepFunc func() error

// RunConfig paces a host runner.
type RunConfig struct {
	Hz int
	// Ticks stops the runner once this many ticks were emitted; 0 runs until
	// the context is done or the window closes.
	Ticks uint64
	Scale int
	Title string
}

func (cfg RunConfig) withDefaults() RunConfig {
	if cfg.Hz <= 0 {
		cfg.Hz = 100
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 2
	}
	if cfg.Title == "" {
		cfg.Title = "spindle"
	}
	return cfg
}

// RunHeadless drives the app from a wall-clock ticker without opening a
// window.
func RunHeadless(ctx context.Context, newApp func(HAL) StepFunc, cfg RunConfig) error {
	cfg = cfg.withDefaults()

	h := newHost(cfg.Hz)
	step := newApp(h)

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			h.t.step(now)
			if step != nil {
				if err := step(); err != nil {
					return err
				}
			}
			if cfg.Ticks > 0 && h.t.seq >= cfg.Ticks {
				return nil
			}
		}
	}
}
