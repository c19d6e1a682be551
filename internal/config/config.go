// Package config loads the host runtime configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"spindle/internal/logging"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full runtime configuration.
type Config struct {
	Log       logging.LogConfig `yaml:"log"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Host      HostConfig        `yaml:"host"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Workload  WorkloadConfig    `yaml:"workload"`
}

// SchedulerConfig bounds the kernel.
type SchedulerConfig struct {
	// StackLimit caps live task stacks; 0 means unlimited.
	StackLimit int `yaml:"stack_limit"`
	// QueueSlots is the bridge wakeup queue capacity.
	QueueSlots int `yaml:"queue_slots"`
}

// HostConfig selects and paces the tick driver.
type HostConfig struct {
	Headless bool `yaml:"headless"`
	Hz       int  `yaml:"hz"`
	// Ticks stops the runner after this many ticks; 0 runs until interrupted.
	Ticks uint64 `yaml:"ticks"`
	Scale int    `yaml:"scale"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// WorkloadConfig shapes the demo tasks.
type WorkloadConfig struct {
	Workers     int    `yaml:"workers"`
	Items       int    `yaml:"items"`
	StatusEvery uint64 `yaml:"status_every"`
	SleepTicks  uint64 `yaml:"sleep_ticks"`
	WaitTicks   uint64 `yaml:"wait_ticks"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: logging.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Scheduler: SchedulerConfig{
			StackLimit: 64,
			QueueSlots: 64,
		},
		Host: HostConfig{
			Hz:    100,
			Scale: 2,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Workload: WorkloadConfig{
			Workers:     2,
			Items:       4,
			StatusEvery: 50,
			SleepTicks:  20,
			WaitTicks:   30,
		},
	}
}

// Load reads path over the defaults. A missing or empty file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Scheduler.StackLimit < 0 {
		errs = append(errs, fmt.Errorf("scheduler.stack_limit must be >= 0, got %d", c.Scheduler.StackLimit))
	}
	if c.Scheduler.QueueSlots <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.queue_slots must be > 0, got %d", c.Scheduler.QueueSlots))
	}
	if c.Host.Hz <= 0 || c.Host.Hz > 10000 {
		errs = append(errs, fmt.Errorf("host.hz must be in 1..10000, got %d", c.Host.Hz))
	}
	if c.Host.Scale <= 0 {
		errs = append(errs, fmt.Errorf("host.scale must be > 0, got %d", c.Host.Scale))
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	if c.Workload.Workers < 0 {
		errs = append(errs, fmt.Errorf("workload.workers must be >= 0, got %d", c.Workload.Workers))
	}
	if c.Workload.Items <= 0 {
		errs = append(errs, fmt.Errorf("workload.items must be > 0, got %d", c.Workload.Items))
	}
	if c.Workload.WaitTicks == 0 {
		errs = append(errs, errors.New("workload.wait_ticks must be > 0"))
	}
	if c.Workload.StatusEvery == 0 {
		errs = append(errs, errors.New("workload.status_every must be > 0"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
