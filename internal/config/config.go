// Package config loads the daemon's nested, yaml-tagged configuration
// struct with gopkg.in/yaml.v3, covering every environment input that
// affects engine semantics plus the ambient transport/adapter settings
// the engine's capability seams need to be constructed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Engine struct {
		MinPollS          float64 `yaml:"min_poll_s"`
		MaxPollS          float64 `yaml:"max_poll_s"`
		DefaultTimeoutS   float64 `yaml:"default_timeout_s"`
		WakeNotifyTimeoutS int    `yaml:"wake_notify_timeout_s"`
		WakeStatePrefix   string  `yaml:"wake_state_prefix"`
	} `yaml:"engine"`

	DiffGate struct {
		DownsampleWidth int     `yaml:"downsample_width"`
		PixelThreshold  int     `yaml:"pixel_threshold"`
		ChangeRatio     float64 `yaml:"change_ratio"`
	} `yaml:"diff_gate"`

	Capture struct {
		Command string `yaml:"command"`
		TimeoutS float64 `yaml:"timeout_s"`
	} `yaml:"capture"`

	Vision struct {
		Endpoint       string `yaml:"endpoint"`
		TimeoutS       float64 `yaml:"timeout_s"`
		MaxElapsedS    float64 `yaml:"max_elapsed_s"`
	} `yaml:"vision"`

	Notify struct {
		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
	} `yaml:"notify"`

	TaskSink struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"task_sink"`

	Store struct {
		Path              string `yaml:"path"`
		BufferSize        int    `yaml:"buffer_size"`
		FlushIntervalMs   int    `yaml:"flush_interval_ms"`
		CompactIntervalS  int    `yaml:"compact_interval_s"`
	} `yaml:"store"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	API struct {
		Addr string `yaml:"addr"`
	} `yaml:"api"`
}

// Default returns the documented defaults for every section.
func Default() Config {
	var c Config
	c.Engine.MinPollS = 1
	c.Engine.MaxPollS = 10
	c.Engine.DefaultTimeoutS = 60
	c.Engine.WakeNotifyTimeoutS = 10
	c.Engine.WakeStatePrefix = "smart_wait"

	c.DiffGate.DownsampleWidth = 320
	c.DiffGate.PixelThreshold = 10
	c.DiffGate.ChangeRatio = 0.01

	c.Capture.Command = "import"
	c.Capture.TimeoutS = 5

	c.Vision.TimeoutS = 30

	c.Store.Path = "smart-wait.log"
	c.Store.BufferSize = 20
	c.Store.FlushIntervalMs = 10
	c.Store.CompactIntervalS = 3600

	c.Metrics.Addr = ":9091"
	c.API.Addr = ":8870"

	return c
}

// Load reads and parses the YAML config file at path, applying Default()
// first so an omitted section keeps its documented default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// WakeNotifyTimeout is Engine.WakeNotifyTimeoutS as a time.Duration.
func (c Config) WakeNotifyTimeout() time.Duration {
	return time.Duration(c.Engine.WakeNotifyTimeoutS) * time.Second
}

// CaptureTimeout is Capture.TimeoutS as a time.Duration.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutS * float64(time.Second))
}

// VisionMaxElapsed is Vision.MaxElapsedS as a time.Duration.
func (c Config) VisionMaxElapsed() time.Duration {
	return time.Duration(c.Vision.MaxElapsedS * float64(time.Second))
}

// StoreFlushInterval is Store.FlushIntervalMs as a time.Duration.
func (c Config) StoreFlushInterval() time.Duration {
	return time.Duration(c.Store.FlushIntervalMs) * time.Millisecond
}

// CompactInterval is Store.CompactIntervalS as a time.Duration.
func (c Config) CompactInterval() time.Duration {
	return time.Duration(c.Store.CompactIntervalS) * time.Second
}
