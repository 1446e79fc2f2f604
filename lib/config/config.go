// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for bench work against a simulator or spare arm.
	Development Environment = "development"
	// Production is for arms doing real work.
	Production Environment = "production"
)

// Bus kinds.
const (
	BusSocketCAN = "socketcan"
	BusGateway   = "gateway"
	BusVirtual   = "virtual"
	BusReplay    = "replay"
)

// Config is the master configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Bus      BusConfig      `yaml:"bus"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Record   RecordConfig   `yaml:"record"`
	Observe  ObserveConfig  `yaml:"observe"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Logging                *LoggingConfig `yaml:"logging,omitempty"`
	Observe                *ObserveConfig `yaml:"observe,omitempty"`
	GateRealtimeOnValidity *bool          `yaml:"gate_realtime_on_validity,omitempty"`
}

// BusConfig selects the CAN adapter.
type BusConfig struct {
	// Kind is socketcan, gateway, virtual or replay.
	Kind string `yaml:"kind"`

	// Interface is the SocketCAN interface name.
	Interface string `yaml:"interface"`

	// Echo keeps kernel loopback of transmitted frames on.
	Echo bool `yaml:"echo"`

	// Address is the gateway device path or tcp://host:port.
	Address string `yaml:"address"`

	// Bitrate is programmed into SLCAN gateways. Default: 1000000
	Bitrate int `yaml:"bitrate"`

	// Simulate runs the arm simulator on the far side of a virtual bus.
	Simulate bool `yaml:"simulate"`

	Replay ReplayConfig `yaml:"replay"`
}

// ReplayConfig configures trace playback.
type ReplayConfig struct {
	Path string `yaml:"path"`
	// Speed scales playback; 0 plays as fast as possible.
	Speed float64 `yaml:"speed"`
	// Hold keeps the bus open after the last frame.
	Hold bool `yaml:"hold"`
}

// PipelineConfig mirrors the control pipeline's knobs. Zero values
// take the pipeline's defaults.
type PipelineConfig struct {
	TimeBudget            Duration `yaml:"time_budget"`
	ReceiveTimeout        Duration `yaml:"receive_timeout"`
	SendTimeout           Duration `yaml:"send_timeout"`
	ReliableQueueCapacity int      `yaml:"reliable_queue_capacity"`
	MonitorPollInterval   Duration `yaml:"monitor_poll_interval"`
	// FeedbackTimeout of a negative duration disables the check.
	FeedbackTimeout        Duration        `yaml:"feedback_timeout"`
	ModeSettleTime         Duration        `yaml:"mode_settle_time"`
	RealtimeRetryAttempts  int             `yaml:"realtime_retry_attempts"`
	RealtimeRetryInterval  Duration        `yaml:"realtime_retry_interval"`
	ShutdownTimeout        Duration        `yaml:"shutdown_timeout"`
	JointLimitTolerance    float64         `yaml:"joint_limit_tolerance"`
	GateRealtimeOnValidity bool            `yaml:"gate_realtime_on_validity"`
	KeepAlive              KeepAliveConfig `yaml:"keepalive"`
}

// KeepAliveConfig configures the periodic keep-alive frame.
type KeepAliveConfig struct {
	// Interval of zero disables the keep-alive.
	Interval Duration `yaml:"interval"`
	ID       uint32   `yaml:"id"`
	// Data is the payload as hex, e.g. "0702".
	Data string `yaml:"data"`
}

// Payload decodes Data.
func (k KeepAliveConfig) Payload() ([]byte, error) {
	payload, err := hex.DecodeString(strings.ReplaceAll(k.Data, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("pipeline.keepalive.data: %w", err)
	}
	if len(payload) > 8 {
		return nil, fmt.Errorf("pipeline.keepalive.data: %d bytes exceeds 8", len(payload))
	}
	return payload, nil
}

// RecordConfig configures trace recording.
type RecordConfig struct {
	// Path enables recording when set.
	Path string `yaml:"path"`
	// Compression is none, lz4 or zstd. Default: lz4
	Compression   string   `yaml:"compression"`
	ChunkFrames   int      `yaml:"chunk_frames"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// ObserveConfig configures the HTTP observation server.
type ObserveConfig struct {
	// Listen enables the server when set, e.g. "127.0.0.1:8470".
	Listen string `yaml:"listen"`
	// EventCapacity is how many recent events are kept for /v1/events.
	EventCapacity int `yaml:"event_capacity"`
	// StreamInterval is the snapshot period on /v1/stream.
	StreamInterval Duration `yaml:"stream_interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text, json or auto. Auto writes text to a terminal
	// and JSON otherwise.
	Format string `yaml:"format"`
}

// Default returns the default configuration, a simulated arm on a
// virtual bus.
func Default() *Config {
	return &Config{
		Environment: Development,
		Bus: BusConfig{
			Kind:     BusVirtual,
			Bitrate:  1_000_000,
			Simulate: true,
		},
		Record: RecordConfig{
			Compression: "lz4",
		},
		Observe: ObserveConfig{
			EventCapacity:  256,
			StreamInterval: Duration(100 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the ARMLINK_CONFIG environment
// variable. There is no fallback: it fails when the variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("ARMLINK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ARMLINK_CONFIG environment variable not set; " +
			"set it to the path of your armlink.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so the stripped document goes
		// through the same decoder and the same field tags.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			gate := true
			overrides = &ConfigOverrides{
				Logging:                &LoggingConfig{Format: "json"},
				GateRealtimeOnValidity: &gate,
			}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}
	if overrides.Observe != nil {
		if overrides.Observe.Listen != "" {
			c.Observe.Listen = overrides.Observe.Listen
		}
		if overrides.Observe.EventCapacity != 0 {
			c.Observe.EventCapacity = overrides.Observe.EventCapacity
		}
		if overrides.Observe.StreamInterval != 0 {
			c.Observe.StreamInterval = overrides.Observe.StreamInterval
		}
	}
	if overrides.GateRealtimeOnValidity != nil {
		c.Pipeline.GateRealtimeOnValidity = *overrides.GateRealtimeOnValidity
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Bus.Interface = expandVars(c.Bus.Interface, vars)
	c.Bus.Address = expandVars(c.Bus.Address, vars)
	c.Bus.Replay.Path = expandVars(c.Bus.Replay.Path, vars)
	c.Record.Path = expandVars(c.Record.Path, vars)
	c.Observe.Listen = expandVars(c.Observe.Listen, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch c.Bus.Kind {
	case BusSocketCAN:
		if c.Bus.Interface == "" {
			errs = append(errs, errors.New("bus.interface is required for socketcan"))
		}
	case BusGateway:
		if c.Bus.Address == "" {
			errs = append(errs, errors.New("bus.address is required for gateway"))
		}
	case BusReplay:
		if c.Bus.Replay.Path == "" {
			errs = append(errs, errors.New("bus.replay.path is required for replay"))
		}
		if c.Bus.Replay.Speed < 0 {
			errs = append(errs, fmt.Errorf("bus.replay.speed must not be negative, got %v", c.Bus.Replay.Speed))
		}
	case BusVirtual:
	default:
		errs = append(errs, fmt.Errorf("invalid bus.kind: %q (want socketcan, gateway, virtual or replay)", c.Bus.Kind))
	}

	durations := []struct {
		name  string
		value Duration
	}{
		{"pipeline.time_budget", c.Pipeline.TimeBudget},
		{"pipeline.receive_timeout", c.Pipeline.ReceiveTimeout},
		{"pipeline.send_timeout", c.Pipeline.SendTimeout},
		{"pipeline.monitor_poll_interval", c.Pipeline.MonitorPollInterval},
		{"pipeline.realtime_retry_interval", c.Pipeline.RealtimeRetryInterval},
		{"pipeline.shutdown_timeout", c.Pipeline.ShutdownTimeout},
		{"pipeline.keepalive.interval", c.Pipeline.KeepAlive.Interval},
		{"record.flush_interval", c.Record.FlushInterval},
		{"observe.stream_interval", c.Observe.StreamInterval},
	}
	for _, field := range durations {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", field.name, field.value))
		}
	}
	if c.Pipeline.ReliableQueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("pipeline.reliable_queue_capacity must not be negative, got %d", c.Pipeline.ReliableQueueCapacity))
	}
	if c.Pipeline.KeepAlive.Interval > 0 {
		if _, err := c.Pipeline.KeepAlive.Payload(); err != nil {
			errs = append(errs, err)
		}
		if c.Pipeline.KeepAlive.ID == 0 || c.Pipeline.KeepAlive.ID > 0x7FF {
			errs = append(errs, fmt.Errorf("pipeline.keepalive.id 0x%X is not a standard identifier", c.Pipeline.KeepAlive.ID))
		}
	}

	switch c.Record.Compression {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("invalid record.compression: %q", c.Record.Compression))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.level: %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json", "auto":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
