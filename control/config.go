// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/transport"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultTimeBudget            = 500 * time.Microsecond
	DefaultReceiveTimeout        = 20 * time.Millisecond
	DefaultSendTimeout           = 5 * time.Millisecond
	DefaultReliableCapacity      = 10
	DefaultMonitorPollInterval   = 50 * time.Millisecond
	DefaultFeedbackTimeout       = 250 * time.Millisecond
	DefaultModeSettleTime        = 200 * time.Millisecond
	DefaultRealtimeRetryAttempts = 3
	DefaultRealtimeRetryInterval = 100 * time.Microsecond
	DefaultShutdownTimeout       = time.Second
	DefaultJointLimitTolerance   = 0.1
)

// Config configures a Pipeline. Bus, Clock and Logger are required;
// zero durations and counts take the defaults above.
type Config struct {
	Bus    transport.Bus
	Clock  clock.Clock
	Logger *slog.Logger

	// TimeBudget bounds how long one TX tick may spend draining
	// reliable frames.
	TimeBudget time.Duration

	ReceiveTimeout time.Duration
	SendTimeout    time.Duration

	// ReliableQueueCapacity bounds the reliable FIFO.
	ReliableQueueCapacity int

	MonitorPollInterval time.Duration

	// FeedbackTimeout is how long the monitor tolerates silence from
	// the arm before declaring it disconnected. Negative disables the
	// check.
	FeedbackTimeout time.Duration

	// ModeSettleTime is how long after ExpectMode the monitor waits
	// before comparing the control mode and enable state. Negative
	// compares immediately.
	ModeSettleTime time.Duration

	// RealtimeRetryAttempts is the number of send attempts for each
	// realtime frame before the command is left for the next tick.
	RealtimeRetryAttempts int
	RealtimeRetryInterval time.Duration

	ShutdownTimeout time.Duration

	// JointLimitTolerance widens the joint limits (radians) before a
	// measured position counts as out of range.
	JointLimitTolerance float64

	// GateRealtimeOnValidity makes SubmitRealtime refuse commands
	// while the state is invalid. Reliable submissions are never gated
	// so recovery and stop commands always get through.
	GateRealtimeOnValidity bool

	// DisableFilter skips programming the feedback identifier filter
	// on receive halves that implement transport.Filterer.
	DisableFilter bool

	KeepAlive KeepAliveConfig

	// SessionID tags every log line and is reported by
	// Pipeline.SessionID. Defaults to a random UUID.
	SessionID string

	// Observer, if set, sees every frame sent and every non-echo frame
	// received. It is called from the worker goroutines and must not
	// block.
	Observer FrameObserver
}

// KeepAliveConfig configures the optional keep-alive worker.
type KeepAliveConfig struct {
	// Interval between keep-alive submissions. Zero disables the
	// worker.
	Interval time.Duration
	// Frame is submitted through the reliable queue at each interval.
	Frame transport.Frame
}

func (c Config) withDefaults() Config {
	if c.TimeBudget == 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ReliableQueueCapacity == 0 {
		c.ReliableQueueCapacity = DefaultReliableCapacity
	}
	if c.MonitorPollInterval == 0 {
		c.MonitorPollInterval = DefaultMonitorPollInterval
	}
	if c.FeedbackTimeout == 0 {
		c.FeedbackTimeout = DefaultFeedbackTimeout
	}
	if c.ModeSettleTime == 0 {
		c.ModeSettleTime = DefaultModeSettleTime
	}
	if c.RealtimeRetryAttempts == 0 {
		c.RealtimeRetryAttempts = DefaultRealtimeRetryAttempts
	}
	if c.RealtimeRetryInterval == 0 {
		c.RealtimeRetryInterval = DefaultRealtimeRetryInterval
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.JointLimitTolerance == 0 {
		c.JointLimitTolerance = DefaultJointLimitTolerance
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.Bus == nil {
		errs = append(errs, errors.New("control: Bus is required"))
	}
	if c.Clock == nil {
		errs = append(errs, errors.New("control: Clock is required"))
	}
	if c.Logger == nil {
		errs = append(errs, errors.New("control: Logger is required"))
	}
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"TimeBudget", c.TimeBudget},
		{"ReceiveTimeout", c.ReceiveTimeout},
		{"SendTimeout", c.SendTimeout},
		{"MonitorPollInterval", c.MonitorPollInterval},
		{"RealtimeRetryInterval", c.RealtimeRetryInterval},
		{"ShutdownTimeout", c.ShutdownTimeout},
	}
	for _, field := range positive {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("control: %s must be positive, got %v", field.name, field.value))
		}
	}
	if c.ReliableQueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("control: ReliableQueueCapacity must be positive, got %d", c.ReliableQueueCapacity))
	}
	if c.RealtimeRetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("control: RealtimeRetryAttempts must be positive, got %d", c.RealtimeRetryAttempts))
	}
	if c.JointLimitTolerance < 0 {
		errs = append(errs, fmt.Errorf("control: JointLimitTolerance must not be negative, got %v", c.JointLimitTolerance))
	}
	if c.KeepAlive.Interval < 0 {
		errs = append(errs, fmt.Errorf("control: KeepAlive.Interval must not be negative, got %v", c.KeepAlive.Interval))
	}
	if c.KeepAlive.Interval > 0 {
		if err := c.KeepAlive.Frame.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("control: KeepAlive.Frame: %w", err))
		}
	}
	return errors.Join(errs...)
}
