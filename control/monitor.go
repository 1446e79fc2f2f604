// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/robot"
)

// MonitorState is the state monitor's position in its state machine.
type MonitorState uint8

const (
	// MonitorTracking compares feedback against expectations each
	// poll.
	MonitorTracking MonitorState = iota
	// MonitorInvalidated stops comparing until the tracker is reset.
	MonitorInvalidated
)

func (s MonitorState) String() string {
	if s == MonitorInvalidated {
		return "invalidated"
	}
	return "tracking"
}

type monitor struct {
	publisher *Publisher
	validity  *ValidityTracker
	metrics   *Metrics
	clock     clock.Clock
	logger    *slog.Logger

	interval        time.Duration
	feedbackTimeout time.Duration
	settleTime      time.Duration

	// connectedAt stands in for the last feedback time until the
	// first snapshot is published.
	connectedAt atomic.Pointer[time.Time]
	state       atomic.Uint32
}

func (m *monitor) run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.check(now)
		}
	}
}

func (m *monitor) check(now time.Time) {
	m.validity.recordCheck(now)
	if !m.validity.IsValid() {
		m.state.Store(uint32(MonitorInvalidated))
		return
	}
	m.state.Store(uint32(MonitorTracking))

	reason := m.compare(m.publisher.Load(), now)
	if reason == "" {
		return
	}
	if m.validity.Invalidate(reason) {
		m.metrics.Invalidations.Add(1)
		m.logger.Warn("state invalidated by monitor", "reason", reason)
	}
	m.state.Store(uint32(MonitorInvalidated))
}

// compare returns why snapshot diverges from expectations, or "".
func (m *monitor) compare(snapshot *robot.Snapshot, now time.Time) string {
	if m.feedbackTimeout > 0 {
		last := snapshot.Timestamp
		if last.IsZero() {
			if connected := m.connectedAt.Load(); connected != nil {
				last = *connected
			}
		}
		if !last.IsZero() {
			if silence := now.Sub(last); silence > m.feedbackTimeout {
				return fmt.Sprintf("no feedback from arm for %v", silence.Round(time.Millisecond))
			}
		}
	}

	if snapshot.Arm.UpdatedAt.IsZero() {
		return ""
	}
	if reason := armStatusFault(&snapshot.Arm); reason != "" {
		return reason
	}
	if reason := driverFault(snapshot); reason != "" {
		return reason
	}

	expected, since, ok := m.validity.Expected()
	if !ok {
		return ""
	}
	if m.settleTime > 0 && now.Sub(since) < m.settleTime {
		return ""
	}
	if snapshot.Arm.Control != expected.Control {
		return fmt.Sprintf("control mode is %v, expected %v", snapshot.Arm.Control, expected.Control)
	}
	if expected.CheckMove && snapshot.Arm.Move != expected.Move {
		return fmt.Sprintf("move mode is %v, expected %v", snapshot.Arm.Move, expected.Move)
	}
	for i := range snapshot.Drivers {
		driver := &snapshot.Drivers[i]
		if driver.SlowUpdatedAt.IsZero() {
			continue
		}
		enabled := driver.Status&robot.DriverEnabled != 0
		if enabled != expected.Enabled {
			return fmt.Sprintf("%s driver %s, expected %s", robot.JointName(i), enabledWord(enabled), enabledWord(expected.Enabled))
		}
	}
	return ""
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func (m *monitor) connected(at time.Time) { m.connectedAt.Store(&at) }

func (m *monitor) currentState() MonitorState { return MonitorState(m.state.Load()) }
