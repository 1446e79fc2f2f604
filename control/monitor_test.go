// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/testutil"
)

func newTestMonitor(feedbackTimeout, settle time.Duration) (*monitor, *clock.FakeClock) {
	fake := clock.Fake(epoch)
	validity := NewValidityTracker(fake)
	validity.Reset()
	m := &monitor{
		publisher:       NewPublisher(),
		validity:        validity,
		metrics:         &Metrics{},
		clock:           fake,
		logger:          discardLogger(),
		interval:        DefaultMonitorPollInterval,
		feedbackTimeout: feedbackTimeout,
		settleTime:      settle,
	}
	m.connected(epoch)
	return m, fake
}

// healthy returns a snapshot that matches can/enabled, stamped at.
func healthy(at time.Time) robot.Snapshot {
	var snapshot robot.Snapshot
	snapshot.Timestamp = at
	snapshot.Arm = robot.ArmStatus{Control: robot.ControlCAN, UpdatedAt: at}
	for i := range snapshot.Drivers {
		snapshot.Drivers[i].Status = robot.DriverEnabled
		snapshot.Drivers[i].SlowUpdatedAt = at
	}
	return snapshot
}

var enabledCAN = robot.Mode{Control: robot.ControlCAN, Enabled: true}

func TestMonitorHealthyStaysValid(t *testing.T) {
	m, _ := newTestMonitor(DefaultFeedbackTimeout, -1)
	m.validity.SetExpected(enabledCAN)
	m.publisher.Publish(healthy(epoch.Add(40 * time.Millisecond)))

	m.check(epoch.Add(50 * time.Millisecond))
	if !m.validity.IsValid() {
		reason, _ := m.validity.Reason()
		t.Fatalf("healthy snapshot invalidated: %s", reason)
	}
	if m.currentState() != MonitorTracking {
		t.Fatalf("state = %v, want tracking", m.currentState())
	}
	if got := m.validity.Detail().LastCheck; !got.Equal(epoch.Add(50 * time.Millisecond)) {
		t.Fatalf("LastCheck = %v", got)
	}
}

func TestMonitorDetectsSilence(t *testing.T) {
	t.Run("never received", func(t *testing.T) {
		m, _ := newTestMonitor(250*time.Millisecond, -1)
		m.check(epoch.Add(200 * time.Millisecond))
		if !m.validity.IsValid() {
			t.Fatal("invalidated before the feedback timeout")
		}
		m.check(epoch.Add(300 * time.Millisecond))
		reason, ok := m.validity.Reason()
		if !ok || !strings.HasPrefix(reason, "no feedback from arm") {
			t.Fatalf("Reason() = %q, %v", reason, ok)
		}
	})
	t.Run("went quiet", func(t *testing.T) {
		m, _ := newTestMonitor(250*time.Millisecond, -1)
		m.publisher.Publish(healthy(epoch.Add(time.Second)))
		m.check(epoch.Add(1200 * time.Millisecond))
		if !m.validity.IsValid() {
			t.Fatal("invalidated with fresh feedback")
		}
		m.check(epoch.Add(1300 * time.Millisecond))
		if m.validity.IsValid() {
			t.Fatal("silence of 300ms not detected")
		}
	})
	t.Run("disabled", func(t *testing.T) {
		m, _ := newTestMonitor(-1, -1)
		m.check(epoch.Add(time.Hour))
		if !m.validity.IsValid() {
			t.Fatal("disabled timeout invalidated")
		}
	})
}

func TestMonitorDetectsModeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*robot.Snapshot)
		reason string
	}{
		{
			name:   "control mode",
			mutate: func(s *robot.Snapshot) { s.Arm.Control = robot.ControlStandby },
			reason: "control mode is standby, expected can",
		},
		{
			name:   "driver disabled",
			mutate: func(s *robot.Snapshot) { s.Drivers[3].Status = 0 },
			reason: "joint 4 driver disabled, expected enabled",
		},
		{
			name:   "arm fault",
			mutate: func(s *robot.Snapshot) { s.Arm.State = robot.ArmCollision },
			reason: "arm status: collision detected",
		},
		{
			name:   "driver fault",
			mutate: func(s *robot.Snapshot) { s.Drivers[5].Status |= robot.DriverStall },
			reason: "joint 6 driver: stall protection",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, _ := newTestMonitor(-1, -1)
			m.validity.SetExpected(enabledCAN)
			snapshot := healthy(epoch)
			test.mutate(&snapshot)
			m.publisher.Publish(snapshot)

			m.check(epoch.Add(50 * time.Millisecond))
			reason, ok := m.validity.Reason()
			if !ok || reason != test.reason {
				t.Fatalf("Reason() = %q, %v; want %q", reason, ok, test.reason)
			}
			if m.currentState() != MonitorInvalidated {
				t.Fatalf("state = %v, want invalidated", m.currentState())
			}
		})
	}
}

func TestMonitorMoveModeCheckedOnRequest(t *testing.T) {
	m, _ := newTestMonitor(-1, -1)
	m.validity.SetExpected(robot.Mode{Control: robot.ControlCAN, Enabled: true, Move: robot.MoveMIT})
	m.publisher.Publish(healthy(epoch))
	m.check(epoch)
	if !m.validity.IsValid() {
		t.Fatal("move mode compared without CheckMove")
	}

	m.validity.SetExpected(robot.Mode{Control: robot.ControlCAN, Enabled: true, Move: robot.MoveMIT, CheckMove: true})
	m.check(epoch)
	if reason, _ := m.validity.Reason(); reason != "move mode is point, expected mit" {
		t.Fatalf("Reason() = %q", reason)
	}
}

func TestMonitorWaitsForModeToSettle(t *testing.T) {
	m, fake := newTestMonitor(-1, 200*time.Millisecond)
	m.validity.SetExpected(enabledCAN)
	snapshot := healthy(epoch)
	snapshot.Arm.Control = robot.ControlStandby
	m.publisher.Publish(snapshot)

	m.check(fake.Now().Add(100 * time.Millisecond))
	if !m.validity.IsValid() {
		t.Fatal("compared before the settle time")
	}
	m.check(fake.Now().Add(250 * time.Millisecond))
	if m.validity.IsValid() {
		t.Fatal("mismatch not detected after the settle time")
	}
}

func TestMonitorHoldsUntilReset(t *testing.T) {
	m, _ := newTestMonitor(-1, -1)
	m.validity.SetExpected(enabledCAN)
	bad := healthy(epoch)
	bad.Arm.Control = robot.ControlTeach
	m.publisher.Publish(bad)
	m.check(epoch)

	m.publisher.Publish(healthy(epoch))
	m.check(epoch.Add(50 * time.Millisecond))
	if m.validity.IsValid() || m.currentState() != MonitorInvalidated {
		t.Fatal("recovered without a reset")
	}
	if reason, _ := m.validity.Reason(); reason != "control mode is teach, expected can" {
		t.Fatalf("Reason() = %q, want the original cause", reason)
	}

	m.validity.Reset()
	m.check(epoch.Add(100 * time.Millisecond))
	if !m.validity.IsValid() || m.currentState() != MonitorTracking {
		t.Fatal("monitor did not resume tracking after reset")
	}
	if got := m.metrics.Invalidations.Load(); got != 1 {
		t.Fatalf("Invalidations = %d, want 1", got)
	}
}

func TestMonitorLoopDetectsWithinOnePoll(t *testing.T) {
	m, fake := newTestMonitor(-1, -1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.run(ctx)
	}()
	defer func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "monitor did not stop")
	}()

	fake.WaitForTimers(1)
	snapshot := healthy(epoch)
	snapshot.Arm.State = robot.ArmEmergencyStop
	m.publisher.Publish(snapshot)
	fake.Advance(DefaultMonitorPollInterval)

	testutil.RequireClosed(t, m.validity.Invalidated(), 5*time.Second, "monitor did not invalidate within one poll")
}
