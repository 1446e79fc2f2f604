// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/robot"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource is a Source whose state tests set directly.
type fakeSource struct {
	mu          sync.Mutex
	snapshot    *robot.Snapshot
	validity    control.ValidityDetail
	invalidated chan struct{}
	resets      int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		validity:    control.ValidityDetail{Valid: true},
		invalidated: make(chan struct{}),
	}
}

func (f *fakeSource) SessionID() string { return "session-1" }

func (f *fakeSource) Snapshot() *robot.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeSource) publish(sequence uint64, position float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := &robot.Snapshot{Sequence: sequence, Timestamp: epoch}
	snapshot.Joints.Position[0] = position
	f.snapshot = snapshot
}

func (f *fakeSource) Validity() control.ValidityDetail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validity
}

func (f *fakeSource) Invalidated() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

func (f *fakeSource) invalidate(reason string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.validity.Valid {
		return
	}
	f.validity = control.ValidityDetail{Reason: reason, InvalidatedAt: at}
	close(f.invalidated)
}

func (f *fakeSource) ResetValidity() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	if f.validity.Valid {
		return
	}
	f.validity = control.ValidityDetail{Valid: true}
	f.invalidated = make(chan struct{})
}

func (f *fakeSource) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *fakeSource) MonitorState() control.MonitorState {
	if f.Validity().Valid {
		return control.MonitorTracking
	}
	return control.MonitorInvalidated
}

func (f *fakeSource) Metrics() control.MetricsSnapshot {
	return control.MetricsSnapshot{FramesSent: 12, FramesReceived: 34, ReliablePending: 2}
}
