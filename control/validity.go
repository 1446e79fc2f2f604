// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/robot"
)

// ValidityTracker records whether the decoded state can be trusted.
//
// IsValid is one atomic load and is safe to call from any goroutine
// at any rate. The detail record sits behind a mutex and is only read
// on the cold path. The flag is flipped while the mutex is held and
// after the record is written, so a reader that observes invalid and
// then asks for the reason always gets one.
//
// A new tracker is invalid with the reason "not connected".
type ValidityTracker struct {
	valid atomic.Bool

	mu            sync.Mutex
	reason        string
	invalidatedAt time.Time
	repeats       uint64
	expected      robot.Mode
	hasExpected   bool
	expectedSince time.Time
	lastCheck     time.Time
	invalidated   chan struct{}

	clock clock.Clock
}

// ValidityDetail is a copy of the tracker's record.
type ValidityDetail struct {
	Valid         bool        `json:"valid"`
	Reason        string      `json:"reason,omitempty"`
	InvalidatedAt time.Time   `json:"invalidated_at,omitzero"`
	ExpectedMode  *robot.Mode `json:"expected_mode,omitempty"`
	ExpectedSince time.Time   `json:"expected_since,omitzero"`
	LastCheck     time.Time   `json:"last_check,omitzero"`
	// Repeats counts invalidations reported while already invalid.
	Repeats uint64 `json:"repeats,omitempty"`
}

// NewValidityTracker returns an invalid tracker.
func NewValidityTracker(clk clock.Clock) *ValidityTracker {
	closed := make(chan struct{})
	close(closed)
	return &ValidityTracker{
		reason:        "not connected",
		invalidatedAt: clk.Now(),
		invalidated:   closed,
		clock:         clk,
	}
}

// IsValid reports the fast-path flag.
func (v *ValidityTracker) IsValid() bool { return v.valid.Load() }

// Invalidate marks the state invalid with reason. Only the first
// reason after a reset is kept, so the root cause survives the faults
// that follow from it. Invalidate reports whether this call made the
// transition.
func (v *ValidityTracker) Invalidate(reason string) bool {
	if reason == "" {
		reason = "unspecified"
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.valid.Load() {
		v.repeats++
		return false
	}
	v.reason = reason
	v.invalidatedAt = v.clock.Now()
	v.valid.Store(false)
	close(v.invalidated)
	return true
}

// Reset marks the state valid and clears the reason. Resetting a valid
// tracker changes nothing. Reset reports whether this call made the
// transition.
func (v *ValidityTracker) Reset() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.valid.Load() {
		return false
	}
	v.reason = ""
	v.invalidatedAt = time.Time{}
	v.repeats = 0
	v.invalidated = make(chan struct{})
	v.valid.Store(true)
	return true
}

// Reason returns the invalidation reason, or false while valid.
func (v *ValidityTracker) Reason() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.valid.Load() {
		return "", false
	}
	return v.reason, true
}

// Invalidated returns a channel that is closed when the state becomes
// invalid. While invalid it returns an already closed channel; after a
// reset, a fresh one.
func (v *ValidityTracker) Invalidated() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.invalidated
}

// SetExpected records the mode software has just requested.
func (v *ValidityTracker) SetExpected(mode robot.Mode) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expected = mode
	v.hasExpected = true
	v.expectedSince = v.clock.Now()
}

// Expected returns the expected mode and when it was set.
func (v *ValidityTracker) Expected() (robot.Mode, time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.expected, v.expectedSince, v.hasExpected
}

func (v *ValidityTracker) recordCheck(at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastCheck = at
}

// Detail copies the record.
func (v *ValidityTracker) Detail() ValidityDetail {
	v.mu.Lock()
	defer v.mu.Unlock()
	detail := ValidityDetail{
		Valid:     v.valid.Load(),
		LastCheck: v.lastCheck,
		Repeats:   v.repeats,
	}
	if !detail.Valid {
		detail.Reason = v.reason
		detail.InvalidatedAt = v.invalidatedAt
	}
	if v.hasExpected {
		mode := v.expected
		detail.ExpectedMode = &mode
		detail.ExpectedSince = v.expectedSince
	}
	return detail
}
