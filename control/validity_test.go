// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/testutil"
)

func TestValidityStartsInvalid(t *testing.T) {
	tracker := NewValidityTracker(clock.Fake(epoch))
	if tracker.IsValid() {
		t.Fatal("new tracker is valid")
	}
	reason, ok := tracker.Reason()
	if !ok || reason != "not connected" {
		t.Fatalf("Reason() = %q, %v", reason, ok)
	}
	testutil.RequireClosed(t, tracker.Invalidated(), time.Second, "new tracker's Invalidated channel")
}

func TestValidityFirstReasonWins(t *testing.T) {
	tracker := NewValidityTracker(clock.Fake(epoch))
	tracker.Reset()

	if !tracker.Invalidate("joint 2 driver: over-current") {
		t.Fatal("first Invalidate did not report a transition")
	}
	if tracker.Invalidate("arm status: emergency stop") {
		t.Fatal("second Invalidate reported a transition")
	}
	detail := tracker.Detail()
	if detail.Valid || detail.Reason != "joint 2 driver: over-current" {
		t.Fatalf("Detail() = %+v, want the first reason", detail)
	}
	if detail.Repeats != 1 {
		t.Fatalf("Repeats = %d, want 1", detail.Repeats)
	}
	if !detail.InvalidatedAt.Equal(epoch) {
		t.Fatalf("InvalidatedAt = %v, want %v", detail.InvalidatedAt, epoch)
	}
}

func TestValidityResetIsIdempotent(t *testing.T) {
	fake := clock.Fake(epoch)
	tracker := NewValidityTracker(fake)
	tracker.Invalidate("ignored while already invalid")

	if !tracker.Reset() {
		t.Fatal("Reset from invalid did not report a transition")
	}
	first := tracker.Detail()
	fake.Advance(time.Second)
	if tracker.Reset() {
		t.Fatal("Reset while valid reported a transition")
	}
	second := tracker.Detail()
	if first != second {
		t.Fatalf("second Reset changed the record: %+v then %+v", first, second)
	}
	if !tracker.IsValid() {
		t.Fatal("tracker invalid after Reset")
	}
	if _, ok := tracker.Reason(); ok {
		t.Fatal("valid tracker returned a reason")
	}
}

func TestValidityInvalidatedChannel(t *testing.T) {
	tracker := NewValidityTracker(clock.Fake(epoch))
	tracker.Reset()
	channel := tracker.Invalidated()
	select {
	case <-channel:
		t.Fatal("Invalidated closed while valid")
	default:
	}

	tracker.Invalidate("arm status: collision detected")
	testutil.RequireClosed(t, channel, time.Second, "Invalidated after Invalidate")

	tracker.Reset()
	select {
	case <-tracker.Invalidated():
		t.Fatal("Reset did not re-arm Invalidated")
	default:
	}
}

func TestValidityExpectedMode(t *testing.T) {
	tracker := NewValidityTracker(clock.Fake(epoch))
	if tracker.Detail().ExpectedMode != nil {
		t.Fatal("expected mode set before SetExpected")
	}
	mode := robot.Mode{Control: robot.ControlCAN, Enabled: true}
	tracker.SetExpected(mode)
	got, since, ok := tracker.Expected()
	if !ok || got != mode || !since.Equal(epoch) {
		t.Fatalf("Expected() = %v, %v, %v", got, since, ok)
	}
	if detail := tracker.Detail(); detail.ExpectedMode == nil || *detail.ExpectedMode != mode {
		t.Fatalf("Detail().ExpectedMode = %v", detail.ExpectedMode)
	}
}

func TestValidityReasonNeverMissing(t *testing.T) {
	tracker := NewValidityTracker(clock.Fake(epoch))
	tracker.Reset()

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if detail := tracker.Detail(); !detail.Valid && detail.Reason == "" {
					t.Error("invalid detail without a reason")
					return
				}
				if reason, ok := tracker.Reason(); ok && reason == "" {
					t.Error("Reason() returned ok with an empty reason")
					return
				}
			}
		}()
	}
	for range 2000 {
		tracker.Invalidate("flapping")
		tracker.Reset()
	}
	close(stop)
	readers.Wait()
}
