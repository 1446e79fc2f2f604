// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/testutil"
)

func sequences(events []Event) []uint64 {
	result := make([]uint64, len(events))
	for i, event := range events {
		result[i] = event.Sequence
	}
	return result
}

func TestEventLogSince(t *testing.T) {
	log := NewEventLog(4)
	if got := log.Since(0); got != nil {
		t.Fatalf("empty log returned %v", got)
	}

	for i := 0; i < 3; i++ {
		log.Append(Event{Kind: EventInvalidated})
	}
	if got := sequences(log.Since(0)); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("Since(0) = %v, want [1 2 3]", got)
	}
	if got := sequences(log.Since(2)); len(got) != 1 || got[0] != 3 {
		t.Errorf("Since(2) = %v, want [3]", got)
	}
	if got := log.Since(3); got != nil {
		t.Errorf("Since(latest) = %v, want nil", got)
	}
}

func TestEventLogWraps(t *testing.T) {
	log := NewEventLog(4)
	for i := 0; i < 10; i++ {
		log.Append(Event{Kind: EventRestored})
	}
	if log.Latest() != 10 {
		t.Fatalf("Latest = %d, want 10", log.Latest())
	}

	// A caller that fell behind gets everything retained.
	got := sequences(log.Since(1))
	want := []uint64{7, 8, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("Since(1) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Since(1) = %v, want %v", got, want)
		}
	}
	if got := sequences(log.Since(8)); len(got) != 2 || got[0] != 9 {
		t.Errorf("Since(8) = %v, want [9 10]", got)
	}
}

func TestWatcherRecordsTransitions(t *testing.T) {
	source := newFakeSource()
	fake := clock.Fake(epoch)
	log := NewEventLog(16)
	seen := make(chan Event, 8)

	watcher, err := NewWatcher(WatcherConfig{
		Source:   source,
		Events:   log,
		Clock:    fake,
		Logger:   discardLogger(),
		Interval: 10 * time.Millisecond,
		OnEvent:  func(event Event) { seen <- event },
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		watcher.Run(ctx)
	}()
	defer func() {
		cancel()
		testutil.RequireClosed(t, done, time.Second, "watcher did not stop")
	}()

	initial := testutil.RequireReceive(t, seen, time.Second, "initial state")
	if initial.Kind != EventRestored || initial.Sequence != 1 {
		t.Errorf("initial event = %+v", initial)
	}

	// Invalidation is picked up from the channel without a tick.
	invalidatedAt := epoch.Add(time.Second)
	source.invalidate("no feedback from arm", invalidatedAt)
	event := testutil.RequireReceive(t, seen, time.Second, "invalidation")
	if event.Kind != EventInvalidated || event.Reason != "no feedback from arm" {
		t.Errorf("event = %+v", event)
	}
	if !event.At.Equal(invalidatedAt) {
		t.Errorf("event at %v, want %v", event.At, invalidatedAt)
	}

	source.ResetValidity()
	fake.WaitForTimers(1)
	fake.Advance(10 * time.Millisecond)
	event = testutil.RequireReceive(t, seen, time.Second, "restoration")
	if event.Kind != EventRestored || event.Sequence != 3 {
		t.Errorf("event = %+v", event)
	}
	if log.Latest() != 3 {
		t.Errorf("log holds %d events, want 3", log.Latest())
	}
}

func TestNewWatcherRequiresCollaborators(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{}); err == nil {
		t.Error("expected error without a source")
	}
	if _, err := NewWatcher(WatcherConfig{Source: newFakeSource(), Events: NewEventLog(1), Clock: clock.Fake(epoch)}); err == nil {
		t.Error("expected error without a logger")
	}
}
