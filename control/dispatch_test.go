// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/armlink/lib/testutil"
	"github.com/bureau-foundation/armlink/transport"
)

func TestRealtimeOverwrite(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	for marker := byte(1); marker <= 3; marker++ {
		if err := h.dispatcher.SubmitRealtime(marked(0x155, marker)); err != nil {
			t.Fatalf("SubmitRealtime: %v", err)
		}
	}

	if _, err := h.worker.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := h.bus.markers(); !slices.Equal(got, []byte{3}) {
		t.Fatalf("sent %v, want only the latest command [3]", got)
	}
	if got := h.metrics.RealtimeOverwrites.Load(); got != 2 {
		t.Fatalf("RealtimeOverwrites = %d, want 2", got)
	}
}

func TestRealtimeBatchIsOneUnit(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.dispatcher.SubmitRealtime(marked(0x155, 1), marked(0x156, 2), marked(0x157, 3))
	h.dispatcher.SubmitRealtime(marked(0x155, 4), marked(0x156, 5), marked(0x157, 6))

	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{4, 5, 6}) {
		t.Fatalf("sent %v, want the second batch intact", got)
	}
}

func TestReliableFIFO(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	for marker := byte(1); marker <= 5; marker++ {
		if err := h.dispatcher.SubmitReliable(marked(0x151, marker)); err != nil {
			t.Fatalf("SubmitReliable(%d): %v", marker, err)
		}
	}
	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("sent %v, want submission order", got)
	}
}

func TestReliableBackpressure(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)

	rejected := 0
	for marker := byte(0); marker < 15; marker++ {
		err := h.dispatcher.SubmitReliable(marked(0x151, marker))
		switch {
		case err == nil:
		case errors.Is(err, ErrQueueFull):
			rejected++
		default:
			t.Fatalf("SubmitReliable(%d): %v", marker, err)
		}
	}
	if rejected != 5 {
		t.Fatalf("rejected %d submissions, want 5", rejected)
	}
	if got := h.metrics.ReliableRejections.Load(); got != 5 {
		t.Fatalf("ReliableRejections = %d, want 5", got)
	}
	if got := h.dispatcher.ReliablePending(); got != 10 {
		t.Fatalf("ReliablePending = %d, want 10", got)
	}

	h.worker.tick()
	if got, want := h.bus.markers(), []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}; !slices.Equal(got, want) {
		t.Fatalf("sent %v, want the first ten in order", got)
	}
}

func TestDrainBoundedByBudget(t *testing.T) {
	const cost = 200 * time.Microsecond
	const budget = 500 * time.Microsecond
	h := newTXHarness(cost, budget, 10)
	for marker := byte(0); marker < 10; marker++ {
		h.dispatcher.SubmitReliable(marked(0x151, marker))
	}

	start := h.clock.Now()
	result, err := h.worker.tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	elapsed := h.clock.Now().Sub(start)
	if elapsed > budget+cost {
		t.Fatalf("tick took %v, want at most %v", elapsed, budget+cost)
	}
	if got := h.bus.markers(); !slices.Equal(got, []byte{0, 1, 2}) {
		t.Fatalf("first tick sent %v, want [0 1 2]", got)
	}
	if !result.pending {
		t.Fatal("tick did not report remaining work")
	}
	if got := h.metrics.BudgetExhausted.Load(); got != 1 {
		t.Fatalf("BudgetExhausted = %d, want 1", got)
	}
	if got := h.dispatcher.ReliablePending(); got != 7 {
		t.Fatalf("ReliablePending = %d, want 7 still queued", got)
	}

	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{0, 1, 2, 3, 4, 5}) {
		t.Fatalf("after second tick sent %v, want the queue continued in order", got)
	}
}

func TestHeldFrameCountsAgainstCapacity(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 2)
	h.bus.failNext(transport.ErrBusy)
	h.dispatcher.SubmitReliable(marked(0x151, 1))
	h.dispatcher.SubmitReliable(marked(0x151, 2))

	h.worker.tick()
	if h.worker.head == nil {
		t.Fatal("busy send did not keep the frame at the head")
	}
	if got := h.dispatcher.ReliablePending(); got != 2 {
		t.Fatalf("ReliablePending = %d, want 2 with one frame held", got)
	}
	if err := h.dispatcher.SubmitReliable(marked(0x151, 3)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("SubmitReliable with the head held = %v, want ErrQueueFull", err)
	}

	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{1, 2}) {
		t.Fatalf("sent %v, want [1 2]", got)
	}
	if got := h.dispatcher.ReliablePending(); got != 0 {
		t.Fatalf("ReliablePending = %d after draining, want 0", got)
	}
}

func TestExhaustedBudgetLeavesQueueAtCapacity(t *testing.T) {
	h := newTXHarness(200*time.Microsecond, 100*time.Microsecond, 2)
	accepted := 0
	submit := func(marker byte) {
		if h.dispatcher.SubmitReliable(marked(0x151, marker)) == nil {
			accepted++
		}
	}
	for marker := byte(1); marker <= 3; marker++ {
		submit(marker)
	}
	h.worker.tick()
	if h.worker.head != nil {
		t.Fatal("tick parked a frame at the head after the budget ran out")
	}
	for marker := byte(4); marker <= 8; marker++ {
		submit(marker)
	}

	if accepted != 3 {
		t.Fatalf("accepted %d submissions, want 3", accepted)
	}
	if got := h.dispatcher.ReliablePending(); got != 2 {
		t.Fatalf("ReliablePending = %d, want capacity 2", got)
	}
}

func TestDrainAttemptsOneFrameAfterSlowRealtime(t *testing.T) {
	h := newTXHarness(200*time.Microsecond, 100*time.Microsecond, 10)
	h.dispatcher.SubmitRealtime(marked(0x155, 9))
	h.dispatcher.SubmitReliable(marked(0x151, 1))
	h.dispatcher.SubmitReliable(marked(0x151, 2))

	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{9, 1}) {
		t.Fatalf("sent %v, want realtime then exactly one reliable", got)
	}
}

func TestRealtimeRetriesOnBusy(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.bus.failNext(transport.ErrBusy, transport.ErrBusy)
	h.dispatcher.SubmitRealtime(marked(0x155, 7))

	results := make(chan tickResult, 1)
	go func() {
		result, err := h.worker.tick()
		if err != nil {
			t.Errorf("tick: %v", err)
		}
		results <- result
	}()
	for range 2 {
		h.clock.WaitForTimers(1)
		h.clock.Advance(DefaultRealtimeRetryInterval)
	}
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for tick")

	if result.sent != 1 || result.pending {
		t.Fatalf("tick result %+v, want one frame sent and nothing pending", result)
	}
	if got := h.metrics.TXBusy.Load(); got != 2 {
		t.Fatalf("TXBusy = %d, want 2", got)
	}
	if got := h.metrics.RealtimeSendFailures.Load(); got != 0 {
		t.Fatalf("RealtimeSendFailures = %d, want 0", got)
	}
}

func TestRealtimeGivesUpAndRetriesNextTick(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.bus.failNext(transport.ErrBusy, transport.ErrBusy, transport.ErrBusy)
	h.dispatcher.SubmitRealtime(marked(0x155, 7))

	results := make(chan tickResult, 1)
	go func() {
		result, _ := h.worker.tick()
		results <- result
	}()
	for range DefaultRealtimeRetryAttempts - 1 {
		h.clock.WaitForTimers(1)
		h.clock.Advance(DefaultRealtimeRetryInterval)
	}
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for tick")
	if result.sent != 0 || !result.pending {
		t.Fatalf("tick result %+v, want nothing sent and the command pending", result)
	}
	if got := h.metrics.RealtimeSendFailures.Load(); got != 1 {
		t.Fatalf("RealtimeSendFailures = %d, want 1", got)
	}

	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{7}) {
		t.Fatalf("sent %v, want the restored command", got)
	}
}

func TestRealtimeBatchResumesAtUnsentFrame(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.bus.failNext(nil, transport.ErrBusy, transport.ErrBusy, transport.ErrBusy)
	h.dispatcher.SubmitRealtime(marked(0x155, 1), marked(0x156, 2), marked(0x157, 3))

	results := make(chan tickResult, 1)
	go func() {
		result, _ := h.worker.tick()
		results <- result
	}()
	for range DefaultRealtimeRetryAttempts - 1 {
		h.clock.WaitForTimers(1)
		h.clock.Advance(DefaultRealtimeRetryInterval)
	}
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for tick")
	if result.sent != 1 || !result.pending {
		t.Fatalf("tick result %+v, want one frame sent and the rest pending", result)
	}

	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("sent %v, want each frame of the batch exactly once", got)
	}
	if h.dispatcher.hasRealtime() {
		t.Fatal("completed batch left in the slot")
	}
}

func TestRealtimeSupersededDuringRetry(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.bus.failNext(transport.ErrBusy, transport.ErrBusy, transport.ErrBusy)
	h.dispatcher.SubmitRealtime(marked(0x155, 1))

	results := make(chan tickResult, 1)
	go func() {
		result, _ := h.worker.tick()
		results <- result
	}()
	h.clock.WaitForTimers(1)
	h.dispatcher.SubmitRealtime(marked(0x155, 2))
	h.clock.Advance(DefaultRealtimeRetryInterval)
	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultRealtimeRetryInterval)
	testutil.RequireReceive(t, results, 5*time.Second, "waiting for tick")

	if got := h.metrics.RealtimeSuperseded.Load(); got != 1 {
		t.Fatalf("RealtimeSuperseded = %d, want 1", got)
	}
	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{2}) {
		t.Fatalf("sent %v, want only the newer command", got)
	}
}

func TestReliableTransientFailureKeepsOrder(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.bus.failNext(transport.ErrTimeout)
	h.dispatcher.SubmitReliable(marked(0x151, 1))
	h.dispatcher.SubmitReliable(marked(0x151, 2))

	result, err := h.worker.tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if result.sent != 0 || !result.pending {
		t.Fatalf("tick result %+v, want the head kept for the next tick", result)
	}
	if got := h.metrics.TXTimeouts.Load(); got != 1 {
		t.Fatalf("TXTimeouts = %d, want 1", got)
	}

	h.worker.tick()
	if got := h.bus.markers(); !slices.Equal(got, []byte{1, 2}) {
		t.Fatalf("sent %v, want [1 2]", got)
	}
}

func TestFatalSendEndsTick(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.bus.failNext(transport.Fatal("send", transport.ErrDisconnected))
	h.dispatcher.SubmitReliable(marked(0x151, 1))

	_, err := h.worker.tick()
	if !transport.IsFatal(err) {
		t.Fatalf("tick error = %v, want fatal", err)
	}
	if got := h.metrics.DeviceErrors.Load(); got != 1 {
		t.Fatalf("DeviceErrors = %d, want 1", got)
	}
}

func TestRunSendsOnWakeAndStops(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan error, 1)
	go func() { exited <- h.worker.run(ctx) }()

	h.dispatcher.SubmitReliable(marked(0x151, 4))
	frame := testutil.RequireReceive(t, h.bus.notify, 5*time.Second, "waiting for reliable frame")
	if frame.Data[0] != 4 {
		t.Fatalf("sent %v", frame)
	}
	h.dispatcher.SubmitRealtime(marked(0x155, 5))
	frame = testutil.RequireReceive(t, h.bus.notify, 5*time.Second, "waiting for realtime frame")
	if frame.Data[0] != 5 {
		t.Fatalf("sent %v", frame)
	}

	cancel()
	if err := testutil.RequireReceive(t, exited, 5*time.Second, "waiting for worker exit"); err != nil {
		t.Fatalf("run returned %v, want nil on cancellation", err)
	}
}

func TestSubmitRejectsBadFrames(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	if err := h.dispatcher.SubmitRealtime(); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("empty SubmitRealtime = %v", err)
	}
	bad := transport.Frame{ID: 0x800}
	if err := h.dispatcher.SubmitRealtime(bad); err == nil {
		t.Fatal("SubmitRealtime accepted a 12-bit identifier")
	}
	if err := h.dispatcher.SubmitReliable(bad); err == nil {
		t.Fatal("SubmitReliable accepted a 12-bit identifier")
	}
	if h.dispatcher.ReliablePending() != 0 || h.dispatcher.hasRealtime() {
		t.Fatal("rejected frames were queued")
	}
}

func TestSubmitRoutesByPriority(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.dispatcher.Submit(ControlFrame{Frame: marked(0x151, 1), Priority: Reliable})
	h.dispatcher.Submit(ControlFrame{Frame: marked(0x155, 2), Priority: Realtime})
	if h.dispatcher.ReliablePending() != 1 || !h.dispatcher.hasRealtime() {
		t.Fatal("Submit did not route by priority")
	}
}

func TestGateRealtimeOnValidity(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.dispatcher.gate = true

	if err := h.dispatcher.SubmitRealtime(marked(0x155, 1)); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("SubmitRealtime while invalid = %v, want ErrStateInvalid", err)
	}
	if got := h.metrics.RealtimeRefused.Load(); got != 1 {
		t.Fatalf("RealtimeRefused = %d, want 1", got)
	}
	if err := h.dispatcher.SubmitReliable(marked(0x150, 1)); err != nil {
		t.Fatalf("reliable submission gated: %v", err)
	}

	h.validity.Reset()
	if err := h.dispatcher.SubmitRealtime(marked(0x155, 2)); err != nil {
		t.Fatalf("SubmitRealtime while valid = %v", err)
	}
}

func TestDiscardCountsHeadAndQueue(t *testing.T) {
	h := newTXHarness(0, time.Millisecond, 10)
	h.bus.failNext(transport.ErrBusy)
	for marker := byte(1); marker <= 4; marker++ {
		h.dispatcher.SubmitReliable(marked(0x151, marker))
	}
	h.worker.tick()
	h.dispatcher.SubmitRealtime(marked(0x155, 9))

	dropped := h.worker.discarded() + h.dispatcher.discard()
	if dropped != 4 {
		t.Fatalf("discarded %d reliable frames, want 4", dropped)
	}
	if got := h.dispatcher.ReliablePending(); got != 0 {
		t.Fatalf("ReliablePending = %d after discard, want 0", got)
	}
	if h.dispatcher.hasRealtime() {
		t.Fatal("discard left the realtime slot occupied")
	}
}
