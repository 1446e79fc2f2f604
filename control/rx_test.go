// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/testutil"
	"github.com/bureau-foundation/armlink/transport"
)

type receiveResult struct {
	frame transport.Frame
	err   error
}

// scriptedReceiver plays results in order, then reports a lost device.
type scriptedReceiver struct {
	mu      sync.Mutex
	results []receiveResult
}

func (r *scriptedReceiver) Receive(time.Duration) (transport.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return transport.Frame{}, transport.Fatal("receive", transport.ErrDisconnected)
	}
	result := r.results[0]
	r.results = r.results[1:]
	return result.frame, result.err
}

func TestRXBacksOffOnTransientErrorAndStopsOnFatal(t *testing.T) {
	c := clock.Fake(epoch)
	decoder := newTestDecoder()
	worker := &rxWorker{
		rx: &scriptedReceiver{results: []receiveResult{
			{err: errors.New("EIO")},
			{err: transport.ErrTimeout},
			{frame: transport.NewFrame(0x300, nil)},
		}},
		decoder: decoder,
		clock:   c,
		logger:  discardLogger(),
		metrics: decoder.metrics,
		timeout: time.Millisecond,
	}

	exited := make(chan error, 1)
	go func() { exited <- worker.run(context.Background()) }()
	c.WaitForTimers(1)
	c.Advance(rxErrorBackoff)

	err := testutil.RequireReceive(t, exited, 5*time.Second, "waiting for rx worker exit")
	if !transport.IsFatal(err) || !errors.Is(err, transport.ErrDisconnected) {
		t.Fatalf("run returned %v, want the fatal disconnect", err)
	}
	metrics := decoder.metrics
	if got := metrics.DeviceErrors.Load(); got != 2 {
		t.Fatalf("DeviceErrors = %d, want 2 (one transient, one fatal)", got)
	}
	if got := metrics.RXTimeouts.Load(); got != 1 {
		t.Fatalf("RXTimeouts = %d, want 1", got)
	}
	if got := metrics.UnknownFrames.Load(); got != 1 {
		t.Fatalf("UnknownFrames = %d, want 1", got)
	}
}
