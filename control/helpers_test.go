// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/transport"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// fakeTransmitter records sent frames. Each successful send advances
// the fake clock by cost, modelling the time the adapter spends on
// the wire. Queued errors are returned, one per call, before any frame
// is accepted; a nil entry lets that call through.
type fakeTransmitter struct {
	clock *clock.FakeClock
	cost  time.Duration

	mu     sync.Mutex
	errs   []error
	sent   []transport.Frame
	notify chan transport.Frame
}

func newFakeTransmitter(c *clock.FakeClock, cost time.Duration) *fakeTransmitter {
	return &fakeTransmitter{clock: c, cost: cost, notify: make(chan transport.Frame, 64)}
}

func (f *fakeTransmitter) Send(frame transport.Frame, timeout time.Duration) error {
	f.mu.Lock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.sent = append(f.sent, frame)
	f.mu.Unlock()
	if f.cost > 0 {
		f.clock.Advance(f.cost)
	}
	select {
	case f.notify <- frame:
	default:
	}
	return nil
}

func (f *fakeTransmitter) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

// markers returns Data[0] of each sent frame.
func (f *fakeTransmitter) markers() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.sent))
	for i, frame := range f.sent {
		out[i] = frame.Data[0]
	}
	return out
}

// marked builds a frame whose first payload byte identifies it.
func marked(id uint32, marker byte) transport.Frame {
	return transport.NewFrame(id, []byte{marker, 0, 0, 0, 0, 0, 0, 0})
}

type txHarness struct {
	clock      *clock.FakeClock
	bus        *fakeTransmitter
	metrics    *Metrics
	validity   *ValidityTracker
	dispatcher *Dispatcher
	worker     *txWorker
}

func newTXHarness(cost, budget time.Duration, capacity int) *txHarness {
	c := clock.Fake(epoch)
	h := &txHarness{
		clock:    c,
		bus:      newFakeTransmitter(c, cost),
		metrics:  &Metrics{},
		validity: NewValidityTracker(c),
	}
	h.dispatcher = newDispatcher(capacity, h.metrics, h.validity, false)
	h.worker = &txWorker{
		dispatcher:    h.dispatcher,
		tx:            h.bus,
		clock:         c,
		logger:        discardLogger(),
		metrics:       h.metrics,
		budget:        budget,
		sendTimeout:   time.Millisecond,
		retryAttempts: DefaultRealtimeRetryAttempts,
		retryInterval: DefaultRealtimeRetryInterval,
	}
	return h
}
