// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay is a [transport.Bus] that plays the received side of
// a recorded trace back to the pipeline, preserving the recorded gaps
// between frames (optionally scaled). Frames the pipeline transmits are
// accepted and counted but go nowhere.
//
// When the trace is exhausted, Receive returns a fatal error wrapping
// [ErrEndOfTrace], which stops the pipeline the same way an unplugged
// adapter would. Set [Config.Hold] to keep the bus open instead.
package replay

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/trace"
	"github.com/bureau-foundation/armlink/transport"
)

// ErrEndOfTrace is wrapped by the fatal error returned after the last
// recorded frame.
var ErrEndOfTrace = errors.New("replay: end of trace")

// Config configures playback.
type Config struct {
	// Speed scales playback: 2 plays twice as fast. Zero or negative
	// plays every frame without waiting.
	Speed float64

	// Hold keeps the bus open after the last frame, returning
	// timeouts, instead of failing.
	Hold bool

	Clock clock.Clock
}

// Bus replays a trace.
type Bus struct {
	reader *trace.Reader
	config Config

	mu sync.Mutex
	// next is the record due after the current one; haveNext says
	// whether it has been read.
	next     trace.Record
	haveNext bool
	ended    bool
	endErr   error
	// origin pairs the first record's time with the wall time it was
	// played, anchoring the schedule.
	recordOrigin time.Time
	playOrigin   time.Time

	closeOnce sync.Once
	closed    chan struct{}

	played atomic.Uint64
	sent   atomic.Uint64
}

// New prepares playback of the trace read by r.
func New(r *trace.Reader, config Config) *Bus {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Bus{reader: r, config: config, closed: make(chan struct{})}
}

// Header returns the trace header.
func (b *Bus) Header() trace.Header { return b.reader.Header() }

// Played reports how many frames have been delivered.
func (b *Bus) Played() uint64 { return b.played.Load() }

// Sent reports how many frames the pipeline transmitted.
func (b *Bus) Sent() uint64 { return b.sent.Load() }

func (b *Bus) RX() transport.Receiver    { return receiver{b} }
func (b *Bus) TX() transport.Transmitter { return transmitter{b} }

func (b *Bus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// peek loads the next received-side record. Called with mu held.
func (b *Bus) peek() bool {
	for !b.haveNext && !b.ended {
		record, err := b.reader.Next()
		if err != nil {
			b.ended = true
			if err != io.EOF {
				b.endErr = err
			}
			return false
		}
		if record.Direction != control.DirectionRX {
			continue
		}
		b.next = record
		b.haveNext = true
	}
	return b.haveNext
}

// due returns when the pending record should be played.
func (b *Bus) due(now time.Time) time.Time {
	if b.config.Speed <= 0 {
		return now
	}
	if b.playOrigin.IsZero() {
		b.recordOrigin = b.next.At
		b.playOrigin = now
	}
	offset := b.next.At.Sub(b.recordOrigin)
	return b.playOrigin.Add(time.Duration(float64(offset) / b.config.Speed))
}

type receiver struct{ bus *Bus }

func (r receiver) Receive(timeout time.Duration) (transport.Frame, error) {
	b := r.bus
	select {
	case <-b.closed:
		return transport.Frame{}, transport.Fatal("receive", transport.ErrClosed)
	default:
	}

	b.mu.Lock()
	if !b.peek() {
		endErr := b.endErr
		b.mu.Unlock()
		if endErr != nil {
			return transport.Frame{}, transport.Fatal("receive", fmt.Errorf("reading trace: %w", endErr))
		}
		if b.config.Hold {
			return transport.Frame{}, r.idle(timeout)
		}
		return transport.Frame{}, transport.Fatal("receive", ErrEndOfTrace)
	}
	now := b.config.Clock.Now()
	wait := b.due(now).Sub(now)
	if wait > timeout {
		b.mu.Unlock()
		return transport.Frame{}, r.idle(timeout)
	}
	record := b.next
	b.haveNext = false
	b.mu.Unlock()

	if wait > 0 {
		select {
		case <-b.config.Clock.After(wait):
		case <-b.closed:
			return transport.Frame{}, transport.Fatal("receive", transport.ErrClosed)
		}
	}
	frame := record.Frame
	frame.Timestamp = b.config.Clock.Now()
	b.played.Add(1)
	return frame, nil
}

// idle waits out timeout and reports a timeout.
func (r receiver) idle(timeout time.Duration) error {
	select {
	case <-r.bus.config.Clock.After(timeout):
		return transport.ErrTimeout
	case <-r.bus.closed:
		return transport.Fatal("receive", transport.ErrClosed)
	}
}

type transmitter struct{ bus *Bus }

func (t transmitter) Send(frame transport.Frame, timeout time.Duration) error {
	select {
	case <-t.bus.closed:
		return transport.Fatal("send", transport.ErrClosed)
	default:
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	t.bus.sent.Add(1)
	return nil
}
