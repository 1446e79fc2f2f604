// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/bureau-foundation/armlink/transport"
)

// Priority selects how a frame travels to the bus.
type Priority uint8

const (
	// Realtime frames are latest-wins: a newer submission replaces an
	// unsent one.
	Realtime Priority = iota
	// Reliable frames are queued and sent in submission order.
	Reliable
)

func (p Priority) String() string {
	if p == Reliable {
		return "reliable"
	}
	return "realtime"
}

// ControlFrame is a frame tagged with its delivery class.
type ControlFrame struct {
	transport.Frame
	Priority Priority
}

// realtimeCommand is the unit of overwrite. Frames of one command are
// sent back to back in the same tick. next indexes the first frame not
// yet on the bus; a command restored after a failed send resumes there.
type realtimeCommand struct {
	frames []transport.Frame
	next   int
}

// Dispatcher holds outbound commands between submission and the TX
// worker.
type Dispatcher struct {
	slot     atomic.Pointer[realtimeCommand]
	reliable chan transport.Frame
	wake     chan struct{}

	// pending counts reliable frames accepted and not yet sent or
	// discarded, including the one the TX worker holds. It, not the
	// channel, enforces the capacity.
	pending atomic.Int64

	metrics  *Metrics
	validity *ValidityTracker
	gate     bool
}

func newDispatcher(capacity int, metrics *Metrics, validity *ValidityTracker, gate bool) *Dispatcher {
	return &Dispatcher{
		reliable: make(chan transport.Frame, capacity),
		wake:     make(chan struct{}, 1),
		metrics:  metrics,
		validity: validity,
		gate:     gate,
	}
}

// SubmitRealtime replaces the pending realtime command with frames.
// It never fails because of backpressure; an unsent predecessor is
// dropped and counted as an overwrite. It fails only for malformed
// frames, an empty command, or (with gating) invalid state.
func (d *Dispatcher) SubmitRealtime(frames ...transport.Frame) error {
	if len(frames) == 0 {
		return ErrEmptyCommand
	}
	for _, frame := range frames {
		if err := frame.Validate(); err != nil {
			return err
		}
	}
	if d.gate && !d.validity.IsValid() {
		d.metrics.RealtimeRefused.Add(1)
		return ErrStateInvalid
	}
	command := &realtimeCommand{frames: slices.Clone(frames)}
	if previous := d.slot.Swap(command); previous != nil {
		d.metrics.RealtimeOverwrites.Add(1)
	}
	d.signal()
	return nil
}

// SubmitReliable appends frame to the reliable queue, or returns
// ErrQueueFull without queueing it.
func (d *Dispatcher) SubmitReliable(frame transport.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if d.pending.Add(1) > int64(cap(d.reliable)) {
		d.pending.Add(-1)
		d.metrics.ReliableRejections.Add(1)
		return fmt.Errorf("%w (capacity %d)", ErrQueueFull, cap(d.reliable))
	}
	// Cannot block: the channel never holds more than pending frames.
	d.reliable <- frame
	d.signal()
	return nil
}

// Submit routes frame by its priority.
func (d *Dispatcher) Submit(frame ControlFrame) error {
	if frame.Priority == Reliable {
		return d.SubmitReliable(frame.Frame)
	}
	return d.SubmitRealtime(frame.Frame)
}

// ReliablePending reports the reliable frames not yet sent, counting
// one the TX worker has taken but not managed to send.
func (d *Dispatcher) ReliablePending() int { return int(d.pending.Load()) }

// reliableDone releases the capacity of a frame that was sent or
// discarded.
func (d *Dispatcher) reliableDone() { d.pending.Add(-1) }

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) takeRealtime() *realtimeCommand { return d.slot.Swap(nil) }

// restoreRealtime puts back a command that could not be sent, unless
// a newer one arrived meanwhile.
func (d *Dispatcher) restoreRealtime(command *realtimeCommand) bool {
	return d.slot.CompareAndSwap(nil, command)
}

func (d *Dispatcher) hasRealtime() bool { return d.slot.Load() != nil }

// discard empties both paths and returns the number of reliable frames
// dropped. Called after the TX worker has exited.
func (d *Dispatcher) discard() int {
	d.slot.Store(nil)
	dropped := 0
	for {
		select {
		case <-d.reliable:
			d.reliableDone()
			dropped++
		default:
			return dropped
		}
	}
}
