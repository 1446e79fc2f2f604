// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/transport"
)

type txWorker struct {
	dispatcher *Dispatcher
	tx         transport.Transmitter
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *Metrics
	observer   FrameObserver

	budget        time.Duration
	sendTimeout   time.Duration
	retryAttempts int
	retryInterval time.Duration

	// head is a reliable frame taken off the queue that has not been
	// sent yet. It goes out before anything still queued.
	head *transport.Frame

	failureLog rate.Sometimes
}

type tickResult struct {
	sent int
	// pending is set when work remains after the tick.
	pending bool
}

// run ticks until ctx is cancelled or the transmitter fails fatally.
// With nothing to send it blocks on the dispatcher's wake channel.
func (w *txWorker) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		result, err := w.tick()
		if err != nil {
			return err
		}
		if result.pending {
			if result.sent == 0 {
				// Nothing went out: the bus is busy. Back off one retry
				// interval instead of spinning.
				select {
				case <-ctx.Done():
					return nil
				case <-w.clock.After(w.retryInterval):
				}
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.dispatcher.wake:
		}
	}
}

// tick sends the realtime command, if any, then drains reliable frames
// until the queue is empty or the budget is spent. The first reliable
// frame is always attempted so a busy realtime path cannot starve the
// queue; each further frame starts only before the deadline, which
// bounds draining to the budget plus one frame's send time.
func (w *txWorker) tick() (tickResult, error) {
	deadline := w.clock.Now().Add(w.budget)
	var result tickResult

	if command := w.dispatcher.takeRealtime(); command != nil {
		sent, err := w.sendRealtime(command)
		result.sent += sent
		if err != nil {
			return result, err
		}
		if command.next < len(command.frames) && !w.dispatcher.restoreRealtime(command) {
			w.metrics.RealtimeSuperseded.Add(1)
		}
	}

	drained := 0
	for {
		// Checked before taking a frame so an exhausted budget never
		// leaves one parked at the head.
		if drained > 0 && !w.clock.Now().Before(deadline) {
			if w.dispatcher.ReliablePending() > 0 {
				w.metrics.BudgetExhausted.Add(1)
			}
			break
		}
		frame, ok := w.nextReliable()
		if !ok {
			break
		}
		err := w.send(frame)
		if err != nil {
			if transport.IsFatal(err) {
				return result, err
			}
			// Stays at the head for the next tick.
			break
		}
		w.head = nil
		w.dispatcher.reliableDone()
		drained++
	}
	result.sent += drained
	result.pending = w.dispatcher.ReliablePending() > 0 || w.dispatcher.hasRealtime()
	return result, nil
}

// sendRealtime sends the unsent frames of command, retrying transient
// failures, and returns how many went out. If a frame exhausts its
// attempts command.next is left pointing at it.
func (w *txWorker) sendRealtime(command *realtimeCommand) (int, error) {
	sent := 0
	for command.next < len(command.frames) {
		frame := command.frames[command.next]
		for attempt := 1; ; attempt++ {
			err := w.send(frame)
			if err == nil {
				break
			}
			if transport.IsFatal(err) {
				return sent, err
			}
			if attempt >= w.retryAttempts {
				w.metrics.RealtimeSendFailures.Add(1)
				w.failureLog.Do(func() {
					w.logger.Warn("realtime command not sent, will retry next tick",
						"frame", frame.String(),
						"attempts", attempt,
						"error", err,
					)
				})
				return sent, nil
			}
			w.clock.Sleep(w.retryInterval)
		}
		command.next++
		sent++
	}
	return sent, nil
}

func (w *txWorker) nextReliable() (transport.Frame, bool) {
	if w.head != nil {
		return *w.head, true
	}
	select {
	case frame := <-w.dispatcher.reliable:
		w.head = &frame
		return frame, true
	default:
		return transport.Frame{}, false
	}
}

func (w *txWorker) send(frame transport.Frame) error {
	err := w.tx.Send(frame, w.sendTimeout)
	switch {
	case err == nil:
		w.metrics.FramesSent.Add(1)
		if w.observer != nil {
			w.observer.ObserveFrame(DirectionTX, frame)
		}
		return nil
	case transport.IsTimeout(err):
		w.metrics.TXTimeouts.Add(1)
	case isBusy(err):
		w.metrics.TXBusy.Add(1)
	default:
		w.metrics.DeviceErrors.Add(1)
	}
	if transport.IsFatal(err) {
		return fmt.Errorf("send %v: %w", frame, err)
	}
	return err
}

// discarded drops the reliable frame the worker still holds and
// reports how many that was. Only valid after run has returned.
func (w *txWorker) discarded() int {
	if w.head != nil {
		w.head = nil
		w.dispatcher.reliableDone()
		return 1
	}
	return 0
}
