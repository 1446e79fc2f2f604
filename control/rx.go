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

// rxErrorBackoff is the pause after a transient receive error, so a
// device stuck returning errors does not spin the worker.
const rxErrorBackoff = time.Millisecond

type rxWorker struct {
	rx       transport.Receiver
	decoder  *decoder
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics
	observer FrameObserver
	timeout  time.Duration

	errorLog rate.Sometimes
}

// run receives until ctx is cancelled or the receiver fails fatally.
func (w *rxWorker) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := w.rx.Receive(w.timeout)
		if err != nil {
			switch {
			case transport.IsTimeout(err):
				w.metrics.RXTimeouts.Add(1)
			case transport.IsTransient(err):
				w.metrics.DeviceErrors.Add(1)
				w.errorLog.Do(func() {
					w.logger.Warn("transient receive error", "error", err)
				})
				select {
				case <-ctx.Done():
					return nil
				case <-w.clock.After(rxErrorBackoff):
				}
			default:
				w.metrics.DeviceErrors.Add(1)
				return fmt.Errorf("receive: %w", err)
			}
			continue
		}

		w.metrics.FramesReceived.Add(1)
		if frame.IsEcho() {
			w.metrics.EchoFiltered.Add(1)
			continue
		}
		if w.observer != nil {
			w.observer.ObserveFrame(DirectionRX, frame)
		}
		w.decoder.apply(frame)
	}
}
