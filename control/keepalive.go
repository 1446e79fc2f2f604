// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/transport"
)

// keepAlive submits one frame through the reliable queue at a fixed
// interval. A full queue only skips that beat.
type keepAlive struct {
	dispatcher *Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
	interval   time.Duration
	frame      transport.Frame

	rejectLog rate.Sometimes
}

func (k *keepAlive) run(ctx context.Context) error {
	ticker := k.clock.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := k.dispatcher.SubmitReliable(k.frame); err != nil {
				k.rejectLog.Do(func() {
					k.logger.Warn("keep-alive skipped", "frame", k.frame.String(), "error", err)
				})
			}
		}
	}
}
