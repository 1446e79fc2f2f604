// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
)

// DefaultWatchInterval is how often a Watcher polls for the state
// becoming valid again. Invalidation itself is noticed immediately.
const DefaultWatchInterval = 50 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Source Source
	Events *EventLog
	Clock  clock.Clock
	Logger *slog.Logger

	// Interval defaults to DefaultWatchInterval.
	Interval time.Duration

	// OnEvent, if set, is called on the watcher goroutine after each
	// event is appended.
	OnEvent func(Event)
}

// Watcher records validity transitions of a Source into an EventLog.
type Watcher struct {
	config WatcherConfig
}

// NewWatcher validates config and returns a Watcher.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Source == nil {
		return nil, errors.New("observe: Source is required")
	}
	if config.Events == nil {
		return nil, errors.New("observe: Events is required")
	}
	if config.Clock == nil {
		return nil, errors.New("observe: Clock is required")
	}
	if config.Logger == nil {
		return nil, errors.New("observe: Logger is required")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultWatchInterval
	}
	return &Watcher{config: config}, nil
}

// Run watches until ctx is cancelled. The initial state counts as a
// transition, so the log always starts with the state the watcher
// first saw.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.config.Clock.NewTicker(w.config.Interval)
	defer ticker.Stop()

	valid := w.check(nil)
	for {
		// The invalidated channel stays closed while invalid, so it is
		// only selected on while the last observation was valid.
		var invalidated <-chan struct{}
		if valid {
			invalidated = w.config.Source.Invalidated()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-invalidated:
		case <-ticker.C:
		}
		valid = w.check(&valid)
	}
}

func (w *Watcher) check(last *bool) bool {
	detail := w.config.Source.Validity()
	if last != nil && *last == detail.Valid {
		return detail.Valid
	}

	event := Event{At: w.config.Clock.Now(), Kind: EventRestored}
	if !detail.Valid {
		event.Kind = EventInvalidated
		event.Reason = detail.Reason
		if !detail.InvalidatedAt.IsZero() {
			event.At = detail.InvalidatedAt
		}
	}
	event = w.config.Events.Append(event)

	if event.Kind == EventInvalidated {
		w.config.Logger.Warn("state invalid", "reason", event.Reason, "sequence", event.Sequence)
	} else {
		w.config.Logger.Info("state valid", "sequence", event.Sequence)
	}
	if w.config.OnEvent != nil {
		w.config.OnEvent(event)
	}
	return detail.Valid
}
