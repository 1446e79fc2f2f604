// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/wire"
	"github.com/bureau-foundation/armlink/transport"
)

// logInterval throttles repetitive warnings from the workers.
const logInterval = 5 * time.Second

// Pipeline runs the command and feedback workers over one bus.
type Pipeline struct {
	config    Config
	sessionID string
	logger    *slog.Logger

	metrics    *Metrics
	validity   *ValidityTracker
	publisher  *Publisher
	dispatcher *Dispatcher

	tx        *txWorker
	rx        *rxWorker
	monitor   *monitor
	keepAlive *keepAlive

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	workers sync.WaitGroup
	done    chan struct{}

	failOnce sync.Once
	err      error
}

// New validates config and builds a stopped pipeline.
func New(config Config) (*Pipeline, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := config.Logger.With("session", sessionID)
	metrics := &Metrics{}
	validity := NewValidityTracker(config.Clock)
	publisher := NewPublisher()
	dispatcher := newDispatcher(config.ReliableQueueCapacity, metrics, validity, config.GateRealtimeOnValidity)

	p := &Pipeline{
		config:     config,
		sessionID:  sessionID,
		logger:     logger,
		metrics:    metrics,
		validity:   validity,
		publisher:  publisher,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}
	p.tx = &txWorker{
		dispatcher:    dispatcher,
		tx:            config.Bus.TX(),
		clock:         config.Clock,
		logger:        logger.With("worker", "tx"),
		metrics:       metrics,
		observer:      config.Observer,
		budget:        config.TimeBudget,
		sendTimeout:   config.SendTimeout,
		retryAttempts: config.RealtimeRetryAttempts,
		retryInterval: config.RealtimeRetryInterval,
		failureLog:    rate.Sometimes{First: 1, Interval: logInterval},
	}
	p.rx = &rxWorker{
		rx: config.Bus.RX(),
		decoder: &decoder{
			publisher:      publisher,
			validity:       validity,
			metrics:        metrics,
			logger:         logger.With("worker", "rx"),
			limitTolerance: config.JointLimitTolerance,
			malformedLog:   rate.Sometimes{First: 1, Interval: logInterval},
		},
		clock:    config.Clock,
		logger:   logger.With("worker", "rx"),
		metrics:  metrics,
		observer: config.Observer,
		timeout:  config.ReceiveTimeout,
		errorLog: rate.Sometimes{First: 1, Interval: logInterval},
	}
	p.monitor = &monitor{
		publisher:       publisher,
		validity:        validity,
		metrics:         metrics,
		clock:           config.Clock,
		logger:          logger.With("worker", "monitor"),
		interval:        config.MonitorPollInterval,
		feedbackTimeout: config.FeedbackTimeout,
		settleTime:      config.ModeSettleTime,
	}
	if config.KeepAlive.Interval > 0 {
		p.keepAlive = &keepAlive{
			dispatcher: dispatcher,
			clock:      config.Clock,
			logger:     logger.With("worker", "keepalive"),
			interval:   config.KeepAlive.Interval,
			frame:      config.KeepAlive.Frame,
			rejectLog:  rate.Sometimes{First: 1, Interval: logInterval},
		}
	}
	return p, nil
}

// Start programs the receive filter, marks the state valid and starts
// the workers. The workers stop when ctx is cancelled, when Stop is
// called, or when the bus fails fatally.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	if filterer, ok := p.config.Bus.RX().(transport.Filterer); ok && !p.config.DisableFilter {
		if err := filterer.SetFilter(wire.FeedbackRanges()); err != nil {
			p.logger.Warn("receive filter not programmed, decoding all identifiers", "error", err)
		}
	}

	p.monitor.connected(p.config.Clock.Now())
	p.validity.Reset()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.spawn(ctx, "tx", p.tx.run)
	p.spawn(ctx, "rx", p.rx.run)
	p.spawn(ctx, "monitor", p.monitor.run)
	if p.keepAlive != nil {
		p.spawn(ctx, "keepalive", p.keepAlive.run)
	}
	go func() {
		p.workers.Wait()
		close(p.done)
	}()

	p.logger.Info("pipeline started",
		"time_budget", p.config.TimeBudget,
		"reliable_capacity", p.config.ReliableQueueCapacity,
		"monitor_interval", p.config.MonitorPollInterval,
		"keepalive", p.config.KeepAlive.Interval,
	)
	return nil
}

func (p *Pipeline) spawn(ctx context.Context, name string, run func(context.Context) error) {
	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		if err := run(ctx); err != nil {
			p.fail(name, err)
		}
	}()
}

// fail records the first fatal worker error and stops the rest.
func (p *Pipeline) fail(worker string, err error) {
	p.failOnce.Do(func() {
		p.err = fmt.Errorf("%s worker: %w", worker, err)
		if p.validity.Invalidate("bus failure: " + err.Error()) {
			p.metrics.Invalidations.Add(1)
		}
		p.logger.Error("pipeline worker failed", "worker", worker, "error", err)
		p.cancel()
	})
}

// Stop cancels the workers and waits up to the shutdown timeout for
// them to exit. Reliable frames still queued are discarded and counted.
// Stop on a pipeline that was never started, or twice, returns nil.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	p.cancel()

	select {
	case <-p.done:
	case <-p.config.Clock.After(p.config.ShutdownTimeout):
		p.logger.Error("pipeline workers did not stop", "timeout", p.config.ShutdownTimeout)
		return ErrShutdownTimeout
	}

	dropped := p.tx.discarded() + p.dispatcher.discard()
	p.metrics.ReliableDiscarded.Add(uint64(dropped))
	if p.validity.Invalidate("pipeline stopped") {
		p.metrics.Invalidations.Add(1)
	}
	p.logger.Info("pipeline stopped",
		"reliable_discarded", dropped,
		"frames_sent", p.metrics.FramesSent.Load(),
		"frames_received", p.metrics.FramesReceived.Load(),
	)
	return nil
}

// Done is closed once every worker has exited, whether through Stop,
// context cancellation or a fatal bus error.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err returns the fatal error that stopped the pipeline, if any.
// Meaningful after Done is closed.
func (p *Pipeline) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// SessionID identifies this pipeline instance in logs and traces.
func (p *Pipeline) SessionID() string { return p.sessionID }

// SubmitRealtime replaces the pending realtime command. See
// Dispatcher.SubmitRealtime.
func (p *Pipeline) SubmitRealtime(frames ...transport.Frame) error {
	return p.dispatcher.SubmitRealtime(frames...)
}

// SubmitReliable queues frame for in-order delivery, or returns
// ErrQueueFull.
func (p *Pipeline) SubmitReliable(frame transport.Frame) error {
	return p.dispatcher.SubmitReliable(frame)
}

// Submit routes frame by its priority.
func (p *Pipeline) Submit(frame ControlFrame) error {
	return p.dispatcher.Submit(frame)
}

// SubmitCommand encodes command and submits its frames with the given
// priority. Multi-frame reliable commands are queued frame by frame and
// may be partially queued if the queue fills.
func (p *Pipeline) SubmitCommand(command wire.Command, priority Priority) error {
	frames, err := command.Frames()
	if err != nil {
		return err
	}
	if priority == Realtime {
		return p.dispatcher.SubmitRealtime(frames...)
	}
	for i, frame := range frames {
		if err := p.dispatcher.SubmitReliable(frame); err != nil {
			return fmt.Errorf("frame %d of %d: %w", i+1, len(frames), err)
		}
	}
	return nil
}

// Snapshot returns the latest published state. Never blocks.
func (p *Pipeline) Snapshot() *robot.Snapshot { return p.publisher.Load() }

// IsValid reports whether hardware state matches expectations.
func (p *Pipeline) IsValid() bool { return p.validity.IsValid() }

// InvalidReason returns why the state is invalid, or false while
// valid.
func (p *Pipeline) InvalidReason() (string, bool) { return p.validity.Reason() }

// Validity returns the full validity record.
func (p *Pipeline) Validity() ValidityDetail { return p.validity.Detail() }

// Invalidated returns a channel closed when the state becomes invalid.
func (p *Pipeline) Invalidated() <-chan struct{} { return p.validity.Invalidated() }

// ExpectMode records the mode the caller has just requested from the
// arm. The monitor starts comparing after the mode settle time.
func (p *Pipeline) ExpectMode(mode robot.Mode) {
	p.validity.SetExpected(mode)
	p.logger.Info("expected mode set", "mode", mode.String())
}

// ResetValidity marks the state valid again after the caller has
// resolved the cause. Calling it while valid does nothing.
func (p *Pipeline) ResetValidity() {
	if p.validity.Reset() {
		p.logger.Info("validity reset")
	}
}

// MonitorState reports whether the monitor is tracking or holding an
// invalidation.
func (p *Pipeline) MonitorState() MonitorState { return p.monitor.currentState() }

// Metrics returns a copy of the counters.
func (p *Pipeline) Metrics() MetricsSnapshot {
	snapshot := p.metrics.Snapshot()
	snapshot.ReliablePending = p.dispatcher.ReliablePending()
	return snapshot
}
