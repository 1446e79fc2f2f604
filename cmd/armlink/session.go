// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/config"
	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/sim"
	"github.com/bureau-foundation/armlink/lib/trace"
	"github.com/bureau-foundation/armlink/lib/version"
	"github.com/bureau-foundation/armlink/lib/wire"
	"github.com/bureau-foundation/armlink/observe"
	"github.com/bureau-foundation/armlink/transport"
	"github.com/bureau-foundation/armlink/transport/gateway"
	"github.com/bureau-foundation/armlink/transport/replay"
	"github.com/bureau-foundation/armlink/transport/socketcan"
)

// session is one pipeline over one bus plus whatever runs beside it:
// the simulator behind a virtual bus, the trace recorder, the validity
// watcher and the HTTP observer. Background workers share an errgroup,
// so a failing recorder or server stops the pipeline too.
type session struct {
	config *config.Config
	logger *slog.Logger
	clock  clock.Clock
	id     string

	bus      transport.Bus
	arm      *sim.Arm
	replay   *replay.Bus
	recorder *trace.Recorder
	events   *observe.EventLog
	pipeline *control.Pipeline

	group  *errgroup.Group
	cancel context.CancelFunc
	// closers run in reverse order at stop.
	closers []func() error
}

// sessionOptions adjust a session for one command.
type sessionOptions struct {
	// onEvent sees every validity transition.
	onEvent func(observe.Event)
}

func startSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, options sessionOptions) (*session, error) {
	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	s := &session{
		config: cfg,
		logger: logger,
		clock:  clock.Real(),
		id:     uuid.NewString(),
		events: observe.NewEventLog(cfg.Observe.EventCapacity),
		group:  group,
		cancel: cancel,
	}
	if err := s.start(ctx, options); err != nil {
		s.stop()
		return nil, err
	}
	return s, nil
}

func (s *session) start(ctx context.Context, options sessionOptions) error {
	if err := s.openBus(ctx); err != nil {
		return err
	}

	var observer control.FrameObserver
	if s.config.Record.Path != "" {
		if err := s.openRecorder(ctx); err != nil {
			return err
		}
		observer = s.recorder
	}

	controlConfig, err := pipelineConfig(s.config.Pipeline)
	if err != nil {
		return err
	}
	controlConfig.Bus = s.bus
	controlConfig.Clock = s.clock
	controlConfig.Logger = s.logger
	controlConfig.SessionID = s.id
	controlConfig.Observer = observer
	s.pipeline, err = control.New(controlConfig)
	if err != nil {
		return err
	}
	if err := s.pipeline.Start(ctx); err != nil {
		return err
	}

	watcher, err := observe.NewWatcher(observe.WatcherConfig{
		Source:  s.pipeline,
		Events:  s.events,
		Clock:   s.clock,
		Logger:  s.logger.With("component", "watcher"),
		OnEvent: options.onEvent,
	})
	if err != nil {
		return err
	}
	s.group.Go(func() error { return watcher.Run(ctx) })

	if s.config.Observe.Listen != "" {
		if err := s.startObserver(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) openBus(ctx context.Context) error {
	cfg := s.config.Bus
	logger := s.logger.With("bus", cfg.Kind)

	switch cfg.Kind {
	case config.BusSocketCAN:
		bus, err := socketcan.Open(socketcan.Config{Interface: cfg.Interface, Echo: cfg.Echo, Clock: s.clock})
		if err != nil {
			return fmt.Errorf("opening %s: %w", cfg.Interface, err)
		}
		s.bus = bus
		logger.Info("bus open", "interface", cfg.Interface, "echo", cfg.Echo)

	case config.BusGateway:
		bus, err := gateway.Open(ctx, gateway.Config{
			Address: cfg.Address,
			Bitrate: cfg.Bitrate,
			Clock:   s.clock,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("opening gateway %s: %w", cfg.Address, err)
		}
		s.bus = bus
		logger.Info("bus open", "address", cfg.Address, "bitrate", cfg.Bitrate)

	case config.BusVirtual:
		bus, peer := transport.NewVirtual(transport.WithClock(s.clock))
		s.bus = bus
		if cfg.Simulate {
			s.arm = sim.New(peer, sim.Config{Clock: s.clock, Logger: s.logger.With("component", "sim")})
			s.group.Go(func() error { return s.arm.Run(ctx) })
		}
		logger.Info("bus open", "simulated", cfg.Simulate)

	case config.BusReplay:
		file, err := os.Open(cfg.Replay.Path)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, file.Close)
		reader, err := trace.NewReader(file)
		if err != nil {
			return fmt.Errorf("reading %s: %w", cfg.Replay.Path, err)
		}
		s.replay = replay.New(reader, replay.Config{Speed: cfg.Replay.Speed, Hold: cfg.Replay.Hold, Clock: s.clock})
		s.bus = s.replay
		header := reader.Header()
		logger.Info("bus open",
			"trace", cfg.Replay.Path,
			"recorded_session", header.SessionID,
			"recorded_at", header.StartedAt,
			"speed", cfg.Replay.Speed,
		)

	default:
		return fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
	s.closers = append(s.closers, s.bus.Close)
	return nil
}

func (s *session) openRecorder(ctx context.Context) error {
	cfg := s.config.Record
	compression, err := trace.ParseCompressionTag(cfg.Compression)
	if err != nil {
		return err
	}
	file, err := os.Create(cfg.Path)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, file.Close, file.Sync)

	s.recorder, err = trace.NewRecorder(file, trace.RecorderConfig{
		SessionID:     s.id,
		Source:        busSource(s.config.Bus),
		Version:       version.Info(),
		Compression:   compression,
		ChunkFrames:   cfg.ChunkFrames,
		FlushInterval: cfg.FlushInterval.Std(),
		Clock:         s.clock,
		Logger:        s.logger.With("component", "recorder"),
	})
	if err != nil {
		return fmt.Errorf("starting trace %s: %w", cfg.Path, err)
	}
	s.group.Go(func() error { return s.recorder.Run(ctx) })
	s.logger.Info("recording", "path", cfg.Path, "compression", compression.String())
	return nil
}

func (s *session) startObserver(ctx context.Context) error {
	server, err := observe.NewServer(observe.Config{
		Source:         s.pipeline,
		Events:         s.events,
		Clock:          s.clock,
		Logger:         s.logger.With("component", "observe"),
		StreamInterval: s.config.Observe.StreamInterval.Std(),
	})
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", s.config.Observe.Listen)
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	s.group.Go(func() error { return server.Serve(ctx, listener) })
	return nil
}

// wait blocks until ctx is cancelled or the pipeline stops on its own,
// returning the pipeline's fatal error in the second case.
func (s *session) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.pipeline.Done():
		return s.pipeline.Err()
	}
}

// stop shuts the pipeline down first so queued frames get their
// chance, then the background workers, then closes the bus and files.
func (s *session) stop() error {
	var errs []error
	if s.pipeline != nil {
		if err := s.pipeline.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	if err := s.group.Wait(); err != nil {
		errs = append(errs, err)
	}
	for _, closer := range slices.Backward(s.closers) {
		if err := closer(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.recorder != nil {
		stats := s.recorder.Stats()
		s.logger.Info("trace closed", "recorded", stats.Recorded, "dropped", stats.Dropped, "bytes", stats.Bytes)
	}
	return errors.Join(errs...)
}

// enable switches the arm to CAN control with every driver enabled and
// tells the monitor to hold it there.
func (s *session) enable() error {
	for _, command := range []wire.Command{
		wire.ModeControl{Control: robot.ControlCAN, Move: robot.MoveJoint, SpeedPercent: 50},
		wire.MotorEnable{Enable: true},
	} {
		if err := s.pipeline.SubmitCommand(command, control.Reliable); err != nil {
			return fmt.Errorf("enabling arm: %w", err)
		}
	}
	s.pipeline.ExpectMode(robot.Mode{Control: robot.ControlCAN, Enabled: true})
	return nil
}

// flush waits until the reliable queue is empty and at least sent
// more frames have gone out than before, or timeout passes.
func (s *session) flush(before uint64, sent int, timeout time.Duration) error {
	deadline := s.clock.Now().Add(timeout)
	for {
		metrics := s.pipeline.Metrics()
		if metrics.ReliablePending == 0 && metrics.FramesSent >= before+uint64(sent) {
			return nil
		}
		select {
		case <-s.pipeline.Done():
			if err := s.pipeline.Err(); err != nil {
				return err
			}
			return errors.New("pipeline stopped before the command was sent")
		default:
		}
		if s.clock.Now().After(deadline) {
			return fmt.Errorf("%d reliable frames still queued after %v", metrics.ReliablePending, timeout)
		}
		s.clock.Sleep(time.Millisecond)
	}
}

func busSource(cfg config.BusConfig) string {
	switch cfg.Kind {
	case config.BusSocketCAN:
		return "socketcan:" + cfg.Interface
	case config.BusGateway:
		return "gateway:" + cfg.Address
	case config.BusReplay:
		return "replay:" + cfg.Replay.Path
	default:
		if cfg.Simulate {
			return "virtual:sim"
		}
		return "virtual"
	}
}

// pipelineConfig maps the config file's pipeline section onto the
// control package's Config. Zero values keep control's defaults.
func pipelineConfig(cfg config.PipelineConfig) (control.Config, error) {
	result := control.Config{
		TimeBudget:             cfg.TimeBudget.Std(),
		ReceiveTimeout:         cfg.ReceiveTimeout.Std(),
		SendTimeout:            cfg.SendTimeout.Std(),
		ReliableQueueCapacity:  cfg.ReliableQueueCapacity,
		MonitorPollInterval:    cfg.MonitorPollInterval.Std(),
		FeedbackTimeout:        cfg.FeedbackTimeout.Std(),
		ModeSettleTime:         cfg.ModeSettleTime.Std(),
		RealtimeRetryAttempts:  cfg.RealtimeRetryAttempts,
		RealtimeRetryInterval:  cfg.RealtimeRetryInterval.Std(),
		ShutdownTimeout:        cfg.ShutdownTimeout.Std(),
		JointLimitTolerance:    cfg.JointLimitTolerance,
		GateRealtimeOnValidity: cfg.GateRealtimeOnValidity,
	}
	if cfg.KeepAlive.Interval > 0 {
		payload, err := cfg.KeepAlive.Payload()
		if err != nil {
			return control.Config{}, err
		}
		result.KeepAlive = control.KeepAliveConfig{
			Interval: cfg.KeepAlive.Interval.Std(),
			Frame:    transport.NewFrame(cfg.KeepAlive.ID, payload),
		}
	}
	return result, nil
}
