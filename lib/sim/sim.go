// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sim

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/wire"
	"github.com/bureau-foundation/armlink/transport"
)

// Defaults for zero Config fields.
const (
	DefaultFeedbackInterval = 5 * time.Millisecond
	DefaultSlowEvery        = 20
	// DefaultMaxSpeed is the fastest a simulated joint tracks its
	// target, in rad/s.
	DefaultMaxSpeed = 3.0
)

// Config configures the simulator.
type Config struct {
	// FeedbackInterval is the period of the high-rate feedback frames.
	FeedbackInterval time.Duration
	// SlowEvery sends the driver status and gripper frames once per
	// this many feedback cycles.
	SlowEvery int
	// MaxSpeed limits joint velocity. Negative jumps to targets.
	MaxSpeed float64

	Clock  clock.Clock
	Logger *slog.Logger
}

// State is a copy of the simulated controller state.
type State struct {
	Control   robot.ControlMode
	Move      robot.MoveMode
	ArmState  robot.ArmState
	Enabled   [robot.JointCount]bool
	Positions [robot.JointCount]float64
	Targets   [robot.JointCount]float64
	EndPose   robot.EndPose

	GripperTravel  float64
	GripperTarget  float64
	GripperEnabled bool

	// Faults are extra status bits reported by each joint driver.
	Faults        [robot.JointCount]robot.DriverStatus
	GripperFaults robot.GripperStatus
	Silent        bool
}

// Arm is a simulated controller.
type Arm struct {
	peer   *transport.VirtualPeer
	config Config

	mu    sync.Mutex
	state State
	cycle int

	commands  atomic.Uint64
	unhandled atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a simulator for the device side of a virtual bus. The
// arm starts in standby with every driver disabled.
func New(peer *transport.VirtualPeer, config Config) *Arm {
	if config.FeedbackInterval <= 0 {
		config.FeedbackInterval = DefaultFeedbackInterval
	}
	if config.SlowEvery <= 0 {
		config.SlowEvery = DefaultSlowEvery
	}
	if config.MaxSpeed == 0 {
		config.MaxSpeed = DefaultMaxSpeed
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Arm{peer: peer, config: config}
}

// Run obeys commands and emits feedback until ctx is cancelled or the
// host closes the bus.
func (a *Arm) Run(ctx context.Context) error {
	ticker := a.config.Clock.NewTicker(a.config.FeedbackInterval)
	defer ticker.Stop()
	inbox := a.peer.Inbox()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.peer.Closed():
			return nil
		case frame := <-inbox:
			a.handle(frame)
		case <-ticker.C:
			if err := a.emit(); err != nil {
				return err
			}
		}
	}
}

// Commands reports how many command frames were obeyed; Unhandled
// those that did not decode.
func (a *Arm) Commands() uint64  { return a.commands.Load() }
func (a *Arm) Unhandled() uint64 { return a.unhandled.Load() }

// Dropped reports feedback frames the host had no room for.
func (a *Arm) Dropped() uint64 { return a.dropped.Load() }

// State returns a copy of the controller state.
func (a *Arm) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// InjectDriverFault adds status bits to joint's driver (0-based).
func (a *Arm) InjectDriverFault(joint int, status robot.DriverStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Faults[joint] |= status
}

// InjectGripperFault adds gripper status bits.
func (a *Arm) InjectGripperFault(status robot.GripperStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.GripperFaults |= status
}

// SetArmState forces the arm status code.
func (a *Arm) SetArmState(state robot.ArmState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.ArmState = state
}

// SetControlMode switches the controller's command source, as an
// operator at the teach pendant would.
func (a *Arm) SetControlMode(mode robot.ControlMode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Control = mode
}

// SetSilent stops or resumes all feedback.
func (a *Arm) SetSilent(silent bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Silent = silent
}

// ClearFaults removes injected faults and returns the arm status to
// normal.
func (a *Arm) ClearFaults() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Faults = [robot.JointCount]robot.DriverStatus{}
	a.state.GripperFaults = 0
	a.state.ArmState = robot.ArmNormal
}

func (a *Arm) handle(frame transport.Frame) {
	command, err := wire.DecodeCommand(frame)
	if err != nil {
		a.unhandled.Add(1)
		if wire.IsCommand(frame.ID) {
			a.config.Logger.Debug("simulator rejected command", "frame", frame.String(), "error", err)
		}
		return
	}
	a.commands.Add(1)

	a.mu.Lock()
	defer a.mu.Unlock()
	s := &a.state
	switch c := command.(type) {
	case wire.EmergencyStop:
		if c.Resume {
			s.ArmState = robot.ArmNormal
		} else {
			s.ArmState = robot.ArmEmergencyStop
			s.Targets = s.Positions
		}
	case wire.ModeControl:
		s.Control = c.Control
		s.Move = c.Move
		if c.MIT {
			s.Move = robot.MoveMIT
		}
	case wire.MotorEnable:
		if c.Joint == 0 {
			for i := range s.Enabled {
				s.Enabled[i] = c.Enable
			}
		} else {
			s.Enabled[c.Joint-1] = c.Enable
		}
	case wire.JointTargetPart:
		s.Targets[2*c.Pair] = c.First
		s.Targets[2*c.Pair+1] = c.Second
	case wire.EndPoseTargetPart:
		switch c.Part {
		case 0:
			s.EndPose.X, s.EndPose.Y = c.First, c.Second
		case 1:
			s.EndPose.Z, s.EndPose.RX = c.First, c.Second
		default:
			s.EndPose.RY, s.EndPose.RZ = c.First, c.Second
		}
	case wire.MITControl:
		s.Targets[c.Joint-1] = c.Position
	case wire.GripperControl:
		s.GripperEnabled = c.Enable
		if c.ClearError {
			s.GripperFaults = 0
		}
		if c.SetZero {
			s.GripperTravel = 0
		}
		s.GripperTarget = c.Travel
	}
}

// moving reports whether joints follow their targets.
func (s *State) moving() bool {
	return s.Control == robot.ControlCAN && s.ArmState == robot.ArmNormal
}

// emit advances the simulation one cycle and sends its feedback.
func (a *Arm) emit() error {
	a.mu.Lock()
	s := &a.state
	dt := a.config.FeedbackInterval.Seconds()
	var velocities [robot.JointCount]float64
	if s.moving() {
		for i := range s.Positions {
			if !s.Enabled[i] {
				continue
			}
			delta := s.Targets[i] - s.Positions[i]
			if limit := a.config.MaxSpeed * dt; a.config.MaxSpeed > 0 && math.Abs(delta) > limit {
				delta = math.Copysign(limit, delta)
			}
			s.Positions[i] += delta
			velocities[i] = delta / dt
		}
		if s.GripperEnabled {
			s.GripperTravel = s.GripperTarget
		}
	}
	a.cycle++
	slow := a.cycle%a.config.SlowEvery == 0
	silent := s.Silent
	frames := a.feedback(velocities, slow)
	a.mu.Unlock()

	if silent {
		return nil
	}
	for _, frame := range frames {
		err := a.peer.Send(frame)
		if errors.Is(err, transport.ErrBusy) {
			a.dropped.Add(1)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// feedback builds one cycle's frames. Called with mu held.
func (a *Arm) feedback(velocities [robot.JointCount]float64, slow bool) []transport.Frame {
	s := &a.state
	joints := wire.EncodeJoints(s.Positions)
	pose := wire.EncodeEndPose(s.EndPose)
	frames := make([]transport.Frame, 0, 20)
	frames = append(frames, joints[:]...)
	frames = append(frames, pose[:]...)
	frames = append(frames, wire.Encode(wire.ArmStatusFeedback{
		Control: s.Control,
		State:   s.ArmState,
		Move:    s.Move,
		Arrived: s.Positions == s.Targets,
	}))
	for i := range robot.JointCount {
		frames = append(frames, wire.Encode(wire.DriverFastFeedback{
			Joint:    i,
			Velocity: velocities[i],
			Current:  math.Abs(velocities[i]) * 0.2,
			Position: int32(math.Round(s.Positions[i] * 1e4)),
		}))
	}
	if !slow {
		return frames
	}
	for i := range robot.JointCount {
		status := s.Faults[i]
		if s.Enabled[i] {
			status |= robot.DriverEnabled
		}
		frames = append(frames, wire.Encode(wire.DriverSlowFeedback{
			Joint:      i,
			Voltage:    24.0,
			DriverTemp: 35,
			MotorTemp:  32,
			BusCurrent: 0.5,
			Status:     status,
		}))
	}
	gripperStatus := s.GripperFaults
	if s.GripperEnabled {
		gripperStatus |= robot.GripperEnabled
	}
	frames = append(frames, wire.Encode(wire.GripperFeedback{
		Travel: s.GripperTravel,
		Status: gripperStatus,
	}))
	return frames
}
