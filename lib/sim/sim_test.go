// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sim

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/testutil"
	"github.com/bureau-foundation/armlink/lib/wire"
	"github.com/bureau-foundation/armlink/transport"
)

func commandFrames(t *testing.T, command wire.Command) []transport.Frame {
	t.Helper()
	frames, err := command.Frames()
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	return frames
}

func TestArmObeysCommands(t *testing.T) {
	_, peer := transport.NewVirtual()
	arm := New(peer, Config{MaxSpeed: -1})

	for _, command := range []wire.Command{
		wire.ModeControl{Control: robot.ControlCAN, Move: robot.MoveJoint},
		wire.MotorEnable{Joint: 0, Enable: true},
		wire.MotorEnable{Joint: 4, Enable: false},
		wire.JointTarget{Positions: [robot.JointCount]float64{0.5, 0.25}},
		wire.MITControl{Joint: 3, Position: -0.2},
	} {
		for _, frame := range commandFrames(t, command) {
			arm.handle(frame)
		}
	}
	arm.handle(transport.NewFrame(0x300, nil))

	state := arm.State()
	if state.Control != robot.ControlCAN || state.Move != robot.MoveJoint {
		t.Fatalf("mode = %v/%v", state.Control, state.Move)
	}
	if !state.Enabled[0] || state.Enabled[3] {
		t.Fatalf("Enabled = %v", state.Enabled)
	}
	if math.Abs(state.Targets[0]-0.5) > 1e-4 || math.Abs(state.Targets[2]+0.2) > 1e-3 {
		t.Fatalf("Targets = %v", state.Targets)
	}
	if arm.Unhandled() != 1 {
		t.Fatalf("Unhandled = %d", arm.Unhandled())
	}

	if err := arm.emit(); err != nil {
		t.Fatalf("emit: %v", err)
	}
	state = arm.State()
	if math.Abs(state.Positions[0]-0.5) > 1e-4 {
		t.Fatalf("enabled joint did not move: %v", state.Positions)
	}
	if state.Positions[3] != 0 {
		t.Fatalf("disabled joint moved: %v", state.Positions)
	}
}

func TestEmergencyStopHoldsPosition(t *testing.T) {
	_, peer := transport.NewVirtual()
	arm := New(peer, Config{MaxSpeed: -1})
	for _, command := range []wire.Command{
		wire.ModeControl{Control: robot.ControlCAN},
		wire.MotorEnable{Enable: true},
		wire.EmergencyStop{},
		wire.JointTarget{Positions: [robot.JointCount]float64{1}},
	} {
		for _, frame := range commandFrames(t, command) {
			arm.handle(frame)
		}
	}
	arm.emit()
	if state := arm.State(); state.ArmState != robot.ArmEmergencyStop || state.Positions[0] != 0 {
		t.Fatalf("state after e-stop = %v, positions %v", state.ArmState, state.Positions)
	}
	for _, frame := range commandFrames(t, wire.EmergencyStop{Resume: true}) {
		arm.handle(frame)
	}
	if state := arm.State(); state.ArmState != robot.ArmNormal {
		t.Fatalf("state after resume = %v", state.ArmState)
	}
}

func TestFeedbackCycle(t *testing.T) {
	bus, peer := transport.NewVirtual()
	arm := New(peer, Config{SlowEvery: 2})
	for range 2 {
		if err := arm.emit(); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	counts := make(map[uint32]int)
	for {
		frame, err := bus.RX().Receive(10 * time.Millisecond)
		if err != nil {
			break
		}
		counts[frame.ID]++
	}
	if counts[wire.IDJointFeedback] != 2 || counts[wire.IDArmStatus] != 2 || counts[wire.IDDriverFast+5] != 2 {
		t.Fatalf("fast frames = %v", counts)
	}
	if counts[wire.IDDriverSlow] != 1 || counts[wire.IDGripperFeedback] != 1 {
		t.Fatalf("slow frames = %v", counts)
	}

	arm.SetSilent(true)
	arm.emit()
	if _, err := bus.RX().Receive(10 * time.Millisecond); !transport.IsTimeout(err) {
		t.Fatalf("silent arm sent feedback: %v", err)
	}
}

// startLoop runs a pipeline against a simulated arm on the real clock.
func startLoop(t *testing.T) (*control.Pipeline, *Arm) {
	t.Helper()
	bus, peer := transport.NewVirtual()
	arm := New(peer, Config{FeedbackInterval: time.Millisecond})
	pipeline, err := control.New(control.Config{
		Bus:    bus,
		Clock:  clock.Real(),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("control.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		arm.Run(ctx)
	}()
	if err := pipeline.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		pipeline.Stop()
		cancel()
		bus.Close()
		<-simDone
	})
	return pipeline, arm
}

// enable puts the arm under CAN control with every joint enabled and
// waits until feedback agrees.
func enable(t *testing.T, pipeline *control.Pipeline) {
	t.Helper()
	for _, command := range []wire.Command{
		wire.ModeControl{Control: robot.ControlCAN, Move: robot.MoveJoint, SpeedPercent: 50},
		wire.MotorEnable{Enable: true},
	} {
		if err := pipeline.SubmitCommand(command, control.Reliable); err != nil {
			t.Fatalf("SubmitCommand: %v", err)
		}
	}
	pipeline.ExpectMode(robot.Mode{Control: robot.ControlCAN, Enabled: true})
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		snapshot := pipeline.Snapshot()
		return snapshot.Arm.Control == robot.ControlCAN && snapshot.EnabledMask() == robot.AllEnabled
	}, "arm never reported CAN control with all joints enabled")
}

func TestClosedLoopTracksTargets(t *testing.T) {
	pipeline, _ := startLoop(t)
	enable(t, pipeline)

	target := [robot.JointCount]float64{0.3, 0.2, -0.1, 0.1, 0, -0.2}
	if err := pipeline.SubmitCommand(wire.JointTarget{Positions: target}, control.Realtime); err != nil {
		t.Fatalf("SubmitCommand: %v", err)
	}
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		positions := pipeline.Snapshot().Joints.Position
		for i := range target {
			if math.Abs(positions[i]-target[i]) > 1e-3 {
				return false
			}
		}
		return true
	}, "joints never reached the target")
	if !pipeline.IsValid() {
		reason, _ := pipeline.InvalidReason()
		t.Fatalf("state invalid after a normal move: %s", reason)
	}
}

func TestClosedLoopDetectsFaults(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*Arm)
		reason string
	}{
		{"driver over-current", func(a *Arm) { a.InjectDriverFault(2, robot.DriverOvercurrent) }, "joint 3 driver: over-current"},
		{"operator took over", func(a *Arm) { a.SetControlMode(robot.ControlTeach) }, "control mode is teach, expected can"},
		{"arm went silent", func(a *Arm) { a.SetSilent(true) }, "no feedback from arm"},
		{"emergency stop", func(a *Arm) { a.SetArmState(robot.ArmEmergencyStop) }, "arm status: emergency stop"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pipeline, arm := startLoop(t)
			enable(t, pipeline)
			testutil.RequireEventually(t, 5*time.Second, pipeline.IsValid, "state never valid")

			invalidated := pipeline.Invalidated()
			test.inject(arm)
			testutil.RequireClosed(t, invalidated, 5*time.Second, "fault never invalidated the state")
			reason, _ := pipeline.InvalidReason()
			if !strings.HasPrefix(reason, test.reason) {
				t.Fatalf("InvalidReason() = %q, want prefix %q", reason, test.reason)
			}
		})
	}
}

func TestClearFaults(t *testing.T) {
	_, peer := transport.NewVirtual()
	arm := New(peer, Config{})
	arm.InjectDriverFault(2, robot.DriverOvercurrent)
	arm.InjectGripperFault(robot.GripperOvercurrent)
	arm.SetArmState(robot.ArmCollision)

	state := arm.State()
	if state.Faults[2]&robot.DriverOvercurrent == 0 || state.GripperFaults&robot.GripperOvercurrent == 0 {
		t.Fatalf("faults not injected: %+v", state)
	}

	arm.ClearFaults()
	state = arm.State()
	if state.Faults[2] != 0 || state.GripperFaults != 0 || state.ArmState != robot.ArmNormal {
		t.Fatalf("faults after clear: drivers %v, gripper %v, arm %v", state.Faults, state.GripperFaults, state.ArmState)
	}
}
