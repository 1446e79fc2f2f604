// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package robot

import (
	"fmt"
	"strings"
)

// ControlMode is the controller's command source.
type ControlMode uint8

const (
	ControlStandby ControlMode = iota
	ControlCAN
	ControlTeach
	ControlEthernet
	ControlWiFi
	ControlRemote
	ControlLinkageTeach
	ControlOfflineTrajectory
)

var controlModeNames = [...]string{
	"standby", "can", "teach", "ethernet", "wifi", "remote", "linkage-teach", "offline-trajectory",
}

func (m ControlMode) String() string {
	if int(m) < len(controlModeNames) {
		return controlModeNames[m]
	}
	return fmt.Sprintf("control(0x%02X)", uint8(m))
}

// MoveMode is the controller's motion interpretation.
type MoveMode uint8

const (
	MovePoint MoveMode = iota
	MoveJoint
	MoveLinear
	MoveCircular
	MoveMIT
)

var moveModeNames = [...]string{"point", "joint", "linear", "circular", "mit"}

func (m MoveMode) String() string {
	if int(m) < len(moveModeNames) {
		return moveModeNames[m]
	}
	return fmt.Sprintf("move(0x%02X)", uint8(m))
}

// ArmState is the arm status code.
type ArmState uint8

const (
	ArmNormal ArmState = iota
	ArmEmergencyStop
	ArmNoSolution
	ArmSingularity
	ArmAngleLimit
	ArmJointCommError
	ArmBrakeEngaged
	ArmCollision
	ArmTeachOverspeed
	ArmJointAbnormal
	ArmOtherFault
	ArmTeachRecording
	ArmTeachExecuting
	ArmTeachPaused
	ArmControllerOverheat
	ArmResistorOverheat
)

var armStateNames = [...]string{
	"normal", "emergency stop", "no inverse kinematics solution", "singularity",
	"target angle beyond limit", "joint communication error", "joint brake engaged",
	"collision detected", "teach drag overspeed", "joint state abnormal", "other fault",
	"teach recording", "teach executing", "teach paused", "controller over-temperature",
	"discharge resistor over-temperature",
}

func (s ArmState) String() string {
	if int(s) < len(armStateNames) {
		return armStateNames[s]
	}
	return fmt.Sprintf("state(0x%02X)", uint8(s))
}

// IsFault reports whether s means the arm cannot follow commands.
// Teach-in states are operator activity, not faults.
func (s ArmState) IsFault() bool {
	switch s {
	case ArmNormal, ArmTeachRecording, ArmTeachExecuting, ArmTeachPaused:
		return false
	}
	return true
}

// Mode is what software believes the arm should be doing. The state
// monitor compares it against feedback.
type Mode struct {
	Control ControlMode `json:"control"`
	// Enabled expects every joint driver enabled; false expects all
	// disabled.
	Enabled bool `json:"enabled"`
	// Move is compared only when CheckMove is set.
	Move      MoveMode `json:"move"`
	CheckMove bool     `json:"check_move,omitempty"`
}

func (m Mode) String() string {
	var parts []string
	parts = append(parts, m.Control.String())
	if m.Enabled {
		parts = append(parts, "enabled")
	} else {
		parts = append(parts, "disabled")
	}
	if m.CheckMove {
		parts = append(parts, m.Move.String())
	}
	return strings.Join(parts, "/")
}
