// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/transport"
)

// Command identifiers.
const (
	IDEmergencyStop  uint32 = 0x150
	IDModeControl    uint32 = 0x151
	IDEndPoseTarget  uint32 = 0x152 // through 0x154
	IDJointTarget    uint32 = 0x155 // through 0x157
	IDGripperControl uint32 = 0x159
	IDMITControl     uint32 = 0x15A // joint 1; joint n is 0x15A+n-1
	IDMotorEnable    uint32 = 0x471
)

// Feedback identifiers.
const (
	IDDriverFast      uint32 = 0x251 // joint 1; joint n is 0x251+n-1
	IDDriverSlow      uint32 = 0x261 // joint 1; joint n is 0x261+n-1
	IDArmStatus       uint32 = 0x2A1
	IDEndPoseFeedback uint32 = 0x2A2 // through 0x2A4
	IDJointFeedback   uint32 = 0x2A5 // through 0x2A7
	IDGripperFeedback uint32 = 0x2A8
)

// Group identifies a multi-frame feedback family.
type Group uint8

const (
	GroupNone Group = iota
	GroupJoints
	GroupEndPose
)

// GroupSize is the number of frames in each group.
const GroupSize = 3

func (g Group) String() string {
	switch g {
	case GroupJoints:
		return "joint positions"
	case GroupEndPose:
		return "end pose"
	}
	return "none"
}

// GroupOf reports the group id belongs to and its member index.
func GroupOf(id uint32) (Group, int) {
	switch {
	case id >= IDJointFeedback && id < IDJointFeedback+GroupSize:
		return GroupJoints, int(id - IDJointFeedback)
	case id >= IDEndPoseFeedback && id < IDEndPoseFeedback+GroupSize:
		return GroupEndPose, int(id - IDEndPoseFeedback)
	}
	return GroupNone, 0
}

// FeedbackRanges lists every identifier the arm transmits, for
// programming receive filters.
func FeedbackRanges() []transport.IDRange {
	return []transport.IDRange{
		{First: IDDriverFast, Last: IDDriverFast + 5},
		{First: IDDriverSlow, Last: IDDriverSlow + 5},
		{First: IDArmStatus, Last: IDGripperFeedback},
	}
}

// IsCommand reports whether id is in the host command space.
func IsCommand(id uint32) bool {
	return (id >= IDEmergencyStop && id <= IDMITControl+5) || id == IDMotorEnable
}

// Name describes id for trace listings, e.g. "joint positions 2/3" or
// "driver fast joint 4". Unknown identifiers are printed in hex.
func Name(id uint32) string {
	switch {
	case id == IDEmergencyStop:
		return "emergency stop"
	case id == IDModeControl:
		return "mode control"
	case id >= IDEndPoseTarget && id < IDEndPoseTarget+GroupSize:
		return fmt.Sprintf("end pose target %d/%d", id-IDEndPoseTarget+1, GroupSize)
	case id >= IDJointTarget && id < IDJointTarget+GroupSize:
		return fmt.Sprintf("joint target %d/%d", id-IDJointTarget+1, GroupSize)
	case id == IDGripperControl:
		return "gripper control"
	case id >= IDMITControl && id < IDMITControl+robot.JointCount:
		return fmt.Sprintf("mit joint %d", id-IDMITControl+1)
	case id == IDMotorEnable:
		return "motor enable"
	case id >= IDDriverFast && id < IDDriverFast+robot.JointCount:
		return fmt.Sprintf("driver fast joint %d", id-IDDriverFast+1)
	case id >= IDDriverSlow && id < IDDriverSlow+robot.JointCount:
		return fmt.Sprintf("driver slow joint %d", id-IDDriverSlow+1)
	case id == IDArmStatus:
		return "arm status"
	case id == IDGripperFeedback:
		return "gripper feedback"
	}
	if group, index := GroupOf(id); group != GroupNone {
		return fmt.Sprintf("%s %d/%d", group, index+1, GroupSize)
	}
	return fmt.Sprintf("0x%03X", id)
}
