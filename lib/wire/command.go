// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/transport"
)

// Command is anything that can be turned into bus frames.
type Command interface {
	Frames() ([]transport.Frame, error)
}

// EmergencyStop halts the arm, or releases a previous stop when
// Resume is set.
type EmergencyStop struct {
	Resume bool
}

func (c EmergencyStop) Frames() ([]transport.Frame, error) {
	code := byte(0x01)
	if c.Resume {
		code = 0x02
	}
	return []transport.Frame{transport.NewFrame(IDEmergencyStop, []byte{code, 0, 0, 0, 0, 0, 0, 0})}, nil
}

// ModeControl selects the command source and motion mode.
type ModeControl struct {
	Control robot.ControlMode
	Move    robot.MoveMode
	// SpeedPercent scales motion speed, 0-100.
	SpeedPercent uint8
	// MIT switches joint control to impedance commands (0x15A-0x15F).
	MIT bool
}

const mitModeCode = 0xAD

func (c ModeControl) Frames() ([]transport.Frame, error) {
	if c.SpeedPercent > 100 {
		return nil, fmt.Errorf("wire: speed %d%% exceeds 100%%", c.SpeedPercent)
	}
	if c.Control > robot.ControlOfflineTrajectory {
		return nil, fmt.Errorf("wire: unknown control mode %v", c.Control)
	}
	if c.Move > robot.MoveMIT {
		return nil, fmt.Errorf("wire: unknown move mode %v", c.Move)
	}
	mit := byte(0)
	if c.MIT {
		mit = mitModeCode
	}
	payload := []byte{uint8(c.Control), uint8(c.Move), c.SpeedPercent, mit, 0, 0, 0, 0}
	return []transport.Frame{transport.NewFrame(IDModeControl, payload)}, nil
}

// MotorEnable enables or disables one joint driver, or all of them
// when Joint is zero.
type MotorEnable struct {
	// Joint is 1-6, or 0 for every joint.
	Joint  int
	Enable bool
}

const allJoints = 7

func (c MotorEnable) Frames() ([]transport.Frame, error) {
	if c.Joint < 0 || c.Joint > robot.JointCount {
		return nil, fmt.Errorf("wire: motor enable for joint %d", c.Joint)
	}
	joint := byte(c.Joint)
	if c.Joint == 0 {
		joint = allJoints
	}
	code := byte(0x01)
	if c.Enable {
		code = 0x02
	}
	return []transport.Frame{transport.NewFrame(IDMotorEnable, []byte{joint, code, 0, 0, 0, 0, 0, 0})}, nil
}

// JointTarget is a position target for all six joints. It spans three
// frames that must be delivered together.
type JointTarget struct {
	Positions [robot.JointCount]float64
}

func (c JointTarget) Frames() ([]transport.Frame, error) {
	if err := CheckJointTargets(c.Positions); err != nil {
		return nil, err
	}
	frames := make([]transport.Frame, GroupSize)
	for pair := range GroupSize {
		var data [8]byte
		binary.BigEndian.PutUint32(data[0:4], uint32(radiansToMillidegrees(c.Positions[2*pair])))
		binary.BigEndian.PutUint32(data[4:8], uint32(radiansToMillidegrees(c.Positions[2*pair+1])))
		frames[pair] = transport.NewFrame(IDJointTarget+uint32(pair), data[:])
	}
	return frames, nil
}

// EndPoseTarget is a Cartesian target for the flange.
type EndPoseTarget struct {
	X, Y, Z    float64
	RX, RY, RZ float64
}

func (c EndPoseTarget) Frames() ([]transport.Frame, error) {
	for _, v := range []float64{c.X, c.Y, c.Z, c.RX, c.RY, c.RZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("wire: end pose target contains %v", v)
		}
	}
	values := [GroupSize][2]int32{
		{metresToMicrometres(c.X), metresToMicrometres(c.Y)},
		{metresToMicrometres(c.Z), radiansToMillidegrees(c.RX)},
		{radiansToMillidegrees(c.RY), radiansToMillidegrees(c.RZ)},
	}
	frames := make([]transport.Frame, GroupSize)
	for part, pair := range values {
		var data [8]byte
		binary.BigEndian.PutUint32(data[0:4], uint32(pair[0]))
		binary.BigEndian.PutUint32(data[4:8], uint32(pair[1]))
		frames[part] = transport.NewFrame(IDEndPoseTarget+uint32(part), data[:])
	}
	return frames, nil
}

// GripperControl commands the jaw opening and grip torque.
type GripperControl struct {
	// Travel is the jaw opening in metres.
	Travel     float64
	Torque     float64
	Enable     bool
	ClearError bool
	// SetZero records the current opening as the zero point.
	SetZero bool
}

const gripperSetZeroCode = 0xAE

func (c GripperControl) Frames() ([]transport.Frame, error) {
	if c.Travel < 0 || math.IsNaN(c.Travel) {
		return nil, fmt.Errorf("wire: gripper travel %v", c.Travel)
	}
	var data [8]byte
	binary.BigEndian.PutUint32(data[0:4], uint32(metresToMicrometres(c.Travel)))
	binary.BigEndian.PutUint16(data[4:6], uint16(clampInt16(c.Torque*1000)))
	if c.Enable {
		data[6] |= 0x01
	}
	if c.ClearError {
		data[6] |= 0x02
	}
	if c.SetZero {
		data[7] = gripperSetZeroCode
	}
	return []transport.Frame{transport.NewFrame(IDGripperControl, data[:])}, nil
}

// JointTargetPart is one decoded frame of a JointTarget.
type JointTargetPart struct {
	Pair   int
	First  float64
	Second float64
}

// EndPoseTargetPart is one decoded frame of an EndPoseTarget, in the
// same layout as EndPoseFeedback.
type EndPoseTargetPart struct {
	Part   int
	First  float64
	Second float64
}

// DecodeCommand parses a command frame. Multi-frame commands decode
// per frame as JointTargetPart or EndPoseTargetPart.
func DecodeCommand(frame transport.Frame) (any, error) {
	id := frame.ID
	data := frame.Payload()
	switch {
	case id == IDEmergencyStop:
		if err := requireLen(frame, 1); err != nil {
			return nil, err
		}
		switch data[0] {
		case 0x01:
			return EmergencyStop{}, nil
		case 0x02:
			return EmergencyStop{Resume: true}, nil
		}
		return nil, &MalformedError{ID: id, Len: frame.Len, Reason: fmt.Sprintf("stop code 0x%02X", data[0])}

	case id == IDModeControl:
		if err := requireLen(frame, 4); err != nil {
			return nil, err
		}
		return ModeControl{
			Control:      robot.ControlMode(data[0]),
			Move:         robot.MoveMode(data[1]),
			SpeedPercent: data[2],
			MIT:          data[3] == mitModeCode,
		}, nil

	case id == IDMotorEnable:
		if err := requireLen(frame, 2); err != nil {
			return nil, err
		}
		joint := int(data[0])
		if joint == allJoints {
			joint = 0
		}
		if joint > robot.JointCount {
			return nil, &MalformedError{ID: id, Len: frame.Len, Reason: fmt.Sprintf("joint %d", data[0])}
		}
		return MotorEnable{Joint: joint, Enable: data[1] == 0x02}, nil

	case id >= IDJointTarget && id < IDJointTarget+GroupSize:
		if err := requireLen(frame, 8); err != nil {
			return nil, err
		}
		return JointTargetPart{
			Pair:   int(id - IDJointTarget),
			First:  millidegreesToRadians(int32(binary.BigEndian.Uint32(data[0:4]))),
			Second: millidegreesToRadians(int32(binary.BigEndian.Uint32(data[4:8]))),
		}, nil

	case id >= IDEndPoseTarget && id < IDEndPoseTarget+GroupSize:
		poseFrame := frame
		poseFrame.ID = IDEndPoseFeedback + (id - IDEndPoseTarget)
		decoded, err := Decode(poseFrame)
		if err != nil {
			return nil, err
		}
		pose := decoded.(EndPoseFeedback)
		return EndPoseTargetPart(pose), nil

	case id == IDGripperControl:
		if err := requireLen(frame, 8); err != nil {
			return nil, err
		}
		return GripperControl{
			Travel:     micrometresToMetres(int32(binary.BigEndian.Uint32(data[0:4]))),
			Torque:     float64(int16(binary.BigEndian.Uint16(data[4:6]))) / 1000,
			Enable:     data[6]&0x01 != 0,
			ClearError: data[6]&0x02 != 0,
			SetZero:    data[7] == gripperSetZeroCode,
		}, nil

	case id >= IDMITControl && id < IDMITControl+robot.JointCount:
		if err := requireLen(frame, 8); err != nil {
			return nil, err
		}
		return decodeMIT(int(id-IDMITControl)+1, data)
	}
	return nil, ErrUnknownID
}
