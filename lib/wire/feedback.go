// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/transport"
)

// ErrUnknownID is returned by Decode for identifiers outside the
// feedback space.
var ErrUnknownID = errors.New("wire: unknown identifier")

// MalformedError reports a frame whose payload cannot be decoded.
type MalformedError struct {
	ID     uint32
	Len    uint8
	Want   uint8
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("wire: frame 0x%03X: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("wire: frame 0x%03X has %d bytes, want %d", e.ID, e.Len, e.Want)
}

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	var malformed *MalformedError
	return errors.As(err, &malformed)
}

// Feedback is a decoded feedback frame. The concrete types are
// ArmStatusFeedback, JointFeedback, EndPoseFeedback,
// DriverFastFeedback, DriverSlowFeedback and GripperFeedback.
type Feedback interface {
	feedbackID() uint32
}

// ArmStatusFeedback is frame 0x2A1.
type ArmStatusFeedback struct {
	Control     robot.ControlMode
	State       robot.ArmState
	Move        robot.MoveMode
	Teach       uint8
	Arrived     bool
	Trajectory  uint8
	LimitErrors uint8
	CommErrors  uint8
}

// JointFeedback is one member of the joint position group: Pair 0
// carries joints 1 and 2, pair 1 joints 3 and 4, pair 2 joints 5 and 6.
type JointFeedback struct {
	Pair   int
	First  float64
	Second float64
}

// EndPoseFeedback is one member of the end pose group: Part 0 carries
// X and Y, part 1 Z and RX, part 2 RY and RZ.
type EndPoseFeedback struct {
	Part   int
	First  float64
	Second float64
}

// DriverFastFeedback is the high-rate frame of one joint driver.
type DriverFastFeedback struct {
	Joint    int
	Velocity float64
	Current  float64
	Torque   float64
	Position int32
}

// DriverSlowFeedback is the low-rate frame of one joint driver.
type DriverSlowFeedback struct {
	Joint      int
	Voltage    float64
	DriverTemp float64
	MotorTemp  float64
	BusCurrent float64
	Status     robot.DriverStatus
}

// GripperFeedback is frame 0x2A8.
type GripperFeedback struct {
	Travel float64
	Torque float64
	Status robot.GripperStatus
}

func (ArmStatusFeedback) feedbackID() uint32    { return IDArmStatus }
func (f JointFeedback) feedbackID() uint32      { return IDJointFeedback + uint32(f.Pair) }
func (f EndPoseFeedback) feedbackID() uint32    { return IDEndPoseFeedback + uint32(f.Part) }
func (f DriverFastFeedback) feedbackID() uint32 { return IDDriverFast + uint32(f.Joint) }
func (f DriverSlowFeedback) feedbackID() uint32 { return IDDriverSlow + uint32(f.Joint) }
func (GripperFeedback) feedbackID() uint32      { return IDGripperFeedback }

// Decode parses a feedback frame.
func Decode(frame transport.Frame) (Feedback, error) {
	if frame.Extended {
		return nil, ErrUnknownID
	}
	id := frame.ID
	data := frame.Payload()
	switch {
	case id == IDArmStatus:
		if err := requireLen(frame, 8); err != nil {
			return nil, err
		}
		return ArmStatusFeedback{
			Control:     robot.ControlMode(data[0]),
			State:       robot.ArmState(data[1]),
			Move:        robot.MoveMode(data[2]),
			Teach:       data[3],
			Arrived:     data[4] == 0,
			Trajectory:  data[5],
			LimitErrors: data[6] & 0x3F,
			CommErrors:  data[7] & 0x3F,
		}, nil

	case id >= IDJointFeedback && id < IDJointFeedback+GroupSize:
		if err := requireLen(frame, 8); err != nil {
			return nil, err
		}
		return JointFeedback{
			Pair:   int(id - IDJointFeedback),
			First:  millidegreesToRadians(int32(binary.BigEndian.Uint32(data[0:4]))),
			Second: millidegreesToRadians(int32(binary.BigEndian.Uint32(data[4:8]))),
		}, nil

	case id >= IDEndPoseFeedback && id < IDEndPoseFeedback+GroupSize:
		if err := requireLen(frame, 8); err != nil {
			return nil, err
		}
		part := int(id - IDEndPoseFeedback)
		first := int32(binary.BigEndian.Uint32(data[0:4]))
		second := int32(binary.BigEndian.Uint32(data[4:8]))
		feedback := EndPoseFeedback{Part: part}
		switch part {
		case 0:
			feedback.First, feedback.Second = micrometresToMetres(first), micrometresToMetres(second)
		case 1:
			feedback.First, feedback.Second = micrometresToMetres(first), millidegreesToRadians(second)
		default:
			feedback.First, feedback.Second = millidegreesToRadians(first), millidegreesToRadians(second)
		}
		return feedback, nil

	case id >= IDDriverFast && id < IDDriverFast+robot.JointCount:
		if err := requireLen(frame, 8); err != nil {
			return nil, err
		}
		joint := int(id - IDDriverFast)
		current := float64(int16(binary.BigEndian.Uint16(data[2:4]))) / 1000
		return DriverFastFeedback{
			Joint:    joint,
			Velocity: float64(int16(binary.BigEndian.Uint16(data[0:2]))) / 1000,
			Current:  current,
			Torque:   current * TorqueConstants[joint],
			Position: int32(binary.BigEndian.Uint32(data[4:8])),
		}, nil

	case id >= IDDriverSlow && id < IDDriverSlow+robot.JointCount:
		if err := requireLen(frame, 8); err != nil {
			return nil, err
		}
		return DriverSlowFeedback{
			Joint:      int(id - IDDriverSlow),
			Voltage:    float64(binary.BigEndian.Uint16(data[0:2])) / 10,
			DriverTemp: float64(int16(binary.BigEndian.Uint16(data[2:4]))),
			MotorTemp:  float64(int8(data[4])),
			Status:     robot.DriverStatus(data[5]),
			BusCurrent: float64(binary.BigEndian.Uint16(data[6:8])) / 1000,
		}, nil

	case id == IDGripperFeedback:
		if err := requireLen(frame, 7); err != nil {
			return nil, err
		}
		return GripperFeedback{
			Travel: micrometresToMetres(int32(binary.BigEndian.Uint32(data[0:4]))),
			Torque: float64(int16(binary.BigEndian.Uint16(data[4:6]))) / 1000,
			Status: robot.GripperStatus(data[6]),
		}, nil
	}
	return nil, ErrUnknownID
}

func requireLen(frame transport.Frame, want uint8) error {
	if frame.Len < want {
		return &MalformedError{ID: frame.ID, Len: frame.Len, Want: want}
	}
	return nil
}

// Encode builds the frame carrying f. The simulator uses it to play
// the arm's side of the bus.
func Encode(f Feedback) transport.Frame {
	var data [8]byte
	switch f := f.(type) {
	case ArmStatusFeedback:
		data[0] = uint8(f.Control)
		data[1] = uint8(f.State)
		data[2] = uint8(f.Move)
		data[3] = f.Teach
		if !f.Arrived {
			data[4] = 1
		}
		data[5] = f.Trajectory
		data[6] = f.LimitErrors & 0x3F
		data[7] = f.CommErrors & 0x3F
	case JointFeedback:
		binary.BigEndian.PutUint32(data[0:4], uint32(radiansToMillidegrees(f.First)))
		binary.BigEndian.PutUint32(data[4:8], uint32(radiansToMillidegrees(f.Second)))
	case EndPoseFeedback:
		var first, second int32
		switch f.Part {
		case 0:
			first, second = metresToMicrometres(f.First), metresToMicrometres(f.Second)
		case 1:
			first, second = metresToMicrometres(f.First), radiansToMillidegrees(f.Second)
		default:
			first, second = radiansToMillidegrees(f.First), radiansToMillidegrees(f.Second)
		}
		binary.BigEndian.PutUint32(data[0:4], uint32(first))
		binary.BigEndian.PutUint32(data[4:8], uint32(second))
	case DriverFastFeedback:
		binary.BigEndian.PutUint16(data[0:2], uint16(clampInt16(f.Velocity*1000)))
		binary.BigEndian.PutUint16(data[2:4], uint16(clampInt16(f.Current*1000)))
		binary.BigEndian.PutUint32(data[4:8], uint32(f.Position))
	case DriverSlowFeedback:
		binary.BigEndian.PutUint16(data[0:2], uint16(clampUint16(f.Voltage*10)))
		binary.BigEndian.PutUint16(data[2:4], uint16(clampInt16(f.DriverTemp)))
		data[4] = uint8(int8(max(-128, min(127, math.Round(f.MotorTemp)))))
		data[5] = uint8(f.Status)
		binary.BigEndian.PutUint16(data[6:8], uint16(clampUint16(f.BusCurrent*1000)))
	case GripperFeedback:
		binary.BigEndian.PutUint32(data[0:4], uint32(metresToMicrometres(f.Travel)))
		binary.BigEndian.PutUint16(data[4:6], uint16(clampInt16(f.Torque*1000)))
		data[6] = uint8(f.Status)
	}
	return transport.NewFrame(f.feedbackID(), data[:])
}

// EncodeJoints returns the three frames of the joint position group.
func EncodeJoints(positions [robot.JointCount]float64) [GroupSize]transport.Frame {
	var frames [GroupSize]transport.Frame
	for pair := range GroupSize {
		frames[pair] = Encode(JointFeedback{Pair: pair, First: positions[2*pair], Second: positions[2*pair+1]})
	}
	return frames
}

// EncodeEndPose returns the three frames of the end pose group.
func EncodeEndPose(pose robot.EndPose) [GroupSize]transport.Frame {
	return [GroupSize]transport.Frame{
		Encode(EndPoseFeedback{Part: 0, First: pose.X, Second: pose.Y}),
		Encode(EndPoseFeedback{Part: 1, First: pose.Z, Second: pose.RX}),
		Encode(EndPoseFeedback{Part: 2, First: pose.RY, Second: pose.RZ}),
	}
}

func clampInt16(v float64) int16 {
	return int16(max(-32768, min(32767, math.Round(v))))
}

func clampUint16(v float64) uint16 {
	return uint16(max(0, min(65535, math.Round(v))))
}
