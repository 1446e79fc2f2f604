// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package robot

import (
	"fmt"
	"time"
)

// JointCount is the number of joints on the arm.
const JointCount = 6

// AllEnabled is the enabled bitmask with every joint's driver enabled.
const AllEnabled uint8 = 1<<JointCount - 1

// Snapshot is one consistent view of the arm.
//
// Fields decoded from the same frame group (all six joint positions,
// the six end-pose components) always come from the same group cycle.
// Independent frame families update at their own rates; each carries
// the time of its last update.
type Snapshot struct {
	// Sequence increments with every publication.
	Sequence uint64 `json:"sequence"`

	// Timestamp is the arrival time of the newest frame folded in.
	Timestamp time.Time `json:"timestamp"`

	Joints  JointPositions     `json:"joints"`
	EndPose EndPose            `json:"end_pose"`
	Drivers [JointCount]Driver `json:"drivers"`
	Arm     ArmStatus          `json:"arm"`
	Gripper Gripper            `json:"gripper"`
}

// JointPositions is the measured joint angle group.
type JointPositions struct {
	Position  [JointCount]float64 `json:"position"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// EndPose is the controller's forward kinematics of the flange:
// position in metres and orientation as roll/pitch/yaw radians.
type EndPose struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	RX        float64   `json:"rx"`
	RY        float64   `json:"ry"`
	RZ        float64   `json:"rz"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Driver is the state reported by one joint's motor driver. The fast
// fields (velocity, current, torque, encoder position) and the slow
// fields (voltage, temperatures, status) arrive in separate frames.
type Driver struct {
	Velocity        float64   `json:"velocity"`
	Current         float64   `json:"current"`
	Torque          float64   `json:"torque"`
	EncoderPosition int32     `json:"encoder_position"`
	FastUpdatedAt   time.Time `json:"fast_updated_at"`

	Voltage       float64      `json:"voltage"`
	DriverTemp    float64      `json:"driver_temp"`
	MotorTemp     float64      `json:"motor_temp"`
	BusCurrent    float64      `json:"bus_current"`
	Status        DriverStatus `json:"status"`
	SlowUpdatedAt time.Time    `json:"slow_updated_at"`
}

// EnabledMask returns bit i set when joint i+1 reports its driver
// enabled.
func (s *Snapshot) EnabledMask() uint8 {
	var mask uint8
	for i := range s.Drivers {
		if s.Drivers[i].Status&DriverEnabled != 0 {
			mask |= 1 << i
		}
	}
	return mask
}

// DriverStatus is the status byte of a joint driver.
type DriverStatus uint8

const (
	DriverUndervoltage DriverStatus = 1 << iota
	DriverMotorOverheat
	DriverOvercurrent
	DriverOverheat
	DriverCollision
	DriverError
	DriverEnabled
	DriverStall
)

// DriverFaults masks the status bits that indicate a fault.
const DriverFaults = DriverUndervoltage | DriverMotorOverheat | DriverOvercurrent |
	DriverOverheat | DriverCollision | DriverError | DriverStall

var driverFaultNames = []struct {
	bit  DriverStatus
	name string
}{
	{DriverUndervoltage, "undervoltage"},
	{DriverMotorOverheat, "motor over-temperature"},
	{DriverOvercurrent, "over-current"},
	{DriverOverheat, "driver over-temperature"},
	{DriverCollision, "collision protection"},
	{DriverError, "driver error"},
	{DriverStall, "stall protection"},
}

// Faults returns the names of the fault bits set in s.
func (s DriverStatus) Faults() []string {
	var names []string
	for _, entry := range driverFaultNames {
		if s&entry.bit != 0 {
			names = append(names, entry.name)
		}
	}
	return names
}

// ArmStatus is the controller's status frame.
type ArmStatus struct {
	Control    ControlMode `json:"control"`
	State      ArmState    `json:"state"`
	Move       MoveMode    `json:"move"`
	Teach      uint8       `json:"teach"`
	Arrived    bool        `json:"arrived"`
	Trajectory uint8       `json:"trajectory"`
	// LimitErrors has bit i set when joint i+1 exceeded its angle
	// limit; CommErrors when its driver stopped answering.
	LimitErrors uint8     `json:"limit_errors"`
	CommErrors  uint8     `json:"comm_errors"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Gripper is the end-effector state.
type Gripper struct {
	// Travel is the jaw opening in metres.
	Travel    float64       `json:"travel"`
	Torque    float64       `json:"torque"`
	Status    GripperStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// GripperStatus is the gripper driver's status byte.
type GripperStatus uint8

const (
	GripperUndervoltage GripperStatus = 1 << iota
	GripperMotorOverheat
	GripperOvercurrent
	GripperDriverOverheat
	GripperSensorFault
	GripperDriverError
	GripperEnabled
	GripperHomed
)

// GripperFaults masks the gripper status bits that indicate a fault.
const GripperFaults = GripperUndervoltage | GripperMotorOverheat | GripperOvercurrent |
	GripperDriverOverheat | GripperSensorFault | GripperDriverError

// JointName returns the human name of joint index i (0-based).
func JointName(i int) string { return fmt.Sprintf("joint %d", i+1) }
