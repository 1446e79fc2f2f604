// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/wire"
	"github.com/bureau-foundation/armlink/transport"
)

// groupStage accumulates the members of one frame group until all of
// them have arrived. A repeated member overwrites its earlier value.
type groupStage struct {
	values   [wire.GroupSize][2]float64
	received uint8
}

const groupComplete = 1<<wire.GroupSize - 1

func (s *groupStage) put(member int, first, second float64) bool {
	s.values[member] = [2]float64{first, second}
	s.received |= 1 << member
	return s.received == groupComplete
}

func (s *groupStage) reset() { s.received = 0 }

// decoder folds feedback frames into a working snapshot and publishes
// it. Owned by the RX worker; not safe for concurrent use.
type decoder struct {
	working robot.Snapshot
	joints  groupStage
	pose    groupStage

	publisher      *Publisher
	validity       *ValidityTracker
	metrics        *Metrics
	logger         *slog.Logger
	limitTolerance float64

	malformedLog rate.Sometimes
}

// apply decodes frame and folds it in. Malformed and unknown frames
// are counted and dropped.
func (d *decoder) apply(frame transport.Frame) {
	feedback, err := wire.Decode(frame)
	if err != nil {
		switch {
		case errors.Is(err, wire.ErrUnknownID):
			d.metrics.UnknownFrames.Add(1)
		case wire.IsMalformed(err):
			d.metrics.MalformedFrames.Add(1)
			d.malformedLog.Do(func() {
				d.logger.Warn("dropping malformed feedback frame", "frame", frame.String(), "error", err)
			})
		default:
			d.metrics.MalformedFrames.Add(1)
			d.logger.Error("feedback decode failed", "frame", frame.String(), "error", err)
		}
		return
	}
	d.metrics.FramesDecoded.Add(1)
	at := frame.Timestamp

	switch f := feedback.(type) {
	case wire.JointFeedback:
		if !d.joints.put(f.Pair, f.First, f.Second) {
			return
		}
		for pair, values := range d.joints.values {
			d.working.Joints.Position[2*pair] = values[0]
			d.working.Joints.Position[2*pair+1] = values[1]
		}
		d.working.Joints.UpdatedAt = at
		d.joints.reset()
		d.publish(at)
		d.checkLimits()

	case wire.EndPoseFeedback:
		if !d.pose.put(f.Part, f.First, f.Second) {
			return
		}
		values := d.pose.values
		d.working.EndPose = robot.EndPose{
			X: values[0][0], Y: values[0][1],
			Z: values[1][0], RX: values[1][1],
			RY: values[2][0], RZ: values[2][1],
			UpdatedAt: at,
		}
		d.pose.reset()
		d.publish(at)

	case wire.ArmStatusFeedback:
		d.working.Arm = robot.ArmStatus{
			Control:     f.Control,
			State:       f.State,
			Move:        f.Move,
			Teach:       f.Teach,
			Arrived:     f.Arrived,
			Trajectory:  f.Trajectory,
			LimitErrors: f.LimitErrors,
			CommErrors:  f.CommErrors,
			UpdatedAt:   at,
		}
		d.publish(at)
		if reason := armStatusFault(&d.working.Arm); reason != "" {
			d.invalidate(reason)
		}

	case wire.DriverFastFeedback:
		driver := &d.working.Drivers[f.Joint]
		driver.Velocity = f.Velocity
		driver.Current = f.Current
		driver.Torque = f.Torque
		driver.EncoderPosition = f.Position
		driver.FastUpdatedAt = at
		d.publish(at)

	case wire.DriverSlowFeedback:
		driver := &d.working.Drivers[f.Joint]
		driver.Voltage = f.Voltage
		driver.DriverTemp = f.DriverTemp
		driver.MotorTemp = f.MotorTemp
		driver.BusCurrent = f.BusCurrent
		driver.Status = f.Status
		driver.SlowUpdatedAt = at
		d.publish(at)
		if faults := f.Status.Faults(); len(faults) > 0 {
			d.invalidate(fmt.Sprintf("%s driver: %s", robot.JointName(f.Joint), strings.Join(faults, ", ")))
		}

	case wire.GripperFeedback:
		d.working.Gripper = robot.Gripper{
			Travel:    f.Travel,
			Torque:    f.Torque,
			Status:    f.Status,
			UpdatedAt: at,
		}
		d.publish(at)
		if reason := gripperFault(f.Status); reason != "" {
			d.invalidate(reason)
		}
	}
}

func (d *decoder) publish(at time.Time) {
	if at.After(d.working.Timestamp) {
		d.working.Timestamp = at
	}
	d.publisher.Publish(d.working)
	d.metrics.SnapshotsPublished.Add(1)
}

func (d *decoder) checkLimits() {
	for i, position := range d.working.Joints.Position {
		limit := wire.JointLimits[i]
		if !limit.Contains(position, d.limitTolerance) {
			d.invalidate(fmt.Sprintf("%s position %.3f rad outside [%.3f, %.3f]",
				robot.JointName(i), position, limit.Min, limit.Max))
			return
		}
	}
}

func (d *decoder) invalidate(reason string) {
	if !d.validity.IsValid() {
		return
	}
	if d.validity.Invalidate(reason) {
		d.metrics.Invalidations.Add(1)
		d.logger.Warn("state invalidated by feedback", "reason", reason)
	}
}

// armStatusFault describes a fault in the arm status, or returns "".
func armStatusFault(status *robot.ArmStatus) string {
	if status.State.IsFault() {
		return "arm status: " + status.State.String()
	}
	for i := range robot.JointCount {
		if status.CommErrors&(1<<i) != 0 {
			return fmt.Sprintf("arm status: %s communication error", robot.JointName(i))
		}
		if status.LimitErrors&(1<<i) != 0 {
			return fmt.Sprintf("arm status: %s angle limit exceeded", robot.JointName(i))
		}
	}
	return ""
}

var gripperFaultNames = []struct {
	bit  robot.GripperStatus
	name string
}{
	{robot.GripperUndervoltage, "undervoltage"},
	{robot.GripperMotorOverheat, "motor over-temperature"},
	{robot.GripperOvercurrent, "over-current"},
	{robot.GripperDriverOverheat, "driver over-temperature"},
	{robot.GripperSensorFault, "sensor fault"},
	{robot.GripperDriverError, "driver error"},
}

func gripperFault(status robot.GripperStatus) string {
	var names []string
	for _, entry := range gripperFaultNames {
		if status&entry.bit != 0 {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "gripper: " + strings.Join(names, ", ")
}

func driverFault(snapshot *robot.Snapshot) string {
	for i := range snapshot.Drivers {
		if faults := snapshot.Drivers[i].Status.Faults(); len(faults) > 0 {
			return fmt.Sprintf("%s driver: %s", robot.JointName(i), strings.Join(faults, ", "))
		}
	}
	return gripperFault(snapshot.Gripper.Status)
}
