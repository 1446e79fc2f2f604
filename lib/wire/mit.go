// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"math"

	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/transport"
)

// MIT parameter ranges. Values are quantized linearly across the range
// into the bit widths below.
const (
	mitPositionMin, mitPositionMax = -12.5, 12.5
	mitVelocityMin, mitVelocityMax = -45.0, 45.0
	mitKpMin, mitKpMax             = 0.0, 500.0
	mitKdMin, mitKdMax             = -5.0, 5.0
	mitTorqueMin, mitTorqueMax     = -18.0, 18.0
)

// MITControl is an impedance command for one joint: the driver
// applies torque = Kp*(Position-q) + Kd*(Velocity-dq) + Torque.
type MITControl struct {
	// Joint is 1-6.
	Joint    int
	Position float64
	Velocity float64
	Kp       float64
	Kd       float64
	Torque   float64
}

func (c MITControl) Frames() ([]transport.Frame, error) {
	if c.Joint < 1 || c.Joint > robot.JointCount {
		return nil, fmt.Errorf("wire: MIT command for joint %d", c.Joint)
	}
	position := quantize(c.Position, mitPositionMin, mitPositionMax, 16)
	velocity := quantize(c.Velocity, mitVelocityMin, mitVelocityMax, 12)
	kp := quantize(c.Kp, mitKpMin, mitKpMax, 12)
	kd := quantize(c.Kd, mitKdMin, mitKdMax, 12)
	torque := quantize(c.Torque, mitTorqueMin, mitTorqueMax, 8)

	var data [8]byte
	data[0] = byte(position >> 8)
	data[1] = byte(position)
	data[2] = byte(velocity >> 4)
	data[3] = byte(velocity&0x0F)<<4 | byte(kp>>8)
	data[4] = byte(kp)
	data[5] = byte(kd >> 4)
	data[6] = byte(kd&0x0F)<<4 | byte(torque>>4)
	data[7] = byte(torque&0x0F)<<4 | mitChecksum(data[:7])
	return []transport.Frame{transport.NewFrame(IDMITControl+uint32(c.Joint-1), data[:])}, nil
}

func decodeMIT(joint int, data []byte) (MITControl, error) {
	if sum := data[7] & 0x0F; sum != mitChecksum(data[:7]) {
		return MITControl{}, &MalformedError{
			ID:     IDMITControl + uint32(joint-1),
			Len:    uint8(len(data)),
			Reason: fmt.Sprintf("checksum 0x%X, want 0x%X", sum, mitChecksum(data[:7])),
		}
	}
	position := uint32(data[0])<<8 | uint32(data[1])
	velocity := uint32(data[2])<<4 | uint32(data[3])>>4
	kp := uint32(data[3]&0x0F)<<8 | uint32(data[4])
	kd := uint32(data[5])<<4 | uint32(data[6])>>4
	torque := uint32(data[6]&0x0F)<<4 | uint32(data[7])>>4
	return MITControl{
		Joint:    joint,
		Position: dequantize(position, mitPositionMin, mitPositionMax, 16),
		Velocity: dequantize(velocity, mitVelocityMin, mitVelocityMax, 12),
		Kp:       dequantize(kp, mitKpMin, mitKpMax, 12),
		Kd:       dequantize(kd, mitKdMin, mitKdMax, 12),
		Torque:   dequantize(torque, mitTorqueMin, mitTorqueMax, 8),
	}, nil
}

func quantize(v, lo, hi float64, bits uint) uint32 {
	if math.IsNaN(v) {
		v = 0
	}
	v = max(lo, min(hi, v))
	steps := float64(uint32(1)<<bits - 1)
	return uint32(math.Round((v - lo) * steps / (hi - lo)))
}

func dequantize(q uint32, lo, hi float64, bits uint) float64 {
	steps := float64(uint32(1)<<bits - 1)
	return float64(q)*(hi-lo)/steps + lo
}

// mitChecksum is the low nibble of the XOR of the first seven bytes.
func mitChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum & 0x0F
}
