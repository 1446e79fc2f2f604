// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"math"

	"github.com/bureau-foundation/armlink/lib/robot"
)

// Wire resolutions. Angles travel as millidegrees, lengths as
// micrometres.
const (
	radiansPerMillidegree = math.Pi / 180 / 1000
	metresPerMicrometre   = 1e-6
)

func millidegreesToRadians(v int32) float64 { return float64(v) * radiansPerMillidegree }

func radiansToMillidegrees(rad float64) int32 {
	return int32(math.Round(rad / radiansPerMillidegree))
}

func micrometresToMetres(v int32) float64 { return float64(v) * metresPerMicrometre }

func metresToMicrometres(m float64) int32 {
	return int32(math.Round(m / metresPerMicrometre))
}

// TorqueConstants converts driver phase current (A) to joint torque
// (N·m). The three base joints use a larger motor than the wrist.
var TorqueConstants = [robot.JointCount]float64{1.18125, 1.18125, 1.18125, 0.95844, 0.95844, 0.95844}

// Limit is an inclusive joint angle range in radians.
type Limit struct {
	Min float64
	Max float64
}

// Contains reports whether position lies within the limit widened by
// tolerance on both sides.
func (l Limit) Contains(position, tolerance float64) bool {
	return position >= l.Min-tolerance && position <= l.Max+tolerance
}

// JointLimits are the mechanical ranges of the six joints.
var JointLimits = [robot.JointCount]Limit{
	{Min: -150 * math.Pi / 180, Max: 150 * math.Pi / 180},
	{Min: 0, Max: 180 * math.Pi / 180},
	{Min: -170 * math.Pi / 180, Max: 0},
	{Min: -100 * math.Pi / 180, Max: 100 * math.Pi / 180},
	{Min: -70 * math.Pi / 180, Max: 70 * math.Pi / 180},
	{Min: -120 * math.Pi / 180, Max: 120 * math.Pi / 180},
}

// CheckJointTargets returns an error naming the first target outside
// its joint's limit.
func CheckJointTargets(positions [robot.JointCount]float64) error {
	for i, position := range positions {
		if math.IsNaN(position) || !JointLimits[i].Contains(position, 0) {
			return fmt.Errorf("wire: %s target %.4f rad outside [%.4f, %.4f]",
				robot.JointName(i), position, JointLimits[i].Min, JointLimits[i].Max)
		}
	}
	return nil
}
