// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sim simulates the arm's controller on the device side of a
// [transport.VirtualBus]. It obeys the command frames the pipeline
// sends (mode changes, motor enables, joint and MIT targets, gripper,
// emergency stop) and streams feedback at a fixed rate, so the whole
// stack can run without hardware.
//
// Faults are injected through methods on [Arm]: driver status bits,
// an arm status code, an operator switching the controller to teach
// mode, or the arm going silent.
package sim
