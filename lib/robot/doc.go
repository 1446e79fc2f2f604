// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package robot defines the decoded state of the arm: the immutable
// [Snapshot] published by the control pipeline and the [Mode] that
// software expects the arm to be in.
//
// Snapshot contains only values and fixed-size arrays, never slices,
// maps or pointers, so copying a Snapshot is a deep copy. The pipeline
// relies on this: the RX worker mutates a private working copy and
// publishes a fresh heap copy, which readers may keep as long as they
// like.
//
// Units are SI: radians, radians per second, newton-metres, metres,
// amperes, volts, degrees Celsius.
package robot
