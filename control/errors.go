// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import "errors"

var (
	// ErrQueueFull is returned by SubmitReliable when the reliable
	// queue is at capacity. The frame was not queued.
	ErrQueueFull = errors.New("control: reliable queue full")

	// ErrStateInvalid is returned by SubmitRealtime when realtime gating
	// is enabled and the validity tracker is invalid.
	ErrStateInvalid = errors.New("control: state invalid")

	// ErrEmptyCommand is returned by SubmitRealtime when called with no
	// frames.
	ErrEmptyCommand = errors.New("control: empty realtime command")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("control: pipeline already started")

	// ErrShutdownTimeout is returned by Stop when the workers did not
	// exit within the shutdown timeout.
	ErrShutdownTimeout = errors.New("control: workers did not stop within the shutdown timeout")
)
