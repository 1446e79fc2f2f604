// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"errors"

	"github.com/bureau-foundation/armlink/transport"
)

// Direction is the side of the bus a frame was observed on.
type Direction uint8

const (
	DirectionRX Direction = iota
	DirectionTX
)

func (d Direction) String() string {
	if d == DirectionTX {
		return "tx"
	}
	return "rx"
}

// FrameObserver sees frames as the workers handle them. Implementations
// are called on the worker goroutines and must return promptly; the
// trace recorder hands frames to its own goroutine.
type FrameObserver interface {
	ObserveFrame(direction Direction, frame transport.Frame)
}

func isBusy(err error) bool { return errors.Is(err, transport.ErrBusy) }
