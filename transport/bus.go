// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "time"

// Receiver is the receive half of a bus.
type Receiver interface {
	// Receive returns the next frame, waiting at most timeout. It
	// returns ErrTimeout when nothing arrived in time.
	Receive(timeout time.Duration) (Frame, error)
}

// Transmitter is the transmit half of a bus.
type Transmitter interface {
	// Send queues frame for transmission, waiting at most timeout for
	// the adapter to accept it. A full transmit buffer is reported as
	// ErrBusy or ErrTimeout.
	Send(frame Frame, timeout time.Duration) error
}

// Filterer is implemented by receive halves that can restrict which
// identifiers they deliver.
type Filterer interface {
	// SetFilter replaces the accepted identifier set. An empty set
	// accepts everything.
	SetFilter(ranges []IDRange) error
}

// Bus is a connected adapter.
type Bus interface {
	RX() Receiver
	TX() Transmitter
	// Close releases the adapter. Blocked Receive and Send calls
	// return a fatal error.
	Close() error
}
