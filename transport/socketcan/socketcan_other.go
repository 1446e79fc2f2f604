// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package socketcan

import (
	"errors"

	"github.com/bureau-foundation/armlink/transport"
)

// Bus is unavailable on this platform.
type Bus struct{}

// Open always fails on platforms without SocketCAN.
func Open(config Config) (*Bus, error) {
	return nil, errors.New("socketcan: only supported on linux")
}

func (*Bus) RX() transport.Receiver    { return nil }
func (*Bus) TX() transport.Transmitter { return nil }
func (*Bus) Close() error              { return nil }
