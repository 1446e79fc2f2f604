// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socketcan

import (
	"github.com/bureau-foundation/armlink/lib/clock"
)

// Config selects the interface and its options.
type Config struct {
	// Interface is the network interface name, e.g. "can0".
	Interface string

	// Echo keeps the kernel's local loopback of transmitted frames on,
	// so other programs on this host see them and the receive socket
	// gets them back flagged as echoes.
	Echo bool

	// Clock stamps received frames. Defaults to the real clock.
	Clock clock.Clock
}
