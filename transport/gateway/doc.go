// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is a [transport.Bus] over a serial-line CAN adapter
// speaking the SLCAN ASCII protocol, reached either through a tty
// (USB-CAN dongles) or a TCP socket (network gateways that expose the
// same protocol).
//
// Each frame is one carriage-return terminated line: t (standard
// data), T (extended data), r and R (remote), followed by hex
// identifier, length digit and payload. A background reader parses the
// stream into a channel; losing the stream is fatal. SLCAN adapters do
// not echo transmitted frames, so no frame from this bus carries
// [transport.FlagEcho]. Identifier filtering is done in software.
package gateway
