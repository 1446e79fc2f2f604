// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package socketcan is a [transport.Bus] over a Linux SocketCAN raw
// interface such as can0 or vcan0.
//
// Receive and transmit use separate raw sockets so the RX worker's
// poll never contends with the TX worker's writes. The receive socket
// carries the identifier filter; the transmit socket receives nothing.
// Frames sent by this host appear on the receive socket only when
// [Config.Echo] is set, and are then marked with [transport.FlagEcho]
// so the pipeline can drop them.
//
// On platforms other than Linux, [Open] returns an error.
package socketcan
