// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the bus adapter capability the control
// pipeline runs on, and an in-memory implementation of it.
//
// A connected adapter is a [Bus]: a receive half ([Receiver]) driven
// by the RX worker and a transmit half ([Transmitter]) driven by the
// TX worker. The halves are used from different goroutines and must
// not share locks that one side can hold while blocked. Adapters that
// can program identifier filters in hardware (or in their driver)
// also implement [Filterer] on the receive half.
//
// Error classification is part of the contract. [ErrTimeout] and
// [ErrBusy] are transient: the workers count them and keep running.
// Anything wrapped in a [*FatalError] (device removed, permission
// revoked, adapter closed) terminates the worker that saw it. Adapter
// implementations live in sub-packages: socketcan for Linux CAN
// sockets, gateway for SLCAN serial and TCP gateways, replay for
// recorded traces. [NewVirtual] connects a host bus to an in-process
// device peer for simulation and tests.
package transport
