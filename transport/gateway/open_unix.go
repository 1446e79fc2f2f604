// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package gateway

import "golang.org/x/sys/unix"

// openNoCTTY keeps a serial adapter from becoming the controlling
// terminal.
const openNoCTTY = unix.O_NOCTTY
