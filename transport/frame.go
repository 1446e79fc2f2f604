// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"strings"
	"time"
)

// MaxDataLength is the classic CAN payload limit.
const MaxDataLength = 8

// Identifier masks for standard (11-bit) and extended (29-bit) frames.
const (
	StandardIDMask uint32 = 0x7FF
	ExtendedIDMask uint32 = 0x1FFFFFFF
)

// Flags carry adapter-reported properties of a frame.
type Flags uint8

const (
	// FlagEcho marks a frame this host transmitted that the adapter
	// looped back to the receive half.
	FlagEcho Flags = 1 << iota
	// FlagRemote marks a remote transmission request.
	FlagRemote
	// FlagError marks a controller error frame.
	FlagError
)

func (f Flags) String() string {
	var parts []string
	if f&FlagEcho != 0 {
		parts = append(parts, "echo")
	}
	if f&FlagRemote != 0 {
		parts = append(parts, "rtr")
	}
	if f&FlagError != 0 {
		parts = append(parts, "err")
	}
	return strings.Join(parts, "|")
}

// Frame is one bus frame. It is a small value type; copies are
// independent.
type Frame struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [MaxDataLength]byte
	Flags    Flags

	// Timestamp is the arrival instant assigned by the receiving
	// adapter. Zero on frames built for transmission.
	Timestamp time.Time
}

// NewFrame builds a standard-identifier frame from id and payload.
// It panics if payload is longer than MaxDataLength, which is a
// programming error in the caller's encoder.
func NewFrame(id uint32, payload []byte) Frame {
	if len(payload) > MaxDataLength {
		panic(fmt.Sprintf("transport: payload of %d bytes for frame 0x%03X", len(payload), id))
	}
	frame := Frame{ID: id, Len: uint8(len(payload))}
	copy(frame.Data[:], payload)
	return frame
}

// Payload returns the valid bytes of Data.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	return f.Data[:n]
}

// IsEcho reports whether the adapter marked f as a loopback of a
// locally transmitted frame.
func (f Frame) IsEcho() bool { return f.Flags&FlagEcho != 0 }

// Validate checks that the identifier fits its format and the length
// fits the payload.
func (f Frame) Validate() error {
	mask := StandardIDMask
	if f.Extended {
		mask = ExtendedIDMask
	}
	if f.ID&^mask != 0 {
		return fmt.Errorf("transport: identifier 0x%X exceeds %d-bit range", f.ID, bitsOf(mask))
	}
	if f.Len > MaxDataLength {
		return fmt.Errorf("transport: frame 0x%03X length %d exceeds %d", f.ID, f.Len, MaxDataLength)
	}
	return nil
}

func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	for _, octet := range f.Payload() {
		fmt.Fprintf(&b, " %02X", octet)
	}
	if f.Flags != 0 {
		fmt.Fprintf(&b, " (%s)", f.Flags)
	}
	return b.String()
}

func bitsOf(mask uint32) int {
	n := 0
	for ; mask != 0; mask >>= 1 {
		n++
	}
	return n
}

// IDRange is an inclusive range of identifiers accepted by a filter.
type IDRange struct {
	First uint32
	Last  uint32
}

// Contains reports whether id lies in the range.
func (r IDRange) Contains(id uint32) bool { return id >= r.First && id <= r.Last }

// MatchAny reports whether id is accepted by ranges. An empty set
// accepts everything.
func MatchAny(ranges []IDRange, id uint32) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if r.Contains(id) {
			return true
		}
	}
	return false
}
