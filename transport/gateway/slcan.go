// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/armlink/transport"
)

// bitrateCodes maps bus bitrates to the SLCAN setup command suffix.
var bitrateCodes = map[int]byte{
	10_000:    '0',
	20_000:    '1',
	50_000:    '2',
	100_000:   '3',
	125_000:   '4',
	250_000:   '5',
	500_000:   '6',
	800_000:   '7',
	1_000_000: '8',
}

// setupCommands returns the lines that close the channel, set the
// bitrate and reopen it.
func setupCommands(bitrate int) ([]string, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return nil, fmt.Errorf("gateway: unsupported bitrate %d", bitrate)
	}
	return []string{"C\r", "S" + string(code) + "\r", "O\r"}, nil
}

const hexDigits = "0123456789ABCDEF"

// formatFrame renders frame as an SLCAN line including the trailing
// carriage return.
func formatFrame(frame transport.Frame) string {
	var b strings.Builder
	remote := frame.Flags&transport.FlagRemote != 0
	switch {
	case frame.Extended && remote:
		b.WriteByte('R')
	case frame.Extended:
		b.WriteByte('T')
	case remote:
		b.WriteByte('r')
	default:
		b.WriteByte('t')
	}
	if frame.Extended {
		fmt.Fprintf(&b, "%08X", frame.ID&transport.ExtendedIDMask)
	} else {
		fmt.Fprintf(&b, "%03X", frame.ID&transport.StandardIDMask)
	}
	b.WriteByte(hexDigits[frame.Len&0x0F])
	if !remote {
		for _, value := range frame.Payload() {
			b.WriteByte(hexDigits[value>>4])
			b.WriteByte(hexDigits[value&0x0F])
		}
	}
	b.WriteByte('\r')
	return b.String()
}

var errNotFrame = errors.New("not a frame line")

// parseFrame parses one line without its terminator. Lines that are
// not frames (acknowledgements, version replies) return errNotFrame.
// Anything after the payload, such as an adapter timestamp, is ignored.
func parseFrame(line string) (transport.Frame, error) {
	if line == "" {
		return transport.Frame{}, errNotFrame
	}
	var frame transport.Frame
	idDigits := 3
	switch line[0] {
	case 't':
	case 'T':
		frame.Extended = true
		idDigits = 8
	case 'r':
		frame.Flags |= transport.FlagRemote
	case 'R':
		frame.Extended = true
		frame.Flags |= transport.FlagRemote
		idDigits = 8
	default:
		return transport.Frame{}, errNotFrame
	}
	rest := line[1:]
	if len(rest) < idDigits+1 {
		return transport.Frame{}, fmt.Errorf("gateway: truncated frame line %q", line)
	}
	id, err := strconv.ParseUint(rest[:idDigits], 16, 32)
	if err != nil {
		return transport.Frame{}, fmt.Errorf("gateway: bad identifier in %q: %w", line, err)
	}
	frame.ID = uint32(id)
	length := rest[idDigits]
	if length < '0' || length > '8' {
		return transport.Frame{}, fmt.Errorf("gateway: bad length in %q", line)
	}
	frame.Len = length - '0'
	if frame.Flags&transport.FlagRemote != 0 {
		return frame, frame.Validate()
	}
	payload := rest[idDigits+1:]
	if len(payload) < 2*int(frame.Len) {
		return transport.Frame{}, fmt.Errorf("gateway: truncated payload in %q", line)
	}
	for i := range int(frame.Len) {
		value, err := strconv.ParseUint(payload[2*i:2*i+2], 16, 8)
		if err != nil {
			return transport.Frame{}, fmt.Errorf("gateway: bad payload in %q: %w", line, err)
		}
		frame.Data[i] = byte(value)
	}
	return frame, frame.Validate()
}
