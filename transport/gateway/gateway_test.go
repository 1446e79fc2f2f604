// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/armlink/transport"
)

func TestFormatFrame(t *testing.T) {
	tests := []struct {
		frame transport.Frame
		want  string
	}{
		{transport.NewFrame(0x151, []byte{0x01, 0x01, 0x1E, 0xAD}), "t151401011EAD\r"},
		{transport.NewFrame(0x7FF, nil), "t7FF0\r"},
		{transport.Frame{ID: 0x18FF50E5, Extended: true, Len: 2, Data: [8]byte{0xAB, 0xCD}}, "T18FF50E52ABCD\r"},
		{transport.Frame{ID: 0x123, Len: 3, Flags: transport.FlagRemote}, "r1233\r"},
	}
	for _, test := range tests {
		if got := formatFrame(test.frame); got != test.want {
			t.Errorf("formatFrame(%s) = %q, want %q", test.frame, got, test.want)
		}
	}
}

func TestParseFrame(t *testing.T) {
	frame, err := parseFrame("t2A58000102030405060712AB")
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if frame.ID != 0x2A5 || frame.Len != 8 || frame.Data[7] != 0x07 || frame.Extended {
		t.Fatalf("frame = %+v", frame)
	}

	extended, err := parseFrame("T18FF50E52ABCD")
	if err != nil || !extended.Extended || extended.ID != 0x18FF50E5 || extended.Data[1] != 0xCD {
		t.Fatalf("extended = %+v, %v", extended, err)
	}

	remote, err := parseFrame("R000001234")
	if err != nil || remote.Flags&transport.FlagRemote == 0 || remote.Len != 4 {
		t.Fatalf("remote = %+v, %v", remote, err)
	}

	for _, line := range []string{"", "z", "Z", "V1013", "N1234"} {
		if _, err := parseFrame(line); !errors.Is(err, errNotFrame) {
			t.Errorf("parseFrame(%q) = %v, want errNotFrame", line, err)
		}
	}
	for _, line := range []string{"t2A", "t2A59", "t2A520", "t2A51ZZ", "tXYZ0"} {
		if _, err := parseFrame(line); err == nil || errors.Is(err, errNotFrame) {
			t.Errorf("parseFrame(%q) = %v, want a parse error", line, err)
		}
	}
}

func TestFormatParseAgree(t *testing.T) {
	frame := transport.NewFrame(0x155, []byte{0, 1, 0xE2, 0x40, 0xFF, 0xFE, 0x1D, 0xC0})
	parsed, err := parseFrame(strings.TrimSuffix(formatFrame(frame), "\r"))
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if parsed.ID != frame.ID || parsed.Len != frame.Len || parsed.Data != frame.Data {
		t.Fatalf("parsed %+v, want %+v", parsed, frame)
	}
}

func TestSetupRejectsUnknownBitrate(t *testing.T) {
	if _, err := setupCommands(333_000); err == nil {
		t.Fatal("setupCommands accepted 333 kbit/s")
	}
	commands, err := setupCommands(500_000)
	if err != nil || strings.Join(commands, "") != "C\rS6\rO\r" {
		t.Fatalf("setupCommands(500k) = %q, %v", commands, err)
	}
}

// openPipe starts a bus over one end of a pipe and consumes the setup
// sequence on the other. The returned reader reads host output lines.
func openPipe(t *testing.T) (*Bus, net.Conn, *bufio.Reader) {
	t.Helper()
	host, device := net.Pipe()
	device.SetDeadline(time.Now().Add(10 * time.Second))
	reader := bufio.NewReader(device)

	type result struct {
		bus *Bus
		err error
	}
	opened := make(chan result, 1)
	go func() {
		bus, err := newBus(host, Config{})
		opened <- result{bus, err}
	}()
	for _, want := range []string{"C\r", "S8\r", "O\r"} {
		line, err := reader.ReadString('\r')
		if err != nil || line != want {
			t.Fatalf("setup line = %q, %v; want %q", line, err, want)
		}
	}
	r := <-opened
	if r.err != nil {
		t.Fatalf("newBus: %v", r.err)
	}
	t.Cleanup(func() {
		go io.Copy(io.Discard, device)
		r.bus.Close()
		device.Close()
	})
	return r.bus, device, reader
}

func TestBusReceivesAndFilters(t *testing.T) {
	bus, device, _ := openPipe(t)
	bus.RX().(transport.Filterer).SetFilter([]transport.IDRange{{First: 0x2A1, Last: 0x2A8}})

	go io.WriteString(device, "z\rt1510\rt2A120102\r")
	frame, err := bus.RX().Receive(5 * time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if frame.ID != 0x2A1 || frame.Len != 2 || frame.Data[1] != 0x02 {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Timestamp.IsZero() {
		t.Fatal("frame not timestamped")
	}
	if frame.IsEcho() {
		t.Fatal("gateway frame flagged as echo")
	}
}

func TestBusSends(t *testing.T) {
	bus, _, reader := openPipe(t)
	errs := make(chan error, 1)
	go func() {
		errs <- bus.TX().Send(transport.NewFrame(0x150, []byte{1}), time.Second)
	}()
	line, err := reader.ReadString('\r')
	if err != nil || line != "t150101\r" {
		t.Fatalf("device read %q, %v", line, err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestStreamLossIsFatal(t *testing.T) {
	bus, device, _ := openPipe(t)
	device.Close()

	_, err := bus.RX().Receive(5 * time.Second)
	if !transport.IsFatal(err) {
		t.Fatalf("Receive after loss = %v, want fatal", err)
	}
	if err := bus.TX().Send(transport.NewFrame(0x150, nil), time.Second); !transport.IsFatal(err) {
		t.Fatalf("Send after loss = %v, want fatal", err)
	}
}

func TestReceiveTimesOut(t *testing.T) {
	bus, _, _ := openPipe(t)
	if _, err := bus.RX().Receive(10 * time.Millisecond); !transport.IsTimeout(err) {
		t.Fatalf("Receive = %v, want timeout", err)
	}
}
