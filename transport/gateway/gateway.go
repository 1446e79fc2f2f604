// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/transport"
)

// DefaultBitrate is the arm's bus bitrate.
const DefaultBitrate = 1_000_000

// receiveBuffer is how many parsed frames wait for Receive before the
// reader starts dropping.
const receiveBuffer = 256

// Config selects the adapter.
type Config struct {
	// Address is "tcp://host:port" for a network gateway, or a device
	// path such as /dev/ttyACM0.
	Address string

	// Bitrate is the CAN bitrate programmed at open. Defaults to
	// DefaultBitrate.
	Bitrate int

	// DialTimeout bounds opening a TCP gateway.
	DialTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// stream is the byte transport under the SLCAN protocol.
type stream interface {
	io.ReadWriteCloser
	SetWriteDeadline(time.Time) error
}

// Bus is an open SLCAN adapter.
type Bus struct {
	stream  stream
	restore func()
	clock   clock.Clock
	logger  *slog.Logger

	frames chan transport.Frame
	filter atomic.Pointer[[]transport.IDRange]

	writeMu sync.Mutex

	// lost is closed when the reader stops; lostErr is set before.
	lost    chan struct{}
	lostErr error

	closeOnce sync.Once
	closed    chan struct{}

	dropped atomic.Uint64
}

// Open connects to the adapter and programs its bitrate.
func Open(ctx context.Context, config Config) (*Bus, error) {
	if config.Address == "" {
		return nil, errors.New("gateway: address is required")
	}
	if config.Bitrate == 0 {
		config.Bitrate = DefaultBitrate
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	var s stream
	restore := func() {}
	if address, ok := strings.CutPrefix(config.Address, "tcp://"); ok {
		dialer := net.Dialer{Timeout: config.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, transport.Fatal("open", fmt.Errorf("dialing %s: %w", address, err))
		}
		s = conn
	} else {
		file, err := os.OpenFile(config.Address, os.O_RDWR|openNoCTTY, 0)
		if err != nil {
			return nil, transport.Fatal("open", err)
		}
		fd := int(file.Fd())
		if term.IsTerminal(fd) {
			state, err := term.MakeRaw(fd)
			if err != nil {
				file.Close()
				return nil, transport.Fatal("open", fmt.Errorf("raw mode on %s: %w", config.Address, err))
			}
			restore = func() { term.Restore(fd, state) }
		}
		s = file
	}

	bus, err := newBus(s, config)
	if err != nil {
		restore()
		s.Close()
		return nil, err
	}
	bus.restore = restore
	return bus, nil
}

// newBus runs the setup sequence on s and starts the reader.
func newBus(s stream, config Config) (*Bus, error) {
	if config.Bitrate == 0 {
		config.Bitrate = DefaultBitrate
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	commands, err := setupCommands(config.Bitrate)
	if err != nil {
		return nil, err
	}
	for _, command := range commands {
		if _, err := io.WriteString(s, command); err != nil {
			return nil, transport.Fatal("open", fmt.Errorf("sending %q: %w", strings.TrimSpace(command), err))
		}
	}

	b := &Bus{
		stream:  s,
		restore: func() {},
		clock:   config.Clock,
		logger:  config.Logger,
		frames:  make(chan transport.Frame, receiveBuffer),
		lost:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go b.read()
	return b, nil
}

// read parses lines until the stream fails.
func (b *Bus) read() {
	defer close(b.lost)
	reader := bufio.NewReader(b.stream)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			b.lostErr = err
			return
		}
		line = strings.TrimRight(line, "\r")
		// Some adapters precede replies with BEL on error or emit a
		// bare newline between frames.
		line = strings.TrimLeft(line, "\a\n")
		frame, err := parseFrame(line)
		if errors.Is(err, errNotFrame) {
			continue
		}
		if err != nil {
			b.logger.Debug("discarding unparseable line", "error", err)
			continue
		}
		frame.Timestamp = b.clock.Now()
		select {
		case b.frames <- frame:
		default:
			b.dropped.Add(1)
		}
	}
}

// RX returns the receive half. It implements [transport.Filterer].
func (b *Bus) RX() transport.Receiver { return receiver{b} }

// TX returns the transmit half.
func (b *Bus) TX() transport.Transmitter { return transmitter{b} }

// Dropped reports frames discarded because nobody was receiving.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes the channel on the adapter and the stream.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		b.writeMu.Lock()
		b.stream.SetWriteDeadline(time.Now().Add(100 * time.Millisecond)) //nolint:realclock // kernel I/O deadline
		io.WriteString(b.stream, "C\r")
		b.writeMu.Unlock()
		b.restore()
		err = b.stream.Close()
	})
	return err
}

type receiver struct{ bus *Bus }

func (r receiver) Receive(timeout time.Duration) (transport.Frame, error) {
	b := r.bus
	expired := b.clock.After(timeout)
	for {
		select {
		case frame := <-b.frames:
			if ranges := b.filter.Load(); ranges != nil && !transport.MatchAny(*ranges, frame.ID) {
				continue
			}
			return frame, nil
		case <-expired:
			return transport.Frame{}, transport.ErrTimeout
		case <-b.closed:
			return transport.Frame{}, transport.Fatal("receive", transport.ErrClosed)
		case <-b.lost:
			return transport.Frame{}, transport.Fatal("receive", fmt.Errorf("adapter stream lost: %w", b.lostErr))
		}
	}
}

func (r receiver) SetFilter(ranges []transport.IDRange) error {
	if len(ranges) == 0 {
		r.bus.filter.Store(nil)
		return nil
	}
	copied := append([]transport.IDRange(nil), ranges...)
	r.bus.filter.Store(&copied)
	return nil
}

type transmitter struct{ bus *Bus }

func (t transmitter) Send(frame transport.Frame, timeout time.Duration) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	b := t.bus
	select {
	case <-b.closed:
		return transport.Fatal("send", transport.ErrClosed)
	case <-b.lost:
		return transport.Fatal("send", fmt.Errorf("adapter stream lost: %w", b.lostErr))
	default:
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if timeout > 0 {
		// Files without deadline support return an error here and
		// simply block on write instead.
		b.stream.SetWriteDeadline(time.Now().Add(timeout)) //nolint:realclock // kernel I/O deadline
	}
	if _, err := io.WriteString(b.stream, formatFrame(frame)); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return transport.ErrTimeout
		}
		return transport.Fatal("send", err)
	}
	return nil
}
