// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/armlink/lib/clock"
)

// ErrDisconnected is wrapped in a FatalError once a virtual device has
// been severed.
var ErrDisconnected = errors.New("transport: device disconnected")

// DefaultVirtualBuffer is the per-direction frame buffer of a virtual
// bus, roughly the depth of a SocketCAN queue.
const DefaultVirtualBuffer = 256

type virtualOptions struct {
	buffer   int
	loopback bool
	clock    clock.Clock
}

// VirtualOption configures NewVirtual.
type VirtualOption func(*virtualOptions)

// WithLoopback makes the host receive a copy of every frame it sends,
// flagged FlagEcho, as a SocketCAN interface with loopback does.
func WithLoopback() VirtualOption {
	return func(o *virtualOptions) { o.loopback = true }
}

// WithBuffer sets the per-direction buffer depth.
func WithBuffer(frames int) VirtualOption {
	return func(o *virtualOptions) { o.buffer = frames }
}

// WithClock sets the clock used for timeouts and arrival timestamps.
func WithClock(c clock.Clock) VirtualOption {
	return func(o *virtualOptions) { o.clock = c }
}

// NewVirtual returns a connected host bus and the device peer on the
// other end of it.
func NewVirtual(options ...VirtualOption) (*VirtualBus, *VirtualPeer) {
	config := virtualOptions{buffer: DefaultVirtualBuffer, clock: clock.Real()}
	for _, option := range options {
		option(&config)
	}
	link := &virtualLink{
		toDevice: make(chan Frame, config.buffer),
		toHost:   make(chan Frame, config.buffer),
		closed:   make(chan struct{}),
		severed:  make(chan struct{}),
		clock:    config.clock,
		loopback: config.loopback,
	}
	return &VirtualBus{link: link}, &VirtualPeer{link: link}
}

type virtualLink struct {
	toDevice chan Frame
	toHost   chan Frame

	closeOnce sync.Once
	closed    chan struct{}
	severOnce sync.Once
	severed   chan struct{}

	clock    clock.Clock
	loopback bool
	filter   atomic.Pointer[[]IDRange]

	// failures holds errors returned by the next host sends, in order.
	failuresMu sync.Mutex
	failures   []error

	hostSent atomic.Uint64
}

func (l *virtualLink) dead(op string) error {
	select {
	case <-l.closed:
		return Fatal(op, ErrClosed)
	case <-l.severed:
		return Fatal(op, ErrDisconnected)
	default:
		return nil
	}
}

// VirtualBus is the host side of a virtual bus. It implements Bus, and
// its receive half implements Filterer.
type VirtualBus struct {
	link *virtualLink
}

// RX returns the receive half.
func (b *VirtualBus) RX() Receiver { return virtualRX{b.link} }

// TX returns the transmit half.
func (b *VirtualBus) TX() Transmitter { return virtualTX{b.link} }

// Close closes the bus for both sides.
func (b *VirtualBus) Close() error {
	b.link.closeOnce.Do(func() { close(b.link.closed) })
	return nil
}

// FailNextSends makes the next len(errs) host sends return errs in
// order without delivering the frame.
func (b *VirtualBus) FailNextSends(errs ...error) {
	b.link.failuresMu.Lock()
	defer b.link.failuresMu.Unlock()
	b.link.failures = append(b.link.failures, errs...)
}

// Sent reports how many frames the host has successfully sent.
func (b *VirtualBus) Sent() uint64 { return b.link.hostSent.Load() }

type virtualRX struct{ link *virtualLink }

func (r virtualRX) Receive(timeout time.Duration) (Frame, error) {
	if err := r.link.dead("receive"); err != nil {
		return Frame{}, err
	}
	expired := r.link.clock.After(timeout)
	for {
		select {
		case frame := <-r.link.toHost:
			if ranges := r.link.filter.Load(); ranges != nil && !MatchAny(*ranges, frame.ID) {
				continue
			}
			if frame.Timestamp.IsZero() {
				frame.Timestamp = r.link.clock.Now()
			}
			return frame, nil
		case <-expired:
			return Frame{}, ErrTimeout
		case <-r.link.closed:
			return Frame{}, Fatal("receive", ErrClosed)
		case <-r.link.severed:
			return Frame{}, Fatal("receive", ErrDisconnected)
		}
	}
}

func (r virtualRX) SetFilter(ranges []IDRange) error {
	if len(ranges) == 0 {
		r.link.filter.Store(nil)
		return nil
	}
	copied := append([]IDRange(nil), ranges...)
	r.link.filter.Store(&copied)
	return nil
}

type virtualTX struct{ link *virtualLink }

func (t virtualTX) Send(frame Frame, timeout time.Duration) error {
	if err := t.link.dead("send"); err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	if err := t.link.nextFailure(); err != nil {
		return err
	}
	frame.Flags &^= FlagEcho
	frame.Timestamp = time.Time{}
	select {
	case t.link.toDevice <- frame:
	default:
		if timeout <= 0 {
			return ErrBusy
		}
		select {
		case t.link.toDevice <- frame:
		case <-t.link.clock.After(timeout):
			return ErrTimeout
		case <-t.link.closed:
			return Fatal("send", ErrClosed)
		case <-t.link.severed:
			return Fatal("send", ErrDisconnected)
		}
	}
	t.link.hostSent.Add(1)
	if t.link.loopback {
		echo := frame
		echo.Flags |= FlagEcho
		select {
		case t.link.toHost <- echo:
		default:
		}
	}
	return nil
}

func (l *virtualLink) nextFailure() error {
	l.failuresMu.Lock()
	defer l.failuresMu.Unlock()
	if len(l.failures) == 0 {
		return nil
	}
	err := l.failures[0]
	l.failures = l.failures[1:]
	return err
}

// VirtualPeer is the device side of a virtual bus.
type VirtualPeer struct {
	link *virtualLink
}

// Inbox delivers frames sent by the host.
func (p *VirtualPeer) Inbox() <-chan Frame { return p.link.toDevice }

// Send delivers frame to the host. It returns ErrBusy when the host's
// receive buffer is full.
func (p *VirtualPeer) Send(frame Frame) error {
	if err := p.link.dead("send"); err != nil {
		return err
	}
	select {
	case p.link.toHost <- frame:
		return nil
	default:
		return ErrBusy
	}
}

// Receive waits at most timeout for a frame from the host.
func (p *VirtualPeer) Receive(timeout time.Duration) (Frame, error) {
	select {
	case frame := <-p.link.toDevice:
		return frame, nil
	case <-p.link.clock.After(timeout):
		return Frame{}, ErrTimeout
	case <-p.link.closed:
		return Frame{}, Fatal("receive", ErrClosed)
	}
}

// Sever simulates the device vanishing: every subsequent host receive
// and send fails fatally.
func (p *VirtualPeer) Sever() {
	p.link.severOnce.Do(func() { close(p.link.severed) })
}

// Closed is closed when the host closes the bus.
func (p *VirtualPeer) Closed() <-chan struct{} { return p.link.closed }
