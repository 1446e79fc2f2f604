// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/transport"
)

// frameSize is sizeof(struct can_frame): a host-order 32-bit
// identifier word, the length, three bytes of padding and reserved
// fields, then eight data bytes.
const frameSize = 16

// Bus is an open SocketCAN interface.
type Bus struct {
	rx *receiver
	tx *transmitter
}

// Open binds receive and transmit sockets to config.Interface.
func Open(config Config) (*Bus, error) {
	if config.Interface == "" {
		return nil, errors.New("socketcan: interface name is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	iface, err := net.InterfaceByName(config.Interface)
	if err != nil {
		return nil, transport.Fatal("open", fmt.Errorf("interface %s: %w", config.Interface, err))
	}

	rxFD, err := openSocket(iface.Index)
	if err != nil {
		return nil, transport.Fatal("open", fmt.Errorf("receive socket on %s: %w", config.Interface, err))
	}
	txFD, err := openSocket(iface.Index)
	if err != nil {
		unix.Close(rxFD)
		return nil, transport.Fatal("open", fmt.Errorf("transmit socket on %s: %w", config.Interface, err))
	}

	// The transmit socket never reads; an empty filter keeps its
	// receive queue from filling with bus traffic.
	if err := unix.SetsockoptCanRawFilter(txFD, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, nil); err != nil {
		unix.Close(rxFD)
		unix.Close(txFD)
		return nil, transport.Fatal("open", fmt.Errorf("clearing transmit socket filter: %w", err))
	}
	if !config.Echo {
		if err := unix.SetsockoptInt(txFD, unix.SOL_CAN_RAW, unix.CAN_RAW_LOOPBACK, 0); err != nil {
			unix.Close(rxFD)
			unix.Close(txFD)
			return nil, transport.Fatal("open", fmt.Errorf("disabling loopback: %w", err))
		}
	}

	return &Bus{
		rx: &receiver{socket: socket{fd: rxFD}, clock: config.Clock},
		tx: &transmitter{socket: socket{fd: txFD}},
	}, nil
}

func openSocket(ifindex int) (int, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.CAN_RAW)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	return fd, nil
}

// RX returns the receive half. It implements [transport.Filterer].
func (b *Bus) RX() transport.Receiver { return b.rx }

// TX returns the transmit half.
func (b *Bus) TX() transport.Transmitter { return b.tx }

// Close closes both sockets. It waits for an in-progress receive or
// send to return, which takes at most that call's timeout.
func (b *Bus) Close() error {
	return errors.Join(b.rx.close(), b.tx.close())
}

// socket serialises use of a descriptor against closing it, so a
// closed descriptor number is never reused under a blocked poll.
type socket struct {
	mu     sync.RWMutex
	fd     int
	closed bool
}

func (s *socket) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

// wait polls for events until timeout. It reports false on timeout.
func (s *socket) wait(events int16, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	for {
		count, err := unix.Poll(fds, pollMillis(timeout))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if count == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && fds[0].Revents&events == 0 {
			return false, unix.ENETDOWN
		}
		return true, nil
	}
}

// pollMillis rounds timeout up to whole milliseconds so a short
// positive timeout still waits.
func pollMillis(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}

type receiver struct {
	socket
	clock clock.Clock
}

// Receive waits at most timeout for a frame.
func (r *receiver) Receive(timeout time.Duration) (transport.Frame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return transport.Frame{}, transport.Fatal("receive", transport.ErrClosed)
	}

	ready, err := r.wait(unix.POLLIN, timeout)
	if err != nil {
		return transport.Frame{}, classify("receive", err)
	}
	if !ready {
		return transport.Frame{}, transport.ErrTimeout
	}

	var buffer [frameSize]byte
	n, _, flags, _, err := unix.Recvmsg(r.fd, buffer[:], nil, 0)
	if err == unix.EAGAIN {
		return transport.Frame{}, transport.ErrTimeout
	}
	if err != nil {
		return transport.Frame{}, classify("receive", err)
	}
	if n < frameSize {
		return transport.Frame{}, fmt.Errorf("socketcan: short read of %d bytes", n)
	}
	frame := decodeFrame(buffer)
	// MSG_DONTROUTE marks frames that originated on this host and
	// MSG_CONFIRM frames sent by this very socket.
	if flags&(unix.MSG_DONTROUTE|unix.MSG_CONFIRM) != 0 {
		frame.Flags |= transport.FlagEcho
	}
	frame.Timestamp = r.clock.Now()
	return frame, nil
}

// SetFilter programs the kernel filter to pass only ranges. An empty
// list passes everything.
func (r *receiver) SetFilter(ranges []transport.IDRange) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return transport.Fatal("filter", transport.ErrClosed)
	}
	filters := kernelFilters(ranges)
	if len(filters) == 0 {
		filters = []unix.CanFilter{{Id: 0, Mask: 0}}
	}
	if err := unix.SetsockoptCanRawFilter(r.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
		return fmt.Errorf("socketcan: setting filter: %w", err)
	}
	return nil
}

type transmitter struct {
	socket
}

// Send writes frame, waiting at most timeout for room in the
// interface's transmit queue.
func (t *transmitter) Send(frame transport.Frame, timeout time.Duration) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return transport.Fatal("send", transport.ErrClosed)
	}

	buffer := encodeFrame(frame)
	for {
		_, err := unix.Write(t.fd, buffer[:])
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN && err != unix.ENOBUFS {
			return classify("send", err)
		}
		if timeout <= 0 {
			return transport.ErrBusy
		}
		ready, err := t.wait(unix.POLLOUT, timeout)
		if err != nil {
			return classify("send", err)
		}
		if !ready {
			return transport.ErrTimeout
		}
		// One more attempt after the queue drained.
		timeout = 0
	}
}

// classify maps errno values that mean the interface is gone or
// unusable to fatal errors. Anything else is transient.
func classify(op string, err error) error {
	switch err {
	case unix.ENODEV, unix.ENXIO, unix.ENETDOWN, unix.EBADF, unix.EPERM, unix.EACCES:
		return transport.Fatal(op, err)
	case unix.ENOBUFS, unix.EAGAIN:
		return transport.ErrBusy
	}
	return fmt.Errorf("socketcan: %s: %w", op, err)
}

func encodeFrame(frame transport.Frame) [frameSize]byte {
	var buffer [frameSize]byte
	id := frame.ID
	if frame.Extended {
		id = id&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG
	} else {
		id &= unix.CAN_SFF_MASK
	}
	if frame.Flags&transport.FlagRemote != 0 {
		id |= unix.CAN_RTR_FLAG
	}
	binary.NativeEndian.PutUint32(buffer[0:4], id)
	buffer[4] = frame.Len
	copy(buffer[8:], frame.Payload())
	return buffer
}

func decodeFrame(buffer [frameSize]byte) transport.Frame {
	word := binary.NativeEndian.Uint32(buffer[0:4])
	var frame transport.Frame
	if word&unix.CAN_EFF_FLAG != 0 {
		frame.Extended = true
		frame.ID = word & unix.CAN_EFF_MASK
	} else {
		frame.ID = word & unix.CAN_SFF_MASK
	}
	if word&unix.CAN_RTR_FLAG != 0 {
		frame.Flags |= transport.FlagRemote
	}
	if word&unix.CAN_ERR_FLAG != 0 {
		frame.Flags |= transport.FlagError
	}
	frame.Len = min(buffer[4], 8)
	copy(frame.Data[:], buffer[8:8+frame.Len])
	return frame
}

// kernelFilters expresses each identifier range as the smallest set of
// id/mask pairs that cover exactly that range. The kernel matches a
// frame when received_id & mask == id & mask.
func kernelFilters(ranges []transport.IDRange) []unix.CanFilter {
	var filters []unix.CanFilter
	for _, r := range ranges {
		first, last := r.First, r.Last
		if first > last {
			continue
		}
		extended := last > transport.StandardIDMask
		idMask := uint32(transport.StandardIDMask)
		if extended {
			idMask = transport.ExtendedIDMask
		}
		last = min(last, idMask)
		for first <= last {
			// Largest aligned block starting at first that fits.
			size := uint32(1) << bits.TrailingZeros32(first|(idMask+1))
			for size > 1 && first+size-1 > last {
				size >>= 1
			}
			mask := idMask &^ (size - 1)
			id := first
			if extended {
				id |= unix.CAN_EFF_FLAG
			}
			filters = append(filters, unix.CanFilter{
				Id:   id,
				Mask: mask | unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG,
			})
			first += size
		}
	}
	return filters
}
