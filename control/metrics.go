// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import "sync/atomic"

// Metrics are the pipeline's counters. Every field only increases.
// Workers update them with single atomic adds.
type Metrics struct {
	FramesSent     atomic.Uint64
	FramesReceived atomic.Uint64
	FramesDecoded  atomic.Uint64
	EchoFiltered   atomic.Uint64

	RealtimeOverwrites   atomic.Uint64
	RealtimeSuperseded   atomic.Uint64
	RealtimeSendFailures atomic.Uint64
	RealtimeRefused      atomic.Uint64
	ReliableRejections   atomic.Uint64
	ReliableDiscarded    atomic.Uint64
	BudgetExhausted      atomic.Uint64

	DeviceErrors atomic.Uint64
	RXTimeouts   atomic.Uint64
	TXTimeouts   atomic.Uint64
	TXBusy       atomic.Uint64

	MalformedFrames    atomic.Uint64
	UnknownFrames      atomic.Uint64
	SnapshotsPublished atomic.Uint64
	Invalidations      atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics. Counters are
// read individually, so a snapshot taken under load is not a single
// instant across fields.
type MetricsSnapshot struct {
	FramesSent     uint64 `json:"frames_sent"`
	FramesReceived uint64 `json:"frames_received"`
	FramesDecoded  uint64 `json:"frames_decoded"`
	EchoFiltered   uint64 `json:"echo_filtered"`

	RealtimeOverwrites   uint64 `json:"realtime_overwrites"`
	RealtimeSuperseded   uint64 `json:"realtime_superseded"`
	RealtimeSendFailures uint64 `json:"realtime_send_failures"`
	RealtimeRefused      uint64 `json:"realtime_refused"`
	ReliableRejections   uint64 `json:"reliable_rejections"`
	ReliableDiscarded    uint64 `json:"reliable_discarded"`
	BudgetExhausted      uint64 `json:"budget_exhausted"`

	DeviceErrors uint64 `json:"device_errors"`
	RXTimeouts   uint64 `json:"rx_timeouts"`
	TXTimeouts   uint64 `json:"tx_timeouts"`
	TXBusy       uint64 `json:"tx_busy"`

	MalformedFrames    uint64 `json:"malformed_frames"`
	UnknownFrames      uint64 `json:"unknown_frames"`
	SnapshotsPublished uint64 `json:"snapshots_published"`
	Invalidations      uint64 `json:"invalidations"`

	// ReliablePending is the current reliable queue depth, not a
	// counter.
	ReliablePending int `json:"reliable_pending"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FramesSent:           m.FramesSent.Load(),
		FramesReceived:       m.FramesReceived.Load(),
		FramesDecoded:        m.FramesDecoded.Load(),
		EchoFiltered:         m.EchoFiltered.Load(),
		RealtimeOverwrites:   m.RealtimeOverwrites.Load(),
		RealtimeSuperseded:   m.RealtimeSuperseded.Load(),
		RealtimeSendFailures: m.RealtimeSendFailures.Load(),
		RealtimeRefused:      m.RealtimeRefused.Load(),
		ReliableRejections:   m.ReliableRejections.Load(),
		ReliableDiscarded:    m.ReliableDiscarded.Load(),
		BudgetExhausted:      m.BudgetExhausted.Load(),
		DeviceErrors:         m.DeviceErrors.Load(),
		RXTimeouts:           m.RXTimeouts.Load(),
		TXTimeouts:           m.TXTimeouts.Load(),
		TXBusy:               m.TXBusy.Load(),
		MalformedFrames:      m.MalformedFrames.Load(),
		UnknownFrames:        m.UnknownFrames.Load(),
		SnapshotsPublished:   m.SnapshotsPublished.Load(),
		Invalidations:        m.Invalidations.Load(),
	}
}
