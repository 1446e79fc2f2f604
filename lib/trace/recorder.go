// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/transport"
)

// Recorder defaults.
const (
	DefaultChunkFrames   = 512
	DefaultFlushInterval = time.Second
	DefaultBuffer        = 4096
)

// RecorderConfig configures a Recorder. Zero values take defaults.
type RecorderConfig struct {
	// SessionID identifies the recording. Defaults to a random UUID;
	// set it to the pipeline's session ID to correlate with logs.
	SessionID string
	Source    string
	Version   string

	Compression CompressionTag

	// ChunkFrames is the number of records per chunk.
	ChunkFrames int
	// FlushInterval writes a partial chunk after this long, bounding
	// what a crash loses.
	FlushInterval time.Duration
	// Buffer is how many observed frames may wait for the writer
	// before new ones are dropped.
	Buffer int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Recorder writes observed frames to a trace. ObserveFrame is safe
// for concurrent use and never blocks; Run does the writing.
type Recorder struct {
	w       io.Writer
	header  Header
	config  RecorderConfig
	entries chan Record

	recorded atomic.Uint64
	dropped  atomic.Uint64
	chunks   atomic.Uint64
	written  atomic.Uint64
}

// RecorderStats are the recorder's counters.
type RecorderStats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Chunks   uint64 `json:"chunks"`
	Bytes    uint64 `json:"bytes"`
}

// NewRecorder writes the trace header to w and returns a recorder
// ready to Run.
func NewRecorder(w io.Writer, config RecorderConfig) (*Recorder, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}
	if config.ChunkFrames <= 0 {
		config.ChunkFrames = DefaultChunkFrames
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.Buffer <= 0 {
		config.Buffer = DefaultBuffer
	}
	if !config.Compression.known() {
		return nil, fmt.Errorf("trace: unsupported compression %v", config.Compression)
	}

	header := Header{
		SessionID:   config.SessionID,
		Source:      config.Source,
		StartedAt:   config.Clock.Now(),
		Compression: config.Compression,
		Version:     config.Version,
	}
	if err := writeHeader(w, header); err != nil {
		return nil, err
	}
	return &Recorder{
		w:       w,
		header:  header,
		config:  config,
		entries: make(chan Record, config.Buffer),
	}, nil
}

// Header returns the header written at creation.
func (r *Recorder) Header() Header { return r.header }

// ObserveFrame queues frame for writing. Frames without a timestamp
// are stamped with the recorder's clock.
func (r *Recorder) ObserveFrame(direction control.Direction, frame transport.Frame) {
	at := frame.Timestamp
	if at.IsZero() {
		at = r.config.Clock.Now()
	}
	select {
	case r.entries <- Record{At: at, Direction: direction, Frame: frame}:
	default:
		r.dropped.Add(1)
	}
}

// Run writes queued frames until ctx is cancelled, then writes what is
// still queued and returns. A write error stops the recorder.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := r.config.Clock.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]record, 0, r.config.ChunkFrames)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := writeChunk(r.w, batch, r.config.Compression)
		if err != nil {
			return err
		}
		r.recorded.Add(uint64(len(batch)))
		r.chunks.Add(1)
		r.written.Add(uint64(n))
		batch = batch[:0]
		return nil
	}
	add := func(entry Record) error {
		batch = append(batch, toStored(entry, r.header.StartedAt))
		if len(batch) >= r.config.ChunkFrames {
			return flush()
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.entries:
					if err := add(entry); err != nil {
						return err
					}
				default:
					err := flush()
					if err == nil {
						r.config.Logger.Info("trace recording finished",
							"session", r.header.SessionID,
							"recorded", r.recorded.Load(),
							"dropped", r.dropped.Load(),
							"chunks", r.chunks.Load(),
						)
					}
					return err
				}
			}
		case entry := <-r.entries:
			if err := add(entry); err != nil {
				return err
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// Stats returns the counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Chunks:   r.chunks.Load(),
		Bytes:    r.written.Load(),
	}
}
