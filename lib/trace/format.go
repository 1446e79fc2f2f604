// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/codec"
	"github.com/bureau-foundation/armlink/transport"
)

const (
	magic = "ARMTRACE"
	// FormatVersion is written after the magic bytes.
	FormatVersion = 1

	chunkHeaderSize = 1 + 4 + 4 + 32

	// maxChunkSize bounds both sizes in a chunk header so a corrupt
	// header cannot request an enormous allocation.
	maxChunkSize = 16 << 20
	maxHeaderLen = 64 << 10
)

// ErrCorrupt is wrapped by every error reporting a damaged trace.
var ErrCorrupt = errors.New("trace: corrupt")

// chunkDomainKey separates trace chunk hashes from any other BLAKE3
// use of the same bytes.
var chunkDomainKey = [32]byte{
	'a', 'r', 'm', 'l', 'i', 'n', 'k', '.', 't', 'r', 'a', 'c', 'e', '.',
	'c', 'h', 'u', 'n', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func hashChunk(data []byte) [32]byte {
	hasher, err := blake3.NewKeyed(chunkDomainKey[:])
	if err != nil {
		panic("trace: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// Header describes a recording.
type Header struct {
	SessionID string `json:"session_id"`
	// Source names the bus the trace was recorded from.
	Source      string         `json:"source,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	Compression CompressionTag `json:"compression"`
	Version     string         `json:"version,omitempty"`
}

// storedHeader keeps StartedAt at nanosecond precision; record offsets
// are relative to it.
type storedHeader struct {
	SessionID   string `cbor:"1,keyasint"`
	Source      string `cbor:"2,keyasint,omitempty"`
	StartedAt   int64  `cbor:"3,keyasint"`
	Compression uint8  `cbor:"4,keyasint"`
	Version     string `cbor:"5,keyasint,omitempty"`
}

// Record is one observed frame.
type Record struct {
	// At is when the frame was received or handed to the adapter.
	At        time.Time
	Direction control.Direction
	Frame     transport.Frame
}

// record is the stored form of Record. Time is nanoseconds since the
// header's StartedAt to keep chunks compact.
type record struct {
	Offset    int64  `cbor:"1,keyasint"`
	Direction uint8  `cbor:"2,keyasint,omitempty"`
	ID        uint32 `cbor:"3,keyasint"`
	Extended  bool   `cbor:"4,keyasint,omitempty"`
	Flags     uint8  `cbor:"5,keyasint,omitempty"`
	Data      []byte `cbor:"6,keyasint"`
}

func toStored(r Record, start time.Time) record {
	return record{
		Offset:    r.At.Sub(start).Nanoseconds(),
		Direction: uint8(r.Direction),
		ID:        r.Frame.ID,
		Extended:  r.Frame.Extended,
		Flags:     uint8(r.Frame.Flags),
		Data:      append([]byte(nil), r.Frame.Payload()...),
	}
}

func fromStored(s record, start time.Time) (Record, error) {
	if len(s.Data) > transport.MaxDataLength {
		return Record{}, fmt.Errorf("%w: frame 0x%X has %d data bytes", ErrCorrupt, s.ID, len(s.Data))
	}
	at := start.Add(time.Duration(s.Offset))
	frame := transport.Frame{
		ID:        s.ID,
		Extended:  s.Extended,
		Len:       uint8(len(s.Data)),
		Flags:     transport.Flags(s.Flags),
		Timestamp: at,
	}
	copy(frame.Data[:], s.Data)
	return Record{At: at, Direction: control.Direction(s.Direction), Frame: frame}, nil
}

func writeHeader(w io.Writer, header Header) error {
	encoded, err := codec.Marshal(storedHeader{
		SessionID:   header.SessionID,
		Source:      header.Source,
		StartedAt:   header.StartedAt.UnixNano(),
		Compression: uint8(header.Compression),
		Version:     header.Version,
	})
	if err != nil {
		return fmt.Errorf("trace: encoding header: %w", err)
	}
	prefix := make([]byte, 0, len(magic)+1+4)
	prefix = append(prefix, magic...)
	prefix = append(prefix, FormatVersion)
	prefix = binary.BigEndian.AppendUint32(prefix, uint32(len(encoded)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("trace: writing header: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("trace: writing header: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (Header, error) {
	var prefix [len(magic) + 1 + 4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Header{}, fmt.Errorf("%w: reading file header: %v", ErrCorrupt, err)
	}
	if string(prefix[:len(magic)]) != magic {
		return Header{}, fmt.Errorf("%w: not a trace file", ErrCorrupt)
	}
	if version := prefix[len(magic)]; version != FormatVersion {
		return Header{}, fmt.Errorf("trace: unsupported format version %d", version)
	}
	length := binary.BigEndian.Uint32(prefix[len(magic)+1:])
	if length > maxHeaderLen {
		return Header{}, fmt.Errorf("%w: header length %d", ErrCorrupt, length)
	}
	encoded := make([]byte, length)
	if _, err := io.ReadFull(r, encoded); err != nil {
		return Header{}, fmt.Errorf("%w: reading header: %v", ErrCorrupt, err)
	}
	var stored storedHeader
	if err := codec.Unmarshal(encoded, &stored); err != nil {
		return Header{}, fmt.Errorf("%w: decoding header: %v", ErrCorrupt, err)
	}
	return Header{
		SessionID:   stored.SessionID,
		Source:      stored.Source,
		StartedAt:   time.Unix(0, stored.StartedAt).UTC(),
		Compression: CompressionTag(stored.Compression),
		Version:     stored.Version,
	}, nil
}

// writeChunk encodes records into one chunk.
func writeChunk(w io.Writer, records []record, tag CompressionTag) (int, error) {
	raw, err := codec.Marshal(records)
	if err != nil {
		return 0, fmt.Errorf("trace: encoding chunk: %w", err)
	}
	stored, storedTag, err := compress(raw, tag)
	if err != nil {
		return 0, fmt.Errorf("trace: compressing chunk: %w", err)
	}
	header := make([]byte, 0, chunkHeaderSize)
	header = append(header, byte(storedTag))
	header = binary.BigEndian.AppendUint32(header, uint32(len(raw)))
	header = binary.BigEndian.AppendUint32(header, uint32(len(stored)))
	sum := hashChunk(raw)
	header = append(header, sum[:]...)
	if _, err := w.Write(header); err != nil {
		return 0, fmt.Errorf("trace: writing chunk: %w", err)
	}
	if _, err := w.Write(stored); err != nil {
		return 0, fmt.Errorf("trace: writing chunk: %w", err)
	}
	return len(header) + len(stored), nil
}

// readChunk reads and verifies the next chunk. It returns io.EOF at a
// clean end of file.
func readChunk(r io.Reader) ([]record, error) {
	var header [chunkHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated chunk header: %v", ErrCorrupt, err)
	}
	tag := CompressionTag(header[0])
	rawSize := binary.BigEndian.Uint32(header[1:5])
	storedSize := binary.BigEndian.Uint32(header[5:9])
	if rawSize > maxChunkSize || storedSize > maxChunkSize {
		return nil, fmt.Errorf("%w: chunk sizes %d/%d", ErrCorrupt, storedSize, rawSize)
	}
	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, fmt.Errorf("%w: truncated chunk: %v", ErrCorrupt, err)
	}
	raw, err := decompress(stored, tag, int(rawSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if hashChunk(raw) != [32]byte(header[9:]) {
		return nil, fmt.Errorf("%w: chunk hash mismatch", ErrCorrupt)
	}
	var records []record
	if err := codec.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: decoding chunk: %v", ErrCorrupt, err)
	}
	return records, nil
}
