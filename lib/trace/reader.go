// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bufio"
	"io"
)

// Reader reads records from a trace in order.
type Reader struct {
	r       *bufio.Reader
	header  Header
	pending []record
	next    int
	chunks  int
}

// NewReader reads and checks the trace header.
func NewReader(r io.Reader) (*Reader, error) {
	buffered := bufio.NewReader(r)
	header, err := readHeader(buffered)
	if err != nil {
		return nil, err
	}
	return &Reader{r: buffered, header: header}, nil
}

// Header returns the trace header.
func (r *Reader) Header() Header { return r.header }

// Chunks reports how many chunks have been read and verified.
func (r *Reader) Chunks() int { return r.chunks }

// Next returns the next record, or io.EOF after the last one. A
// damaged chunk returns an error wrapping ErrCorrupt; the records of
// earlier chunks remain valid.
func (r *Reader) Next() (Record, error) {
	for r.next >= len(r.pending) {
		records, err := readChunk(r.r)
		if err != nil {
			return Record{}, err
		}
		r.chunks++
		r.pending = records
		r.next = 0
	}
	stored := r.pending[r.next]
	r.next++
	return fromStored(stored, r.header.StartedAt)
}

// ReadAll reads every record of a trace.
func ReadAll(r io.Reader) (Header, []Record, error) {
	reader, err := NewReader(r)
	if err != nil {
		return Header{}, nil, err
	}
	var records []Record
	for {
		record, err := reader.Next()
		if err == io.EOF {
			return reader.Header(), records, nil
		}
		if err != nil {
			return reader.Header(), records, err
		}
		records = append(records, record)
	}
}
