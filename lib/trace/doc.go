// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace records bus traffic to a file and reads it back.
//
// A trace file is the magic bytes "ARMTRACE", a format version byte, a
// length-prefixed CBOR [Header], then a sequence of chunks until end of
// file. Each chunk holds a CBOR array of frame records, optionally
// compressed, and carries a BLAKE3 keyed hash of its uncompressed
// bytes so truncation and corruption are detected per chunk:
//
//	tag        1 byte   compression ([CompressionTag])
//	raw size   4 bytes  big-endian uncompressed length
//	size       4 bytes  big-endian stored length
//	hash      32 bytes  keyed BLAKE3 of the uncompressed bytes
//	payload    size bytes
//
// [Recorder] implements the pipeline's frame observer: it never blocks
// the worker that calls it, and counts the frames it had to drop.
// [Reader] verifies and decodes a trace one record at a time.
package trace
