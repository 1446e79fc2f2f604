// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration for armlink's trace
// files.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same records always produce the same bytes. Chunk integrity hashes
// are computed over the encoded record block, and re-encoding a
// decoded chunk must reproduce it.
//
// Decoding treats its input as untrusted: duplicate map keys are
// rejected and array and map sizes are capped at [MaxElements].
//
//	data, err := codec.Marshal(records)
//	err = codec.Unmarshal(data, &records)
package codec
