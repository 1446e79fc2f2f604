// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package observe exposes a running control pipeline over HTTP.
//
// The server is read-mostly: operators and tooling poll the latest
// feedback snapshot, the validity record and the pipeline counters,
// or open a websocket on /v1/stream to receive snapshots as they
// change. The one write is POST /v1/validity/reset, which has the same
// effect as calling ResetValidity on the pipeline.
//
// Routes:
//
//	GET  /v1/state           latest snapshot and monitor state
//	GET  /v1/validity        validity record
//	POST /v1/validity/reset  mark the state valid again
//	GET  /v1/metrics         pipeline counters
//	GET  /v1/events?since=N  validity transitions retained by the event log
//	GET  /v1/stream          websocket of snapshots
//
// Validity transitions are captured by a [Watcher] into an [EventLog],
// a fixed-capacity ring addressed by sequence number so a client can
// resume with "everything since N" after reconnecting.
package observe
