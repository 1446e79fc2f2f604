// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the arm's command and feedback pipeline.
//
// A [Pipeline] owns four goroutines on top of a transport.Bus:
//
//   - The TX worker drains outbound commands. Realtime commands go
//     through a single overwrite slot: submitting replaces whatever
//     has not been sent yet, so the arm always receives the freshest
//     target. Reliable commands (mode changes, enable/disable,
//     emergency stop) go through a bounded FIFO and are sent in
//     submission order; a full queue is reported to the submitter as
//     [ErrQueueFull]. Each tick sends the realtime slot first, then
//     drains reliable frames until the queue is empty or the tick's
//     time budget is spent.
//   - The RX worker receives feedback, drops echoes of our own frames,
//     and folds each frame into a working snapshot. Frame groups (the
//     six joint positions, the end pose) are committed only once every
//     member arrived, so a published snapshot never mixes two cycles.
//     Snapshots are published through an atomic pointer; readers never
//     block the RX worker and never observe a torn update.
//   - The monitor polls the latest snapshot at 20 Hz and compares it
//     with what software expects: feedback freshness, fault bits, the
//     control mode and enable state set with [Pipeline.ExpectMode].
//   - The optional keep-alive worker submits a configured frame at a
//     fixed interval.
//
// Divergence between hardware and expectation lands in the
// [ValidityTracker]: a single atomic flag for the hot path and a
// mutex-guarded record with the first reason after the last reset.
// Once invalid, the pipeline stays invalid until [Pipeline.ResetValidity]
// or a new Start.
//
// Adapter errors are classified by the transport package. Timeouts and
// busy buses are counted in [Metrics] and retried; a fatal adapter
// error stops the pipeline, invalidates it, closes [Pipeline.Done] and
// is reported by [Pipeline.Err].
package control
