// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"sync/atomic"

	"github.com/bureau-foundation/armlink/lib/robot"
)

// Publisher holds the latest snapshot. Publish is called only from the
// RX worker; Load may be called from anywhere and never blocks.
type Publisher struct {
	current  atomic.Pointer[robot.Snapshot]
	sequence uint64
}

// NewPublisher returns a publisher holding an empty snapshot.
func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(&robot.Snapshot{})
	return p
}

// Publish stores a copy of state as the new snapshot and returns it.
// Single writer.
func (p *Publisher) Publish(state robot.Snapshot) *robot.Snapshot {
	p.sequence++
	state.Sequence = p.sequence
	snapshot := &state
	p.current.Store(snapshot)
	return snapshot
}

// Load returns the latest snapshot. The result is shared and must not
// be modified.
func (p *Publisher) Load() *robot.Snapshot {
	return p.current.Load()
}
