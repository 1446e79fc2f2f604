// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/robot"
)

// Source is the view of a pipeline the server needs. *control.Pipeline
// implements it.
type Source interface {
	SessionID() string
	Snapshot() *robot.Snapshot
	Validity() control.ValidityDetail
	Invalidated() <-chan struct{}
	ResetValidity()
	MonitorState() control.MonitorState
	Metrics() control.MetricsSnapshot
}

var _ Source = (*control.Pipeline)(nil)
