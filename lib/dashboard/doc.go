// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dashboard is a live terminal view of a control pipeline.
//
// The [Model] polls its [Source] on a fixed interval and renders the
// joints, drivers, gripper, validity record and pipeline counters.
// Rendering never blocks the pipeline: every value shown comes from
// the published snapshot or from atomic counters.
//
// Keys: r resets validity after the operator has dealt with the cause,
// q or ctrl+c quits.
package dashboard
