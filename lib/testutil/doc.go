// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by armlink tests.
//
// [RequireReceive] and [RequireClosed] wrap the select with a
// wall-clock fallback that keeps a broken test from hanging the suite.
// [RequireEventually] polls a condition the same way. They are the only
// place tests use real timeouts; everything else runs on lib/clock's
// fake clock.
//
// Helpers call t.Fatalf on failure.
package testutil
