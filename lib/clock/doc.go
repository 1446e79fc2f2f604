// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the
// armlink workers.
//
// The TX worker measures its per-tick budget, sleeps between realtime
// retries, and the state monitor polls on a ticker. All of these go
// through a Clock so tests can drive them deterministically:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go worker.run(ctx, c)
//	c.WaitForTimers(1)             // worker has registered its ticker
//	c.Advance(50 * time.Millisecond) // fire exactly one poll
//
// WaitForTimers removes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
