// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui holds the shared look of armlink's terminal interfaces:
// the color palette and the mapping from arm health to color. Viewers
// built on bubbletea import it so that a fault looks the same in every
// screen.
package tui
