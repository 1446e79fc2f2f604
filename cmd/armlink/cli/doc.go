// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the armlink
// binary: a tree of [Command] values with per-command pflag sets,
// generated help, and typo suggestions for unknown commands and flags.
//
// It also builds the process logger from the configured level and
// format, and carries [ExitError] for commands that have already
// reported their own failure.
package cli
