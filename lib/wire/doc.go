// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire is the payload codec for the arm's CAN protocol.
//
// The identifier space is split by direction. Commands from the host
// live at 0x150-0x15F and 0x471; feedback from the arm at 0x251-0x256
// (per-joint fast driver data), 0x261-0x266 (per-joint slow driver
// data) and 0x2A1-0x2A8 (arm status, end pose, joint positions,
// gripper). Multi-byte fields are big-endian.
//
// Two feedback families are frame groups: joint positions span
// 0x2A5-0x2A7 and the end pose spans 0x2A2-0x2A4, two values per
// frame. [GroupOf] reports membership so a decoder can commit a group
// only after every member arrived.
//
// [Decode] turns a feedback frame into one of the typed Feedback
// values; [DecodeCommand] does the same for commands, which the arm
// simulator uses. Every command type has a Frames method producing the
// frames to submit. Feedback encoders exist for the simulator and for
// tests.
package wire
