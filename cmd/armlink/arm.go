// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/armlink/cmd/armlink/cli"
	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/wire"
)

// armCommand builds the one-shot commands that send a single reliable
// command and exit once it is on the bus.
func armCommand(name, summary string) *cli.Command {
	var (
		flags   busFlags
		joint   int
		timeout time.Duration
	)
	jointFlag := name == "enable" || name == "disable"
	usage := "armlink " + name + " [flags]"

	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   usage,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			flags.register(flagSet)
			if jointFlag {
				flagSet.IntVar(&joint, "joint", 0, "joint 1-6 (default: every joint)")
			}
			flagSet.DurationVar(&timeout, "timeout", time.Second, "how long to wait for the frame to go out")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			command, err := armCommandFor(name, joint)
			if err != nil {
				return err
			}
			cfg, logger, err := flags.setup()
			if err != nil {
				return err
			}
			frames, err := command.Frames()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			s, err := startSession(ctx, cfg, logger, sessionOptions{})
			if err != nil {
				return err
			}
			before := s.pipeline.Metrics().FramesSent
			if err := s.pipeline.SubmitCommand(command, control.Reliable); err != nil {
				s.stop()
				return err
			}
			flushErr := s.flush(before, len(frames), timeout)
			if err := s.stop(); err != nil && flushErr == nil {
				flushErr = err
			}
			if flushErr != nil {
				return fmt.Errorf("%s: %w", name, flushErr)
			}
			logger.Info("command sent", "command", name, "frames", len(frames))
			return nil
		},
	}
}

// armCommandFor maps a subcommand name to the wire command it sends.
func armCommandFor(name string, joint int) (wire.Command, error) {
	if joint < 0 || joint > robot.JointCount {
		return nil, fmt.Errorf("--joint must be 1-%d, got %d", robot.JointCount, joint)
	}
	switch name {
	case "estop":
		return wire.EmergencyStop{}, nil
	case "resume":
		return wire.EmergencyStop{Resume: true}, nil
	case "enable":
		return wire.MotorEnable{Joint: joint, Enable: true}, nil
	case "disable":
		return wire.MotorEnable{Joint: joint}, nil
	}
	return nil, fmt.Errorf("unknown arm command %q", name)
}
