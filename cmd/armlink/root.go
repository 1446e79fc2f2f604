// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/armlink/cmd/armlink/cli"
	"github.com/bureau-foundation/armlink/lib/version"
)

func root() *cli.Command {
	return &cli.Command{
		Name: "armlink",
		Description: "armlink runs the CAN control pipeline for a 6-axis arm.\n\n" +
			"Every command that touches a bus reads the config file named by\n" +
			"--config or $ARMLINK_CONFIG; without one it drives a simulated arm\n" +
			"on an in-memory bus.",
		Subcommands: []*cli.Command{
			runCommand(),
			watchCommand(),
			serveCommand(),
			recordCommand(),
			replayCommand(),
			inspectCommand(),
			armCommand("estop", "Latch the arm's emergency stop"),
			armCommand("resume", "Release the emergency stop"),
			armCommand("enable", "Enable joint drivers"),
			armCommand("disable", "Disable joint drivers"),
			versionCommand(),
		},
		Examples: []cli.Example{
			{Description: "Drive the arm on can0 and log validity changes", Command: "armlink run --bus socketcan --interface can0 --enable"},
			{Description: "Record a session through a USB gateway", Command: "armlink record --device /dev/ttyACM0 --output session.trace"},
			{Description: "Check a recorded session for faults", Command: "armlink replay session.trace"},
		},
	}
}

func versionCommand() *cli.Command {
	var full bool
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&full, "full", false, "include toolchain and platform")
			return flagSet
		},
		Run: func(args []string) error {
			if full {
				fmt.Fprintln(os.Stdout, "armlink "+version.Full())
			} else {
				fmt.Fprintln(os.Stdout, "armlink "+version.Info())
			}
			return nil
		},
	}
}
