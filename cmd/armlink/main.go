// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// armlink drives a 6-axis arm over CAN: it runs the control pipeline
// against SocketCAN, an SLCAN gateway, a simulated arm or a recorded
// trace, and offers recording, replay, a live dashboard and an HTTP
// observer on top.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		// Commands that print their own outcome return an error with an
		// exit code. Don't print a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return root().Execute(args)
}
