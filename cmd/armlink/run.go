// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/armlink/cmd/armlink/cli"
	"github.com/bureau-foundation/armlink/lib/config"
	"github.com/bureau-foundation/armlink/lib/dashboard"
)

// sessionFlags extend busFlags with what the long-running commands
// share.
type sessionFlags struct {
	busFlags
	enable   bool
	listen   string
	duration time.Duration
}

func (f *sessionFlags) register(flagSet *pflag.FlagSet) {
	f.busFlags.register(flagSet)
	flagSet.BoolVar(&f.enable, "enable", false, "switch the arm to CAN control and enable every joint")
	flagSet.StringVar(&f.listen, "listen", "", "serve the HTTP observer on this address")
	flagSet.DurationVar(&f.duration, "duration", 0, "stop after this long (default: until interrupted)")
}

// runSession starts a session from cfg, runs body, and tears the
// session down. body returns when the command is done; a nil body
// waits for a signal, the duration, or a pipeline failure.
func (f *sessionFlags) runSession(cfg *config.Config, logger *slog.Logger, body func(context.Context, *session) error) error {
	if f.changed("listen") {
		cfg.Observe.Listen = f.listen
	}

	ctx, cancel := signalContext()
	defer cancel()
	if f.duration > 0 {
		var stopTimer context.CancelFunc
		ctx, stopTimer = context.WithTimeout(ctx, f.duration)
		defer stopTimer()
	}

	s, err := startSession(ctx, cfg, logger, sessionOptions{})
	if err != nil {
		return err
	}
	if f.enable {
		if err := s.enable(); err != nil {
			return errors.Join(err, s.stop())
		}
	}

	var runErr error
	if body != nil {
		runErr = body(ctx, s)
	} else {
		runErr = s.wait(ctx)
	}
	return errors.Join(runErr, s.stop())
}

func runCommand() *cli.Command {
	var flags sessionFlags
	return &cli.Command{
		Name:    "run",
		Summary: "Run the control pipeline and log validity changes",
		Description: "Run the control pipeline against the configured bus until interrupted.\n\n" +
			"Validity transitions are logged as they happen. With --listen the\n" +
			"HTTP observer serves state, validity and metrics alongside.",
		Usage: "armlink run [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, logger, err := flags.setup()
			if err != nil {
				return err
			}
			return flags.runSession(cfg, logger, nil)
		},
	}
}

// defaultObserveListen is where serve listens when neither the flag
// nor the config names an address.
const defaultObserveListen = "127.0.0.1:8470"

func serveCommand() *cli.Command {
	var flags sessionFlags
	return &cli.Command{
		Name:    "serve",
		Summary: "Run the pipeline with the HTTP observer",
		Description: "Run the control pipeline and serve it over HTTP.\n\n" +
			"Routes: GET /v1/state, /v1/validity, /v1/metrics, /v1/events,\n" +
			"/v1/stream (websocket) and POST /v1/validity/reset.",
		Usage: "armlink serve [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			cfg, logger, err := flags.setup()
			if err != nil {
				return err
			}
			if cfg.Observe.Listen == "" {
				cfg.Observe.Listen = defaultObserveListen
			}
			return flags.runSession(cfg, logger, nil)
		},
	}
}

func recordCommand() *cli.Command {
	var (
		flags       sessionFlags
		output      string
		compression string
	)
	return &cli.Command{
		Name:    "record",
		Summary: "Run the pipeline and record every frame to a trace",
		Usage:   "armlink record [flags] --output <trace>",
		Examples: []cli.Example{
			{Description: "Record ten minutes of traffic on can0", Command: "armlink record --interface can0 --duration 10m --output bench.trace"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("record", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVarP(&output, "output", "o", "", "trace file to write (default: record.path from config)")
			flagSet.StringVar(&compression, "compression", "", "chunk compression: none, lz4 or zstd")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, logger, err := flags.setup()
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Record.Path = output
			}
			if compression != "" {
				cfg.Record.Compression = compression
			}
			if cfg.Record.Path == "" {
				return errors.New("record needs --output or record.path in the config")
			}
			return flags.runSession(cfg, logger, nil)
		},
	}
}

func watchCommand() *cli.Command {
	var (
		flags   sessionFlags
		refresh time.Duration
		logFile string
	)
	return &cli.Command{
		Name:    "watch",
		Summary: "Run the pipeline with a live terminal dashboard",
		Description: "Run the control pipeline and show joints, drivers, gripper, validity\n" +
			"and counters in the terminal. Press r to reset validity, q to quit.",
		Usage: "armlink watch [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.DurationVar(&refresh, "refresh", dashboard.DefaultRefreshInterval, "dashboard refresh interval")
			flagSet.StringVar(&logFile, "log-file", "", "write logs here instead of discarding them")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			// The dashboard owns the terminal, so logs go to a file or
			// nowhere.
			logger := slog.New(slog.DiscardHandler)
			if logFile != "" {
				file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return err
				}
				defer file.Close()
				format := cfg.Logging.Format
				if format == "auto" {
					format = "json"
				}
				if logger, err = cli.NewLogger(file, cfg.Logging.Level, format); err != nil {
					return err
				}
			}
			return flags.runSession(cfg, logger, func(ctx context.Context, s *session) error {
				return dashboard.Run(ctx, s.pipeline, dashboard.Options{RefreshInterval: refresh, Clock: s.clock})
			})
		},
	}
}
