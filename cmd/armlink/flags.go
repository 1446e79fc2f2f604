// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/armlink/cmd/armlink/cli"
	"github.com/bureau-foundation/armlink/lib/config"
)

// busFlags are the flags shared by every command that opens a bus.
// Flags given on the command line override the config file.
type busFlags struct {
	configPath string
	bus        string
	iface      string
	device     string
	address    string
	bitrate    int
	echo       bool
	logLevel   string
	logFormat  string

	flagSet *pflag.FlagSet
}

func (f *busFlags) register(flagSet *pflag.FlagSet) {
	f.flagSet = flagSet
	flagSet.StringVar(&f.configPath, "config", "", "config file (default $ARMLINK_CONFIG)")
	flagSet.StringVar(&f.bus, "bus", "", "bus kind: socketcan, gateway, virtual or replay")
	flagSet.StringVar(&f.iface, "interface", "", "SocketCAN interface, implies --bus socketcan")
	flagSet.StringVar(&f.device, "device", "", "SLCAN gateway tty, implies --bus gateway")
	flagSet.StringVar(&f.address, "address", "", "SLCAN gateway tcp://host:port, implies --bus gateway")
	flagSet.IntVar(&f.bitrate, "bitrate", 0, "CAN bitrate programmed into a gateway")
	flagSet.BoolVar(&f.echo, "echo", false, "keep kernel loopback of sent frames on")
	flagSet.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&f.logFormat, "log-format", "", "text, json or auto")
}

func (f *busFlags) changed(name string) bool {
	return f.flagSet != nil && f.flagSet.Changed(name)
}

// load reads the config file, applies flag overrides and validates the
// result.
func (f *busFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case f.configPath != "":
		cfg, err = config.LoadFile(f.configPath)
	case os.Getenv("ARMLINK_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if f.changed("interface") {
		cfg.Bus.Kind = config.BusSocketCAN
		cfg.Bus.Interface = f.iface
	}
	if f.changed("device") {
		cfg.Bus.Kind = config.BusGateway
		cfg.Bus.Address = f.device
	}
	if f.changed("address") {
		cfg.Bus.Kind = config.BusGateway
		cfg.Bus.Address = f.address
	}
	if f.changed("bus") {
		cfg.Bus.Kind = f.bus
	}
	if f.changed("bitrate") {
		cfg.Bus.Bitrate = f.bitrate
	}
	if f.changed("echo") {
		cfg.Bus.Echo = f.echo
	}
	if f.changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if f.changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// setup loads the config and builds the logger.
func (f *busFlags) setup() (*config.Config, *slog.Logger, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := cli.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
