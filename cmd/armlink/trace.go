// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/armlink/cmd/armlink/cli"
	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/config"
	"github.com/bureau-foundation/armlink/lib/trace"
	"github.com/bureau-foundation/armlink/lib/wire"
	"github.com/bureau-foundation/armlink/observe"
	"github.com/bureau-foundation/armlink/transport/replay"
)

func replayCommand() *cli.Command {
	var (
		flags sessionFlags
		speed float64
		hold  bool
	)
	return &cli.Command{
		Name:    "replay",
		Summary: "Run the pipeline against a recorded trace",
		Description: "Feed a recorded trace through the control pipeline as if the arm were\n" +
			"live, then print what the pipeline saw. Exits 1 if the validity\n" +
			"monitor invalidated the state for any reason other than the trace\n" +
			"running out.",
		Usage: "armlink replay [flags] <trace>",
		Examples: []cli.Example{
			{Description: "Check a recording as fast as it decodes", Command: "armlink replay session.trace"},
			{Description: "Play back in real time with the observer up", Command: "armlink replay --speed 1 --hold --listen :8470 session.trace"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.Float64Var(&speed, "speed", 0, "playback speed, 1 is real time (default: as fast as possible)")
			flagSet.BoolVar(&hold, "hold", false, "keep the bus open after the last frame until interrupted")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("replay needs exactly one trace file")
			}
			cfg, logger, err := flags.setup()
			if err != nil {
				return err
			}
			cfg.Bus.Kind = config.BusReplay
			cfg.Bus.Replay = config.ReplayConfig{Path: args[0], Speed: speed, Hold: hold}
			cfg.Record.Path = ""

			var summary replaySummary
			err = flags.runSession(cfg, logger, func(ctx context.Context, s *session) error {
				err := s.wait(ctx)
				if errors.Is(err, replay.ErrEndOfTrace) {
					err = nil
				}
				summary = collectReplay(s)
				return err
			})
			if err != nil {
				return err
			}
			summary.print(os.Stdout)
			if len(summary.invalidations) > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// replaySummary is what a replay run reports once the trace is done.
type replaySummary struct {
	header        trace.Header
	played        uint64
	sent          uint64
	metrics       control.MetricsSnapshot
	validity      control.ValidityDetail
	invalidations []observe.Event
}

func collectReplay(s *session) replaySummary {
	summary := replaySummary{
		header:   s.replay.Header(),
		played:   s.replay.Played(),
		sent:     s.replay.Sent(),
		metrics:  s.pipeline.Metrics(),
		validity: s.pipeline.Validity(),
	}
	for _, event := range s.events.Since(0) {
		if event.Kind == observe.EventInvalidated && !endOfTrace(event.Reason) {
			summary.invalidations = append(summary.invalidations, event)
		}
	}
	// The watcher polls, so a latched invalidation can land between its
	// last check and the end of the trace.
	if !summary.validity.Valid && !endOfTrace(summary.validity.Reason) &&
		!slices.ContainsFunc(summary.invalidations, func(event observe.Event) bool { return event.Reason == summary.validity.Reason }) {
		summary.invalidations = append(summary.invalidations, observe.Event{
			At:     summary.validity.InvalidatedAt,
			Kind:   observe.EventInvalidated,
			Reason: summary.validity.Reason,
		})
	}
	return summary
}

func endOfTrace(reason string) bool {
	return strings.Contains(reason, replay.ErrEndOfTrace.Error())
}

func (summary replaySummary) print(w io.Writer) {
	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(table, "session\t%s\n", summary.header.SessionID)
	if summary.header.Source != "" {
		fmt.Fprintf(table, "source\t%s\n", summary.header.Source)
	}
	fmt.Fprintf(table, "recorded\t%s\n", summary.header.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(table, "frames played\t%d\n", summary.played)
	fmt.Fprintf(table, "frames sent\t%d\n", summary.sent)
	fmt.Fprintf(table, "decoded\t%d\n", summary.metrics.FramesDecoded)
	fmt.Fprintf(table, "malformed\t%d\n", summary.metrics.MalformedFrames)
	fmt.Fprintf(table, "unknown\t%d\n", summary.metrics.UnknownFrames)
	fmt.Fprintf(table, "snapshots\t%d\n", summary.metrics.SnapshotsPublished)
	table.Flush()

	if len(summary.invalidations) == 0 {
		fmt.Fprintln(w, "\nstate stayed valid")
		return
	}
	fmt.Fprintf(w, "\n%d invalidations:\n", len(summary.invalidations))
	for _, event := range summary.invalidations {
		offset := event.At.Sub(summary.header.StartedAt)
		if event.At.IsZero() || offset < 0 {
			fmt.Fprintf(w, "  %s\n", event.Reason)
			continue
		}
		fmt.Fprintf(w, "  +%v  %s\n", offset.Round(time.Millisecond), event.Reason)
	}
}

func inspectCommand() *cli.Command {
	var frames bool
	return &cli.Command{
		Name:    "inspect",
		Summary: "Summarize a trace file",
		Description: "Print a trace's header, its duration and frame counts per identifier.\n" +
			"With --frames every record is listed as well. Every chunk's hash is\n" +
			"checked on the way through.",
		Usage: "armlink inspect [flags] <trace>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.BoolVar(&frames, "frames", false, "list every record")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("inspect needs exactly one trace file")
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			return inspectTrace(os.Stdout, file, frames)
		},
	}
}

type idCount struct {
	rx int
	tx int
}

// inspectTrace reads the whole trace in r and writes a summary to w.
// Records before a corrupt chunk are still summarized; the corruption
// is returned after the summary is written.
func inspectTrace(w io.Writer, r io.Reader, listFrames bool) error {
	reader, err := trace.NewReader(r)
	if err != nil {
		return err
	}
	header := reader.Header()

	var (
		counts        = make(map[uint32]*idCount)
		first, last   time.Time
		total, rx, tx int
		readErr       error
	)
	for {
		record, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if total == 0 {
			first = record.At
		}
		last = record.At
		total++

		count := counts[record.Frame.ID]
		if count == nil {
			count = &idCount{}
			counts[record.Frame.ID] = count
		}
		if record.Direction == control.DirectionTX {
			count.tx++
			tx++
		} else {
			count.rx++
			rx++
		}

		if listFrames {
			fmt.Fprintf(w, "%12v  %s  %s  %s\n",
				record.At.Sub(header.StartedAt).Round(time.Microsecond),
				record.Direction, record.Frame, wire.Name(record.Frame.ID))
		}
	}
	if listFrames && total > 0 {
		fmt.Fprintln(w)
	}

	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(table, "session\t%s\n", header.SessionID)
	if header.Source != "" {
		fmt.Fprintf(table, "source\t%s\n", header.Source)
	}
	if header.Version != "" {
		fmt.Fprintf(table, "version\t%s\n", header.Version)
	}
	fmt.Fprintf(table, "started\t%s\n", header.StartedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(table, "compression\t%s\n", header.Compression)
	fmt.Fprintf(table, "chunks\t%d\n", reader.Chunks())
	fmt.Fprintf(table, "frames\t%d (rx %d, tx %d)\n", total, rx, tx)
	if total > 0 {
		fmt.Fprintf(table, "duration\t%v\n", last.Sub(first).Round(time.Millisecond))
	}
	table.Flush()

	if len(counts) > 0 {
		fmt.Fprintln(w)
		table = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(table, "ID\tNAME\tRX\tTX")
		ids := make([]uint32, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			count := counts[id]
			fmt.Fprintf(table, "0x%03X\t%s\t%d\t%d\n", id, wire.Name(id), count.rx, count.tx)
		}
		table.Flush()
	}
	return readErr
}
