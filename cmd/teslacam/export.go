// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"teslacam/pkg/clip"
	"teslacam/pkg/export"
	"teslacam/pkg/status"
	"time"

	"github.com/spf13/cobra"
)

// Clip directory and file name time layout, always UTC.
const clipTimeLayout = "2006-01-02_15-04-05"

// ErrExportFailed export did not complete.
var ErrExportFailed = errors.New("export failed")

type exportFlags struct {
	clip       string
	start      string
	end        string
	cameras    string
	columns    int
	format     string
	resolution string
	quality    string
	timestamp  bool
	labels     bool
	location   bool
	hud        bool
	mph        bool
}

func (f exportFlags) request() (export.Request, error) {
	start, err := parseTime(f.start)
	if err != nil {
		return export.Request{}, fmt.Errorf("--start: %w", err)
	}
	end, err := parseTime(f.end)
	if err != nil {
		return export.Request{}, fmt.Errorf("--end: %w", err)
	}
	cameras, err := clip.ParseCameras(f.cameras)
	if err != nil {
		return export.Request{}, fmt.Errorf("--cameras: %w", err)
	}
	return export.Request{
		Clip:       f.clip,
		Start:      start,
		End:        end,
		Cameras:    cameras,
		Columns:    f.columns,
		Format:     export.Format(f.format),
		Resolution: export.Resolution(f.resolution),
		Quality:    export.Quality(f.quality),
		Timestamp:  f.timestamp,
		Labels:     f.labels,
		Location:   f.location,
		HUD:        f.hud,
		UseMPH:     f.mph,
	}, nil
}

// parseTime accepts RFC3339 or the clip file name layout.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(clipTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time: %q", s) //nolint:goerr113
	}
	return t, nil
}

func newExportCommand(envFlag *string) *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a clip window to a single video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}

			app, ctx, stop, err := startApp(*envFlag)
			if err != nil {
				return err
			}
			defer stop()

			feed, cancel := app.Store.SubscribeAll()
			defer cancel()

			id, err := app.Exporter.Start(req)
			if err != nil {
				return err
			}

			done := make(chan status.Snapshot, 1)
			go func() {
				snap, err := app.Exporter.Wait(ctx, id)
				if err == nil {
					done <- snap
				}
			}()

			out := cmd.OutOrStdout()
			p := newProgressPrinter(out, isTerminal(os.Stdout))
			snap, err := watchJob(ctx, id, feed, done, p)
			if err != nil {
				// Interrupted, give the job a chance to clean up.
				app.Exporter.Cancel(id) //nolint:errcheck
				return err
			}
			if snap.State != status.Completed {
				return fmt.Errorf("%w: %v: %v", ErrExportFailed, snap.State, snap.Error)
			}
			fmt.Fprintln(out, filepath.Join(app.Env.ExportsDir(), snap.Output))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.clip, "clip", "", "clip directory name, relative to clipsDir")
	flags.StringVar(&f.start, "start", "", "window start, RFC3339 or "+clipTimeLayout)
	flags.StringVar(&f.end, "end", "", "window end, RFC3339 or "+clipTimeLayout)
	flags.StringVar(&f.cameras, "cameras", "front", "comma separated cameras")
	flags.IntVar(&f.columns, "columns", 0, "grid columns, 0 picks automatically")
	flags.StringVar(&f.format, "format", "mp4", "mp4 or webm")
	flags.StringVar(&f.resolution, "resolution", "1080p", "1080p, 720p or 480p")
	flags.StringVar(&f.quality, "quality", "medium", "high, medium or low")
	flags.BoolVar(&f.timestamp, "timestamp", false, "burn in the recording time")
	flags.BoolVar(&f.labels, "labels", false, "label each camera")
	flags.BoolVar(&f.location, "location", false, "burn in the event location")
	flags.BoolVar(&f.hud, "hud", false, "overlay the telemetry HUD")
	flags.BoolVar(&f.mph, "mph", false, "HUD speed in mph")
	cmd.MarkFlagRequired("clip")  //nolint:errcheck
	cmd.MarkFlagRequired("start") //nolint:errcheck
	cmd.MarkFlagRequired("end")   //nolint:errcheck

	return cmd
}

// watchJob prints the snapshots of job id until it finishes.
// done receives the final snapshot in case the feed dropped it.
func watchJob(
	ctx context.Context,
	id string,
	feed <-chan status.Snapshot,
	done <-chan status.Snapshot,
	p *progressPrinter,
) (status.Snapshot, error) {
	defer p.finish()
	for {
		select {
		case <-ctx.Done():
			return status.Snapshot{}, ctx.Err()
		case snap := <-done:
			p.print(snap)
			return snap, nil
		case snap, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			if snap.ID != id {
				continue
			}
			p.print(snap)
			if snap.State.Terminal() {
				return snap, nil
			}
		}
	}
}

// progressPrinter rewrites one line on a terminal,
// otherwise it prints a line every ten percent.
type progressPrinter struct {
	w        io.Writer
	terminal bool

	lastLen   int
	lastState status.State
	lastStep  int
	printed   bool
}

func newProgressPrinter(w io.Writer, terminal bool) *progressPrinter {
	return &progressPrinter{w: w, terminal: terminal, lastStep: -1}
}

func (p *progressPrinter) print(snap status.Snapshot) {
	line := progressLine(snap)
	if p.terminal {
		pad := ""
		if n := p.lastLen - len(line); n > 0 {
			pad = strings.Repeat(" ", n)
		}
		fmt.Fprint(p.w, "\r"+line+pad)
		p.lastLen = len(line)
		p.printed = true
		return
	}

	step := int(math.Floor(snap.Percent / 10))
	if p.printed && snap.State == p.lastState && step == p.lastStep {
		return
	}
	fmt.Fprintln(p.w, line)
	p.printed = true
	p.lastState = snap.State
	p.lastStep = step
}

func (p *progressPrinter) finish() {
	if p.terminal && p.printed {
		fmt.Fprintln(p.w)
	}
}

func progressLine(snap status.Snapshot) string {
	line := fmt.Sprintf("%-9v %5.1f%%", snap.State, snap.Percent)
	if snap.State == status.Running && snap.ETA > 0 {
		line += "  ETA " + formatETA(snap.ETA)
	}
	if snap.Error != "" {
		line += "  " + snap.Error
	}
	return line
}

// formatETA formats d as 1h02m03s, 2m03s or 3s.
func formatETA(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
