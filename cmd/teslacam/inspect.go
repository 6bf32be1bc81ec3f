// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"io"
	"strconv"
	"teslacam/pkg/telemetry"
	"teslacam/pkg/video/timeline"

	"github.com/spf13/cobra"
)

const mpsToKmh, mpsToMph = 3.6, 2.236936

type inspectFlags struct {
	every int
	limit int
	mph   bool
}

func newInspectCommand() *cobra.Command {
	var f inspectFlags
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the frame timeline and telemetry of a dashcam file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0], f, timeline.Extract, telemetry.Extract)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&f.every, "every", 1, "print every nth record")
	flags.IntVar(&f.limit, "limit", 0, "maximum rows, 0 prints all")
	flags.BoolVar(&f.mph, "mph", false, "speed in mph")
	return cmd
}

func inspect(
	w io.Writer,
	path string,
	f inspectFlags,
	extractTimeline timeline.ExtractFunc,
	extractTelemetry telemetry.ExtractFunc,
) error {
	tl, err := extractTimeline(path)
	if err != nil {
		return fmt.Errorf("timeline: %w", err)
	}
	fmt.Fprintf(w, "frames:    %v\n", tl.Len())
	fmt.Fprintf(w, "duration:  %.3fs\n", tl.TotalDuration/1000)
	fmt.Fprintf(w, "timescale: %v\n", tl.Timescale)
	if tl.TotalDuration > 0 {
		fmt.Fprintf(w, "framerate: %.2f\n", float64(tl.Len())*1000/tl.TotalDuration)
	}

	// Partial results are still printed.
	records, err := extractTelemetry(path)
	fmt.Fprintf(w, "telemetry: %v records\n", len(records))
	if err != nil {
		fmt.Fprintf(w, "telemetry error: %v\n", err)
	}
	if len(records) == 0 {
		return nil
	}

	headers, rows := telemetryRows(tl, records, f)
	fmt.Fprintln(w, renderTable(headers, rows, map[int]bool{
		0: true, 1: true, 2: true, 3: true, 5: true, 6: true,
	}))
	return nil
}

// telemetryRows maps record i to frame i of the timeline.
func telemetryRows(tl *timeline.Timeline, records []*telemetry.Record, f inspectFlags) ([]string, [][]string) {
	speedUnit, speedFactor := "km/h", mpsToKmh
	if f.mph {
		speedUnit, speedFactor = "mph", mpsToMph
	}
	headers := []string{
		"Frame", "Time", "Seq", "Speed " + speedUnit, "Gear", "Pedal %", "Steering",
		"Brake", "Blinker", "Autopilot", "Position", "Heading",
	}

	every := f.every
	if every < 1 {
		every = 1
	}
	var rows [][]string
	for i := 0; i < len(records); i += every {
		if f.limit > 0 && len(rows) >= f.limit {
			break
		}
		r := records[i]
		frameTime := "-"
		if i < tl.Len() {
			frameTime = fmt.Sprintf("%.3f", tl.Starts[i]/1000)
		}
		rows = append(rows, []string{
			strconv.Itoa(i),
			frameTime,
			strconv.FormatUint(r.FrameSeqNo, 10),
			fmt.Sprintf("%.1f", float64(r.VehicleSpeedMps)*speedFactor),
			r.Gear.String(),
			fmt.Sprintf("%.0f", r.PedalPercent()),
			fmt.Sprintf("%.1f", r.SteeringWheelAngle),
			yesNo(r.BrakeApplied),
			blinker(r),
			r.AutopilotState.String(),
			position(r),
			fmt.Sprintf("%.0f", r.Heading()),
		})
	}
	return headers, rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func blinker(r *telemetry.Record) string {
	switch {
	case r.BlinkerOnLeft && r.BlinkerOnRight:
		return "hazard"
	case r.BlinkerOnLeft:
		return "left"
	case r.BlinkerOnRight:
		return "right"
	}
	return ""
}

func position(r *telemetry.Record) string {
	if r.LatitudeDeg == 0 && r.LongitudeDeg == 0 {
		return ""
	}
	return fmt.Sprintf("%.6f, %.6f", r.LatitudeDeg, r.LongitudeDeg)
}
