// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"teslacam/pkg/clip"
	"teslacam/pkg/log"
	"teslacam/pkg/telemetry"
)

const (
	hudFramePattern = "frame_%06d.png"

	maxGPSJump   = 1000 // Meters.
	maxSpeedDrop = 10   // m/s.

	earthRadius = 6371000 // Meters.
)

// assembleTelemetry places the telemetry of the front camera
// parts on the export timeline. Files without a timeline or
// telemetry contribute no samples.
func (e *Exporter) assembleTelemetry(jobID string, parts []Part) []telemetry.Sample {
	var samples []telemetry.Sample
	var cumulative float64 // Seconds.
	var prev *telemetry.Record

	for _, p := range parts {
		partSamples := e.partTelemetry(jobID, p)
		for _, s := range partSamples {
			s.Time += cumulative
			samples = append(samples, s)
		}
		cumulative += p.Duration.Seconds()

		first, last := firstLast(partSamples)
		if prev != nil && first != nil {
			for _, msg := range checkBoundary(prev, first) {
				e.logf(log.LevelWarning, jobID, "segment %v: %v", p.SegmentIndex, msg)
			}
		}
		if last != nil {
			prev = last
		}
	}
	return samples
}

func (e *Exporter) partTelemetry(jobID string, p Part) []telemetry.Sample {
	name := filepath.Base(p.Path)

	tl, err := e.timeline(p.Path)
	if err != nil {
		e.logf(log.LevelWarning, jobID, "timeline %v: %v", name, err)
		return nil
	}
	records, err := e.telemetry(p.Path)
	if err != nil {
		e.logf(log.LevelInfo, jobID, "telemetry %v: %v", name, err)
	}

	n := tl.Len()
	if len(records) != n {
		e.logf(log.LevelWarning, jobID,
			"%v: %v frames but %v telemetry records, truncating", name, n, len(records))
		if len(records) < n {
			n = len(records)
		}
	}
	if n == 0 {
		return nil
	}

	offset := float64(p.Offset.Milliseconds())
	end := offset + float64(p.Duration.Milliseconds())

	var samples []telemetry.Sample
	for i := tl.FrameAt(offset); i < n && tl.Starts[i] < end; i++ {
		rel := (tl.Starts[i] - offset) / 1000
		if rel < 0 {
			rel = 0
		}
		samples = append(samples, telemetry.Sample{Time: rel, Record: records[i]})
	}
	return samples
}

func firstLast(samples []telemetry.Sample) (*telemetry.Record, *telemetry.Record) {
	var first, last *telemetry.Record
	for _, s := range samples {
		if s.Record == nil {
			continue
		}
		if first == nil {
			first = s.Record
		}
		last = s.Record
	}
	return first, last
}

// checkBoundary returns the signs of telemetry and video
// being out of sync where two segments meet.
func checkBoundary(prev, next *telemetry.Record) []string {
	var msgs []string
	if next.FrameSeqNo != prev.FrameSeqNo+1 {
		msgs = append(msgs, fmt.Sprintf(
			"frame sequence jumps from %v to %v", prev.FrameSeqNo, next.FrameSeqNo))
	}
	if hasPosition(prev) && hasPosition(next) {
		d := haversine(prev.LatitudeDeg, prev.LongitudeDeg, next.LatitudeDeg, next.LongitudeDeg)
		if d > maxGPSJump {
			msgs = append(msgs, fmt.Sprintf("position jumps %.0f m", d))
		}
	}
	if drop := prev.VehicleSpeedMps - next.VehicleSpeedMps; drop > maxSpeedDrop {
		msgs = append(msgs, fmt.Sprintf(
			"speed drops from %.1f to %.1f m/s", prev.VehicleSpeedMps, next.VehicleSpeedMps))
	}
	return msgs
}

func hasPosition(r *telemetry.Record) bool {
	return r.LatitudeDeg != 0 || r.LongitudeDeg != 0
}

// haversine returns the great circle distance in meters.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}

type rendererOpts struct {
	jsonPath  string
	outputDir string
	width     int
	height    int
	frameRate float64
	useMPH    bool
	location  *clip.Location
}

func rendererArgs(opts rendererOpts) []string {
	args := []string{
		"--sei-json", opts.jsonPath,
		"--width", strconv.Itoa(opts.width),
		"--height", strconv.Itoa(opts.height),
		"--framerate", formatFloat(opts.frameRate),
		"--output-dir", opts.outputDir,
	}
	if opts.useMPH {
		args = append(args, "--use-mph")
	}
	if loc := opts.location; loc != nil {
		if text := loc.Text(); text != "" {
			args = append(args, "--location-text", text)
		}
		if loc.HasCoordinates() {
			args = append(args,
				"--fallback-lat", strconv.FormatFloat(loc.Lat, 'f', 6, 64),
				"--fallback-lon", strconv.FormatFloat(loc.Lon, 'f', 6, 64),
			)
		}
	}
	return args
}

// renderHUD renders the HUD image sequence into tempDir and returns
// the input pattern. An empty pattern means the export goes
// on without HUD, the reason is logged.
func (e *Exporter) renderHUD(ctx context.Context, j *job, tempDir string, l Layout) (string, error) {
	if len(e.renderer) == 0 {
		e.logf(log.LevelWarning, j.id, "no hud renderer configured, skipping hud")
		return "", nil
	}

	front := cameraParts(j.parts, clip.Front)
	samples := e.assembleTelemetry(j.id, front)
	if first, _ := firstLast(samples); first == nil {
		e.logf(log.LevelInfo, j.id, "no front camera telemetry, skipping hud")
		return "", nil
	}

	duration := j.end.Sub(j.start).Seconds()
	records := telemetry.Resample(samples, e.frameRate, duration)

	jsonPath := filepath.Join(tempDir, "telemetry.json")
	if err := telemetry.WriteFrames(jsonPath, records); err != nil {
		return "", err
	}
	framesDir := filepath.Join(tempDir, "hud")
	if err := os.MkdirAll(framesDir, 0o700); err != nil {
		return "", err
	}

	args := rendererArgs(rendererOpts{
		jsonPath:  jsonPath,
		outputDir: framesDir,
		width:     l.Width(),
		height:    l.Height(),
		frameRate: e.frameRate,
		useMPH:    j.req.UseMPH,
		location:  j.clip.Location,
	})
	args = append(append([]string{}, e.renderer[1:]...), args...)

	e.logf(log.LevelDebug, j.id, "rendering hud: %v %v", e.renderer[0], args)

	cmd := exec.Command(e.renderer[0], args...)
	process := e.newProcess(cmd).
		Timeout(0).
		StderrLogger(func(line string) {
			e.logf(log.LevelDebug, j.id, "hud renderer: %v", line)
		})

	if err := process.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.logf(log.LevelError, j.id, "hud renderer failed, skipping hud: %v", err)
		return "", nil
	}
	return filepath.Join(framesDir, hudFramePattern), nil
}
