// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"teslacam/pkg/clip"
	"teslacam/pkg/ffmpeg/ffmock"
	"teslacam/pkg/log"
	"teslacam/pkg/status"
	"teslacam/pkg/telemetry"
	"teslacam/pkg/video/timeline"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type logCollector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *logCollector) Log(e log.Entry) {
	c.mu.Lock()
	c.msgs = append(c.msgs, e.Msg)
	c.mu.Unlock()
}

func (c *logCollector) contains(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.msgs {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Ten 100ms frames.
func testTimeline(string) (*timeline.Timeline, error) {
	starts := make([]float64, 10)
	for i := range starts {
		starts[i] = float64(i * 100)
	}
	return &timeline.Timeline{Starts: starts, TotalDuration: 1000, Timescale: 1000}, nil
}

var errNoTimeline = errors.New("no timeline")

// File "a" has 8 records for 10 frames, "b" has 10, "c" is broken.
func testTelemetry(path string) ([]*telemetry.Record, error) {
	var base uint64
	n := 10
	switch path {
	case "a":
		base, n = 100, 8
	case "b":
		base = 200
	default:
		return []*telemetry.Record{}, errNoTimeline
	}
	records := make([]*telemetry.Record, n)
	for i := range records {
		records[i] = &telemetry.Record{FrameSeqNo: base + uint64(i), VehicleSpeedMps: 20}
	}
	return records, nil
}

func newHUDExporter(logger log.ILogger) *Exporter {
	return &Exporter{
		logger: logger,
		timeline: func(path string) (*timeline.Timeline, error) {
			if path == "c" {
				return nil, errNoTimeline
			}
			return testTimeline(path)
		},
		telemetry: testTelemetry,
		frameRate: 10,
	}
}

func TestAssembleTelemetry(t *testing.T) {
	logs := &logCollector{}
	e := newHUDExporter(logs)

	parts := []Part{
		{Camera: clip.Front, Path: "a", Offset: 300 * time.Millisecond, Duration: 500 * time.Millisecond},
		{Camera: clip.Front, Path: "c", Duration: time.Second, SegmentIndex: 1},
		{Camera: clip.Front, Path: "b", Duration: time.Second, SegmentIndex: 2},
	}
	samples := e.assembleTelemetry("job1", parts)

	var times []float64
	var seqs []uint64
	for _, s := range samples {
		times = append(times, s.Time)
		seqs = append(seqs, s.Record.FrameSeqNo)
	}
	expectedTimes := []float64{
		0, 0.1, 0.2, 0.3, 0.4,
		1.5, 1.6, 1.7, 1.8, 1.9, 2.0, 2.1, 2.2, 2.3, 2.4,
	}
	require.Len(t, times, len(expectedTimes))
	for i := range expectedTimes {
		require.InDelta(t, expectedTimes[i], times[i], 1e-9)
	}
	require.Equal(t, []uint64{
		103, 104, 105, 106, 107,
		200, 201, 202, 203, 204, 205, 206, 207, 208, 209,
	}, seqs)

	require.True(t, logs.contains("10 frames but 8 telemetry records"))
	require.True(t, logs.contains("timeline c"))
	require.True(t, logs.contains("frame sequence jumps from 107 to 200"))
}

func TestAssembleTelemetryTruncated(t *testing.T) {
	e := newHUDExporter(&logCollector{})

	// The window reaches past the last record of "a".
	parts := []Part{{Camera: clip.Front, Path: "a", Offset: 500 * time.Millisecond, Duration: time.Second}}
	samples := e.assembleTelemetry("job1", parts)
	require.Len(t, samples, 3)
	require.Equal(t, uint64(107), samples[2].Record.FrameSeqNo)
}

func TestCheckBoundary(t *testing.T) {
	prev := telemetry.Record{FrameSeqNo: 10, VehicleSpeedMps: 25, LatitudeDeg: 37.0, LongitudeDeg: -122.0}
	cases := map[string]struct {
		modify   func(*telemetry.Record)
		expected []string
	}{
		"continuous": {
			func(r *telemetry.Record) {},
			nil,
		},
		"sequence": {
			func(r *telemetry.Record) { r.FrameSeqNo = 50 },
			[]string{"frame sequence jumps from 10 to 50"},
		},
		"position": {
			func(r *telemetry.Record) { r.LatitudeDeg = 37.1 },
			[]string{"position jumps 11119 m"},
		},
		"noPosition": {
			func(r *telemetry.Record) { r.LatitudeDeg, r.LongitudeDeg = 0, 0 },
			nil,
		},
		"speed": {
			func(r *telemetry.Record) { r.VehicleSpeedMps = 10 },
			[]string{"speed drops from 25.0 to 10.0 m/s"},
		},
		"speedUp": {
			func(r *telemetry.Record) { r.VehicleSpeedMps = 40 },
			nil,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			next := prev
			next.FrameSeqNo = prev.FrameSeqNo + 1
			tc.modify(&next)
			require.Equal(t, tc.expected, checkBoundary(&prev, &next))
		})
	}
}

func TestHaversine(t *testing.T) {
	require.InDelta(t, 111195, haversine(0, 0, 0, 1), 1)
	require.InDelta(t, 0, haversine(37, -122, 37, -122), 1e-9)
}

func TestRendererArgs(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		actual := rendererArgs(rendererOpts{
			jsonPath:  "/tmp/t.json",
			outputDir: "/tmp/hud",
			width:     1920,
			height:    1080,
			frameRate: 30,
		})
		expected := []string{
			"--sei-json", "/tmp/t.json",
			"--width", "1920",
			"--height", "1080",
			"--framerate", "30",
			"--output-dir", "/tmp/hud",
		}
		require.Equal(t, expected, actual)
	})
	t.Run("maximal", func(t *testing.T) {
		actual := rendererArgs(rendererOpts{
			jsonPath:  "/tmp/t.json",
			outputDir: "/tmp/hud",
			width:     1280,
			height:    720,
			frameRate: 29.97,
			useMPH:    true,
			location:  &clip.Location{City: "Springfield", Lat: 37.5, Lon: -122.25},
		})
		expected := []string{
			"--sei-json", "/tmp/t.json",
			"--width", "1280",
			"--height", "720",
			"--framerate", "29.97",
			"--output-dir", "/tmp/hud",
			"--use-mph",
			"--location-text", "Springfield",
			"--fallback-lat", "37.500000",
			"--fallback-lon", "-122.250000",
		}
		require.Equal(t, expected, actual)
	})
}

func TestExportWithHUD(t *testing.T) {
	var mu sync.Mutex
	var cmds [][]string
	var frames []interface{}

	env := newTestEnv(t, ffmock.NewProcessMocker(ffmock.MockProcessConfig{
		OnStart: func(cmd *exec.Cmd) {
			mu.Lock()
			defer mu.Unlock()
			cmds = append(cmds, cmd.Args)
			if cmd.Args[0] != "python3" {
				return
			}
			b, err := os.ReadFile(cmd.Args[3])
			if err == nil {
				json.Unmarshal(b, &frames) //nolint:errcheck
			}
		},
	}))
	env.e.renderer = []string{"python3", "/opt/hud_renderer.py"}
	env.e.timeline = testTimeline
	env.e.telemetry = func(string) ([]*telemetry.Record, error) { return testTelemetry("b") }

	req := testRequest()
	req.Start, req.End = at(0), at(1)
	req.HUD = true

	id, err := env.e.Start(req)
	require.NoError(t, err)
	snap, err := env.e.Wait(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, status.Completed, snap.State)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, cmds, 2)

	renderer := cmds[0]
	hudDir := filepath.Join(env.tempDir, id, "hud")
	require.Equal(t, []string{
		"python3", "/opt/hud_renderer.py",
		"--sei-json", filepath.Join(env.tempDir, id, "telemetry.json"),
		"--width", "1920",
		"--height", "1080",
		"--framerate", "30",
		"--output-dir", hudDir,
	}, renderer)
	require.Len(t, frames, 30)

	encoder := strings.Join(cmds[1], " ")
	require.Contains(t, encoder, "-framerate 30 -i "+filepath.Join(hudDir, hudFramePattern))
	require.Contains(t, encoder, "overlay=0:0:shortest=1[out]")

	_, err = os.Stat(filepath.Join(env.tempDir, id))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestExportHUDSkipped(t *testing.T) {
	var mu sync.Mutex
	var cmds [][]string
	env := newTestEnv(t, ffmock.NewProcessMocker(ffmock.MockProcessConfig{
		OnStart: func(cmd *exec.Cmd) {
			mu.Lock()
			cmds = append(cmds, cmd.Args)
			mu.Unlock()
		},
	}))
	env.e.renderer = []string{"python3", "/opt/hud_renderer.py"}
	env.e.timeline = testTimeline
	env.e.telemetry = func(string) ([]*telemetry.Record, error) {
		return []*telemetry.Record{}, errNoTimeline
	}

	req := testRequest()
	req.HUD = true
	id, err := env.e.Start(req)
	require.NoError(t, err)
	snap, err := env.e.Wait(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, status.Completed, snap.State)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, cmds, 1)
	require.NotContains(t, strings.Join(cmds[0], " "), "overlay=")
}
