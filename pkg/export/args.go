// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"encoding/json"
	"strconv"
	"teslacam/pkg/clip"
	"time"
)

// Comment is stored in the comment tag of every export.
type Comment struct {
	Start    time.Time `json:"start"`
	Location string    `json:"location,omitempty"`
	Clip     string    `json:"clip"`
}

type metadata struct {
	title       string
	comment     string
	description string
	created     time.Time
}

func newMetadata(req Request, start time.Time, loc *clip.Location, created time.Time) metadata {
	var locText string
	if loc != nil {
		locText = loc.Text()
	}
	comment, _ := json.Marshal(Comment{
		Start:    start.UTC(),
		Location: locText,
		Clip:     req.Clip,
	})
	return metadata{
		title:       "TeslaCam " + start.UTC().Format("2006-01-02 15:04:05"),
		comment:     string(comment),
		description: locText,
		created:     created.UTC(),
	}
}

type argOpts struct {
	logLevel   string
	parts      []Part
	hudPattern string // Empty without HUD.
	frameRate  float64
	graph      Graph
	format     Format
	quality    Quality
	meta       metadata
	outputPath string
}

func genArgs(opts argOpts) []string {
	args := []string{
		"-n", "-loglevel", opts.logLevel,
		"-progress", "pipe:1", "-nostats",
	}
	for _, p := range opts.parts {
		args = append(args,
			"-ss", formatSeconds(p.Offset),
			"-t", formatSeconds(p.Duration),
			"-i", p.Path,
		)
	}
	if opts.hudPattern != "" {
		args = append(args,
			"-framerate", formatFloat(opts.frameRate),
			"-i", opts.hudPattern,
		)
	}

	args = append(args,
		"-filter_complex", opts.graph.String(),
		"-map", "["+opts.graph.Output()+"]",
		"-an",
	)

	t := opts.quality.tier()
	crf := strconv.Itoa(t.crf)
	switch opts.format {
	case FormatWebM:
		args = append(args,
			"-c:v", "libvpx-vp9", "-crf", crf, "-b:v", "0",
			"-deadline", "good", "-cpu-used", strconv.Itoa(t.cpuUsed),
			"-row-mt", "1", "-pix_fmt", "yuv420p",
		)
	default:
		args = append(args,
			"-c:v", "libx264", "-preset", t.preset, "-crf", crf,
			"-pix_fmt", "yuv420p", "-movflags", "+faststart",
		)
	}

	m := opts.meta
	args = append(args,
		"-metadata", "title="+m.title,
		"-metadata", "comment="+m.comment,
	)
	if m.description != "" {
		args = append(args, "-metadata", "description="+m.description)
	}
	args = append(args,
		"-metadata", "creation_time="+m.created.Format(time.RFC3339),
		opts.outputPath,
	)
	return args
}
