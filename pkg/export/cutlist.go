// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"teslacam/pkg/clip"
	"time"
)

// Part is the piece of one camera file that falls inside the window.
type Part struct {
	Camera       clip.Camera
	Path         string
	Offset       time.Duration // Into the file.
	Duration     time.Duration
	SegmentIndex int
}

// clampWindow limits the window to the clip bounds.
// False is returned if nothing is left.
func clampWindow(c *clip.Clip, start, end time.Time) (time.Time, time.Time, bool) {
	if start.Before(c.Start) {
		start = c.Start
	}
	if end.After(c.End) {
		end = c.End
	}
	return start, end, end.After(start)
}

// BuildCutList returns the parts of every segment that overlaps the
// window, in segment order and then in camera order. Cameras without
// a file for a segment contribute no part.
func BuildCutList(c *clip.Clip, start, end time.Time, cameras []clip.Camera) []Part {
	var parts []Part
	for i, seg := range c.Segments {
		overlapStart := seg.Start
		if start.After(overlapStart) {
			overlapStart = start
		}
		overlapEnd := seg.End()
		if end.Before(overlapEnd) {
			overlapEnd = end
		}
		if !overlapEnd.After(overlapStart) {
			continue
		}

		for _, cam := range cameras {
			if !cam.Valid() || seg.Files[cam] == "" {
				continue
			}
			parts = append(parts, Part{
				Camera:       cam,
				Path:         seg.Files[cam],
				Offset:       overlapStart.Sub(seg.Start),
				Duration:     overlapEnd.Sub(overlapStart),
				SegmentIndex: i,
			})
		}
	}
	return parts
}

// cameraParts returns the ordered parts of one camera.
func cameraParts(parts []Part, cam clip.Camera) []Part {
	var out []Part
	for _, p := range parts {
		if p.Camera == cam {
			out = append(out, p)
		}
	}
	return out
}
