// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"math"
	"sort"
)

// Sample is a record placed on the export timeline.
type Sample struct {
	Time   float64 // Seconds from the export start.
	Record *Record
}

// FrameCount returns the number of frames in duration seconds at rate.
func FrameCount(duration float64, rate float64) int {
	if duration <= 0 || rate <= 0 {
		return 0
	}
	// Absorb float error so 0.1s at 30 fps is 3 frames, not 4.
	return int(math.Ceil(duration*rate - 1e-9))
}

// Resample returns one record per output frame. Each frame holds the
// last sample at or before its time. A frame that would hold nil
// takes the next non-nil sample instead, so gaps at segment
// boundaries do not blank the overlay.
func Resample(samples []Sample, rate float64, duration float64) []*Record {
	n := FrameCount(duration, rate)
	out := make([]*Record, n)
	if n == 0 || len(samples) == 0 {
		return out
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time < sorted[j].Time
	})

	// Index of the first non-nil record at or after i, -1 if none.
	next := make([]int, len(sorted))
	following := -1
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Record != nil {
			following = i
		}
		next[i] = following
	}

	cursor := 0
	for i := range out {
		t := float64(i) / rate
		for cursor+1 < len(sorted) && sorted[cursor+1].Time <= t {
			cursor++
		}
		if j := next[cursor]; j != -1 {
			out[i] = sorted[j].Record
		}
	}
	return out
}
