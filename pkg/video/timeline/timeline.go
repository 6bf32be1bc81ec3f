// SPDX-License-Identifier: GPL-2.0-or-later

package timeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"teslacam/pkg/video/mp4"
)

// ErrMalformedContainer is returned when a file lacks the boxes
// needed to build a timeline or their values are unusable.
var ErrMalformedContainer = errors.New("malformed container")

// Timeline is the presentation start of every frame in a video track.
type Timeline struct {
	// Start offset of each frame in milliseconds, non-decreasing.
	Starts []float64

	// Sum of all frame durations in milliseconds.
	TotalDuration float64

	// Ticks per second of the track.
	Timescale uint32
}

// Len returns the number of frames.
func (t *Timeline) Len() int {
	return len(t.Starts)
}

// FrameAt returns the index of the frame displayed at ms.
// Times before the first frame map to the first frame
// and times after the last start map to the last frame.
func (t *Timeline) FrameAt(ms float64) int {
	n := len(t.Starts)
	if n == 0 || ms <= t.Starts[0] {
		return 0
	}
	if ms >= t.Starts[n-1] {
		return n - 1
	}
	// First index with a start after ms, the frame before it covers ms.
	return sort.Search(n, func(i int) bool { return t.Starts[i] > ms }) - 1
}

// FrameEnd returns the end time of frame i in milliseconds.
func (t *Timeline) FrameEnd(i int) float64 {
	if i+1 < len(t.Starts) {
		return t.Starts[i+1]
	}
	return t.TotalDuration
}

// ExtractFunc is used for mocking.
type ExtractFunc func(path string) (*Timeline, error)

// Extract reads the frame timing table of the first track in path.
func Extract(path string) (*Timeline, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return Read(file, stat.Size())
}

// Read builds a timeline from a file of the given size.
func Read(r io.ReaderAt, size int64) (*Timeline, error) {
	mdia, err := mp4.FindPath(r, 0, size, mp4.TypeMoov, mp4.TypeTrak, mp4.TypeMdia)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}

	mdhd, err := mp4.Find(r, mdia.PayloadOffset(), mdia.End(), mp4.TypeMdhd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}
	timescale, err := mp4.ReadTimescale(r, mdhd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}
	if timescale == 0 {
		return nil, fmt.Errorf("%w: zero timescale", ErrMalformedContainer)
	}

	stts, err := mp4.FindPath(r, mdia.PayloadOffset(), mdia.End(),
		mp4.TypeMinf, mp4.TypeStbl, mp4.TypeStts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}
	entries, err := mp4.ReadStts(r, stts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}

	return fromEntries(entries, timescale)
}

// Ten hours at 240 fps.
const maxFrames = 10 * 60 * 60 * 240

func fromEntries(entries []mp4.SttsEntry, timescale uint32) (*Timeline, error) {
	var count uint64
	for _, e := range entries {
		count += uint64(e.SampleCount)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty sample table", ErrMalformedContainer)
	}
	if count > maxFrames {
		return nil, fmt.Errorf("%w: %d frames", ErrMalformedContainer, count)
	}

	t := &Timeline{
		Starts:    make([]float64, 0, count),
		Timescale: timescale,
	}
	scale := 1000 / float64(timescale)

	var ticks uint64
	for _, e := range entries {
		for i := uint32(0); i < e.SampleCount; i++ {
			t.Starts = append(t.Starts, float64(ticks)*scale)
			ticks += uint64(e.SampleDelta)
		}
	}
	t.TotalDuration = float64(ticks) * scale
	return t, nil
}
