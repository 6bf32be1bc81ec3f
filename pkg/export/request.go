// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"errors"
	"fmt"
	"teslacam/pkg/clip"
	"time"
)

// Format output container.
type Format string

// Formats.
const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

// Resolution of the output canvas.
type Resolution string

// Resolutions.
const (
	Res1080p Resolution = "1080p"
	Res720p  Resolution = "720p"
	Res480p  Resolution = "480p"
)

// Size returns the canvas width and height.
func (r Resolution) Size() (int, int) {
	switch r {
	case Res720p:
		return 1280, 720
	case Res480p:
		return 854, 480
	}
	return 1920, 1080
}

// Quality encoder tier.
type Quality string

// Quality tiers.
const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

type tier struct {
	preset  string
	crf     int
	cpuUsed int // libvpx-vp9 only.
}

func (q Quality) tier() tier {
	switch q {
	case QualityHigh:
		return tier{preset: "slow", crf: 18, cpuUsed: 1}
	case QualityLow:
		return tier{preset: "veryfast", crf: 28, cpuUsed: 5}
	}
	return tier{preset: "medium", crf: 23, cpuUsed: 3}
}

// Request export request.
type Request struct {
	Clip  string    `json:"clip"`
	Start time.Time `json:"start"` // Inclusive.
	End   time.Time `json:"end"`   // Exclusive.

	Cameras []clip.Camera `json:"cameras"`
	Columns int           `json:"columns"` // Zero picks a column count.

	Format     Format     `json:"format"`
	Resolution Resolution `json:"resolution"`
	Quality    Quality    `json:"quality"`

	Timestamp bool `json:"timestamp"`
	Labels    bool `json:"labels"`
	Location  bool `json:"location"`
	HUD       bool `json:"hud"`
	UseMPH    bool `json:"useMph"`
}

// ErrInvalidRequest invalid request.
var ErrInvalidRequest = errors.New("invalid export request")

// normalize fills in the defaults.
func (r *Request) normalize() {
	if r.Format == "" {
		r.Format = FormatMP4
	}
	if r.Resolution == "" {
		r.Resolution = Res1080p
	}
	if r.Quality == "" {
		r.Quality = QualityMedium
	}
}

// Validate checks the request after defaults are applied.
func (r Request) Validate() error {
	switch {
	case r.Clip == "":
		return fmt.Errorf("%w: missing clip", ErrInvalidRequest)
	case r.Start.IsZero() || r.End.IsZero():
		return fmt.Errorf("%w: missing start or end", ErrInvalidRequest)
	case !r.End.After(r.Start):
		return fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	case len(r.Cameras) == 0:
		return fmt.Errorf("%w: no cameras", ErrInvalidRequest)
	case r.Columns < 0:
		return fmt.Errorf("%w: negative columns", ErrInvalidRequest)
	}

	var seen [clip.CameraCount]bool
	for _, c := range r.Cameras {
		if !c.Valid() {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, c)
		}
		if seen[c] {
			return fmt.Errorf("%w: duplicate camera: %v", ErrInvalidRequest, c)
		}
		seen[c] = true
	}

	switch r.Format {
	case FormatMP4, FormatWebM:
	default:
		return fmt.Errorf("%w: format: %q", ErrInvalidRequest, r.Format)
	}
	switch r.Resolution {
	case Res1080p, Res720p, Res480p:
	default:
		return fmt.Errorf("%w: resolution: %q", ErrInvalidRequest, r.Resolution)
	}
	switch r.Quality {
	case QualityHigh, QualityMedium, QualityLow:
	default:
		return fmt.Errorf("%w: quality: %q", ErrInvalidRequest, r.Quality)
	}
	return nil
}
