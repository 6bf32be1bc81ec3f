// SPDX-License-Identifier: GPL-2.0-or-later

package clip

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"teslacam/pkg/log"
	"teslacam/pkg/video/timeline"
	"time"
)

// Location of the event that saved the clip.
type Location struct {
	City   string  `json:"city"`
	Street string  `json:"street"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

// Text returns "street, city" with empty parts left out.
func (l Location) Text() string {
	var parts []string
	for _, s := range []string{l.Street, l.City} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// HasCoordinates reports whether the coordinates are set.
func (l Location) HasCoordinates() bool {
	return l.Lat != 0 || l.Lon != 0
}

// Segment is one recording interval with a file per camera.
type Segment struct {
	Start    time.Time
	Duration time.Duration

	// Empty string when the camera has no file for this segment.
	Files [CameraCount]string
}

// End returns the end of the segment.
func (s Segment) End() time.Time {
	return s.Start.Add(s.Duration)
}

// Clip is a directory of consecutive segments.
type Clip struct {
	Dir      string
	Start    time.Time
	End      time.Time
	Segments []Segment
	Location *Location
}

// Lookup resolves a clip directory.
type Lookup interface {
	ClipByDir(dir string) (*Clip, error)
}

// Errors.
var (
	ErrNotFound   = errors.New("clip not found")
	ErrInvalidDir = errors.New("invalid clip directory")
)

const (
	fileTimeLayout = "2006-01-02_15-04-05"
	eventFile      = "event.json"

	defaultSegmentDuration = 60 * time.Second
)

// DirLookup finds clips in a TeslaCam directory tree.
type DirLookup struct {
	root     string
	timeline timeline.ExtractFunc
	logger   log.ILogger
}

// NewDirLookup returns a lookup rooted at root.
func NewDirLookup(root string, logger log.ILogger) *DirLookup {
	return &DirLookup{
		root:     root,
		timeline: timeline.Extract,
		logger:   logger,
	}
}

// ClipByDir returns the clip stored in root/dir.
// Times in file names are wall clock times and are returned as UTC.
func (l *DirLookup) ClipByDir(dir string) (*Clip, error) {
	if err := validateDir(dir); err != nil {
		return nil, err
	}
	path := filepath.Join(l.root, filepath.FromSlash(dir))

	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("read clip directory: %w", err)
	}

	segments := make(map[time.Time]*Segment)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		start, camera, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		seg, exists := segments[start]
		if !exists {
			seg = &Segment{Start: start}
			segments[start] = seg
		}
		seg.Files[camera] = filepath.Join(path, entry.Name())
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no videos in %v", ErrNotFound, dir)
	}

	clip := &Clip{Dir: dir}
	for _, seg := range segments {
		clip.Segments = append(clip.Segments, *seg)
	}
	sort.Slice(clip.Segments, func(i, j int) bool {
		return clip.Segments[i].Start.Before(clip.Segments[j].Start)
	})
	l.setDurations(clip.Segments)

	clip.Start = clip.Segments[0].Start
	clip.End = clip.Segments[len(clip.Segments)-1].End()

	location, err := readEvent(filepath.Join(path, eventFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logf(log.LevelWarning, "%v: %v", dir, err)
	}
	clip.Location = location

	return clip, nil
}

// setDurations uses the video length of the front camera, or any
// other camera, and falls back to the gap to the next segment.
func (l *DirLookup) setDurations(segments []Segment) {
	for i := range segments {
		seg := &segments[i]
		for _, file := range orderedFiles(seg.Files) {
			t, err := l.timeline(file)
			if err != nil {
				l.logf(log.LevelWarning, "timeline %v: %v", filepath.Base(file), err)
				continue
			}
			seg.Duration = time.Duration(t.TotalDuration * float64(time.Millisecond))
			break
		}
		if seg.Duration > 0 {
			continue
		}
		if i+1 < len(segments) {
			seg.Duration = segments[i+1].Start.Sub(seg.Start)
		} else {
			seg.Duration = defaultSegmentDuration
		}
	}
}

func orderedFiles(files [CameraCount]string) []string {
	var out []string
	for _, f := range files {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (l *DirLookup) logf(level log.Level, format string, a ...interface{}) {
	if l.logger == nil {
		return
	}
	log.NewEvent(l.logger, level).Src("clip").Msgf(format, a...)
}

func validateDir(dir string) error {
	if dir == "" || filepath.IsAbs(dir) || strings.HasPrefix(dir, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidDir, dir)
	}
	for _, part := range strings.FieldsFunc(dir, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidDir, dir)
		}
	}
	return nil
}

// ParseFileName parses "YYYY-MM-DD_HH-MM-SS-<camera>.mp4".
func ParseFileName(name string) (time.Time, Camera, bool) {
	if !strings.HasSuffix(name, ".mp4") || len(name) < len(fileTimeLayout)+6 {
		return time.Time{}, 0, false
	}
	stem := strings.TrimSuffix(name, ".mp4")
	if stem[len(fileTimeLayout)] != '-' {
		return time.Time{}, 0, false
	}

	start, err := time.Parse(fileTimeLayout, stem[:len(fileTimeLayout)])
	if err != nil {
		return time.Time{}, 0, false
	}
	suffix := stem[len(fileTimeLayout)+1:]
	for c := Camera(0); c < CameraCount; c++ {
		if cameraInfo[c].fileSuffix == suffix {
			return start, c, true
		}
	}
	return time.Time{}, 0, false
}

// FileName returns the file name of a camera's segment.
func FileName(start time.Time, c Camera) string {
	return start.Format(fileTimeLayout) + "-" + c.FileSuffix() + ".mp4"
}

type eventJSON struct {
	City   string     `json:"city"`
	Street string     `json:"street"`
	Lat    coordinate `json:"est_lat"`
	Lon    coordinate `json:"est_lon"`
}

// coordinate accepts both a number and a quoted number.
type coordinate float64

func (c *coordinate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("coordinate %s: %w", b, err)
	}
	*c = coordinate(v)
	return nil
}

// readEvent returns nil if the event has no location.
func readEvent(path string) (*Location, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var event eventJSON
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("unmarshal %v: %w", eventFile, err)
	}
	loc := Location{
		City:   event.City,
		Street: event.Street,
		Lat:    float64(event.Lat),
		Lon:    float64(event.Lon),
	}
	if loc.Text() == "" && !loc.HasCoordinates() {
		return nil, nil
	}
	return &loc, nil
}
