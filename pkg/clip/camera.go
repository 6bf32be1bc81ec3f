// SPDX-License-Identifier: GPL-2.0-or-later

package clip

import (
	"errors"
	"fmt"
	"strings"
)

// Camera is one of the fixed dashcam angles.
type Camera int

// Cameras, in canvas order.
const (
	Front Camera = iota
	Back
	LeftRepeater
	RightRepeater
	LeftPillar
	RightPillar

	CameraCount
)

type cameraRecord struct {
	id         string
	label      string
	fileSuffix string
}

var cameraInfo = [CameraCount]cameraRecord{
	Front:         {"front", "Front", "front"},
	Back:          {"back", "Back", "back"},
	LeftRepeater:  {"left_repeater", "Left Repeater", "left_repeater"},
	RightRepeater: {"right_repeater", "Right Repeater", "right_repeater"},
	LeftPillar:    {"left_pillar", "Left Pillar", "left_pillar"},
	RightPillar:   {"right_pillar", "Right Pillar", "right_pillar"},
}

// Valid reports whether c is a known camera.
func (c Camera) Valid() bool {
	return c >= 0 && c < CameraCount
}

// ID returns the identifier used in requests.
func (c Camera) ID() string {
	if !c.Valid() {
		return fmt.Sprintf("camera(%d)", int(c))
	}
	return cameraInfo[c].id
}

// Label returns the name drawn on the canvas.
func (c Camera) Label() string {
	if !c.Valid() {
		return c.ID()
	}
	return cameraInfo[c].label
}

// FileSuffix returns the suffix of the camera's video files.
func (c Camera) FileSuffix() string {
	if !c.Valid() {
		return ""
	}
	return cameraInfo[c].fileSuffix
}

func (c Camera) String() string {
	return c.ID()
}

// MarshalText implements encoding.TextMarshaler.
func (c Camera) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCamera, int(c))
	}
	return []byte(c.ID()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Camera) UnmarshalText(text []byte) error {
	cam, err := ParseCamera(string(text))
	if err != nil {
		return err
	}
	*c = cam
	return nil
}

// ErrUnknownCamera unknown camera id.
var ErrUnknownCamera = errors.New("unknown camera")

// ParseCamera returns the camera with the given id.
func ParseCamera(id string) (Camera, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for c := Camera(0); c < CameraCount; c++ {
		if cameraInfo[c].id == id {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCamera, id)
}

// ParseCameras parses a comma separated list of camera ids.
func ParseCameras(csv string) ([]Camera, error) {
	var cameras []Camera
	for _, id := range strings.Split(csv, ",") {
		if strings.TrimSpace(id) == "" {
			continue
		}
		c, err := ParseCamera(id)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, c)
	}
	return cameras, nil
}

// AllCameras returns every camera in canvas order.
func AllCameras() []Camera {
	cameras := make([]Camera, CameraCount)
	for i := range cameras {
		cameras[i] = Camera(i)
	}
	return cameras
}
