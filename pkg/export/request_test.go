// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"encoding/json"
	"teslacam/pkg/clip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{
		Clip:    "2023-01-01_10-02-00",
		Start:   at(0),
		End:     at(60),
		Cameras: []clip.Camera{clip.Front},
	}
}

func TestRequestValidate(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		req := validRequest()
		req.normalize()
		require.NoError(t, req.Validate())
		require.Equal(t, FormatMP4, req.Format)
		require.Equal(t, Res1080p, req.Resolution)
		require.Equal(t, QualityMedium, req.Quality)
	})

	cases := map[string]func(*Request){
		"noClip":         func(r *Request) { r.Clip = "" },
		"noStart":        func(r *Request) { r.Start = time.Time{} },
		"endBeforeStart": func(r *Request) { r.End = at(-1) },
		"endEqualStart":  func(r *Request) { r.End = r.Start },
		"noCameras":      func(r *Request) { r.Cameras = nil },
		"badCamera":      func(r *Request) { r.Cameras = []clip.Camera{clip.CameraCount} },
		"duplicate":      func(r *Request) { r.Cameras = []clip.Camera{clip.Front, clip.Front} },
		"columns":        func(r *Request) { r.Columns = -1 },
		"format":         func(r *Request) { r.Format = "avi" },
		"resolution":     func(r *Request) { r.Resolution = "4k" },
		"quality":        func(r *Request) { r.Quality = "best" },
	}
	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			req.normalize()
			modify(&req)
			require.ErrorIs(t, req.Validate(), ErrInvalidRequest)
		})
	}
}

func TestRequestJSON(t *testing.T) {
	raw := `{
		"clip": "2023-01-01_10-02-00",
		"start": "2023-01-01T10:00:00Z",
		"end": "2023-01-01T10:01:00Z",
		"cameras": ["front", "left_repeater"],
		"format": "webm",
		"hud": true,
		"useMph": true
	}`
	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	require.Equal(t, []clip.Camera{clip.Front, clip.LeftRepeater}, req.Cameras)
	require.Equal(t, at(0), req.Start)
	require.Equal(t, FormatWebM, req.Format)
	require.True(t, req.HUD)
	require.True(t, req.UseMPH)
}

func TestResolutionSize(t *testing.T) {
	cases := map[Resolution][2]int{
		Res1080p: {1920, 1080},
		Res720p:  {1280, 720},
		Res480p:  {854, 480},
	}
	for res, size := range cases {
		w, h := res.Size()
		require.Equal(t, size, [2]int{w, h})
	}
}
