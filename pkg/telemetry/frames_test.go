// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalFrames(t *testing.T) {
	records := []*Record{
		nil,
		{
			Gear:                     GearReverse,
			FrameSeqNo:               7,
			AcceleratorPedalPosition: 0.5,
			BlinkerOnLeft:            true,
			AutopilotState:           AutopilotTACC,
			HeadingDeg:               -90,
		},
	}
	b, err := MarshalFrames(records)
	require.NoError(t, err)

	var actual []map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &actual))
	require.Len(t, actual, 2)
	require.Nil(t, actual[0])

	f := actual[1]
	require.Equal(t, "GEAR_REVERSE", f["gearState"])
	require.Equal(t, "TACC", f["autopilotState"])
	require.Equal(t, float64(7), f["frameSeqNo"])
	require.Equal(t, 0.5, f["acceleratorPedalPosition"])
	require.Equal(t, float64(270), f["headingDeg"])
	require.Equal(t, true, f["blinkerOnLeft"])
	require.Equal(t, true, f["leftBlinkerOn"])
	require.Equal(t, false, f["rightBlinkerOn"])

	for _, key := range []string{
		"version", "vehicleSpeedMps", "steeringWheelAngle", "brakeApplied",
		"latitudeDeg", "longitudeDeg", "linearAccelerationMps2X",
		"linearAccelerationMps2Y", "linearAccelerationMps2Z",
	} {
		require.Contains(t, f, key)
	}
}

func TestMarshalFramesEmpty(t *testing.T) {
	b, err := MarshalFrames(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(b))
}

func TestWriteFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.json")
	require.NoError(t, WriteFrames(path, []*Record{{FrameSeqNo: 1}, nil}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var actual []*struct {
		FrameSeqNo uint64 `json:"frameSeqNo"`
	}
	require.NoError(t, json.Unmarshal(b, &actual))
	require.Len(t, actual, 2)
	require.Equal(t, uint64(1), actual[0].FrameSeqNo)
	require.Nil(t, actual[1])
}

func TestWriteFramesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "frames.json")
	require.Error(t, WriteFrames(path, nil))
}
