// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
)

// frame is the record layout read by the HUD renderer.
type frame struct {
	Version                  uint32  `json:"version"`
	GearState                string  `json:"gearState"`
	FrameSeqNo               uint64  `json:"frameSeqNo"`
	VehicleSpeedMps          float32 `json:"vehicleSpeedMps"`
	AcceleratorPedalPosition float32 `json:"acceleratorPedalPosition"`
	SteeringWheelAngle       float32 `json:"steeringWheelAngle"`
	BlinkerOnLeft            bool    `json:"blinkerOnLeft"`
	BlinkerOnRight           bool    `json:"blinkerOnRight"`
	LeftBlinkerOn            bool    `json:"leftBlinkerOn"`
	RightBlinkerOn           bool    `json:"rightBlinkerOn"`
	BrakeApplied             bool    `json:"brakeApplied"`
	AutopilotState           string  `json:"autopilotState"`
	LatitudeDeg              float64 `json:"latitudeDeg"`
	LongitudeDeg             float64 `json:"longitudeDeg"`
	HeadingDeg               float64 `json:"headingDeg"`
	LinearAccelerationMps2X  float64 `json:"linearAccelerationMps2X"`
	LinearAccelerationMps2Y  float64 `json:"linearAccelerationMps2Y"`
	LinearAccelerationMps2Z  float64 `json:"linearAccelerationMps2Z"`
}

func newFrame(r *Record) *frame {
	if r == nil {
		return nil
	}
	return &frame{
		Version:                  r.Version,
		GearState:                r.Gear.String(),
		FrameSeqNo:               r.FrameSeqNo,
		VehicleSpeedMps:          r.VehicleSpeedMps,
		AcceleratorPedalPosition: r.AcceleratorPedalPosition,
		SteeringWheelAngle:       r.SteeringWheelAngle,
		BlinkerOnLeft:            r.BlinkerOnLeft,
		BlinkerOnRight:           r.BlinkerOnRight,
		LeftBlinkerOn:            r.BlinkerOnLeft,
		RightBlinkerOn:           r.BlinkerOnRight,
		BrakeApplied:             r.BrakeApplied,
		AutopilotState:           r.AutopilotState.String(),
		LatitudeDeg:              r.LatitudeDeg,
		LongitudeDeg:             r.LongitudeDeg,
		HeadingDeg:               r.Heading(),
		LinearAccelerationMps2X:  r.LinearAccelerationMps2X,
		LinearAccelerationMps2Y:  r.LinearAccelerationMps2Y,
		LinearAccelerationMps2Z:  r.LinearAccelerationMps2Z,
	}
}

// MarshalFrames encodes one element per frame, null for a missing record.
func MarshalFrames(records []*Record) ([]byte, error) {
	frames := make([]*frame, len(records))
	for i, r := range records {
		frames[i] = newFrame(r)
	}
	return json.Marshal(frames)
}

// WriteFrames writes the renderer input file.
func WriteFrames(path string, records []*Record) error {
	b, err := MarshalFrames(records)
	if err != nil {
		return fmt.Errorf("marshal frames: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write frames: %w", err)
	}
	return nil
}
