// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode is returned for a payload that is not a valid record.
var ErrDecode = errors.New("decode telemetry")

// Gear is the drive state of the vehicle.
type Gear uint8

// Gears.
const (
	GearPark Gear = iota
	GearDrive
	GearReverse
	GearNeutral
)

var gearNames = [...]string{"GEAR_PARK", "GEAR_DRIVE", "GEAR_REVERSE", "GEAR_NEUTRAL"}

func (g Gear) String() string {
	if int(g) < len(gearNames) {
		return gearNames[g]
	}
	return fmt.Sprintf("GEAR_%d", g)
}

// AutopilotState is the driver assistance mode.
type AutopilotState uint8

// Autopilot states.
const (
	AutopilotNone AutopilotState = iota
	AutopilotSelfDriving
	AutopilotAutosteer
	AutopilotTACC
)

var autopilotNames = [...]string{"NONE", "SELF_DRIVING", "AUTOSTEER", "TACC"}

func (a AutopilotState) String() string {
	if int(a) < len(autopilotNames) {
		return autopilotNames[a]
	}
	return "NONE"
}

// Record is the vehicle state embedded in one video frame.
type Record struct {
	Version                  uint32
	Gear                     Gear
	FrameSeqNo               uint64
	VehicleSpeedMps          float32
	AcceleratorPedalPosition float32 // 0-1 or 0-100 depending on firmware.
	SteeringWheelAngle       float32 // Degrees, positive is left.
	BlinkerOnLeft            bool
	BlinkerOnRight           bool
	BrakeApplied             bool
	AutopilotState           AutopilotState
	LatitudeDeg              float64
	LongitudeDeg             float64
	HeadingDeg               float64
	LinearAccelerationMps2X  float64
	LinearAccelerationMps2Y  float64
	LinearAccelerationMps2Z  float64
}

// PedalPercent returns the accelerator position in percent.
// Older firmware reports a 0-1 range.
func (r *Record) PedalPercent() float64 {
	v := float64(r.AcceleratorPedalPosition)
	if v <= 1.5 {
		v *= 100
	}
	return math.Max(0, math.Min(100, v))
}

// Heading returns the heading normalized to [0, 360).
func (r *Record) Heading() float64 {
	h := math.Mod(r.HeadingDeg, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// Field numbers of the record.
const (
	fieldVersion                  protowire.Number = 1
	fieldGear                     protowire.Number = 2
	fieldFrameSeqNo               protowire.Number = 3
	fieldVehicleSpeedMps          protowire.Number = 4
	fieldAcceleratorPedalPosition protowire.Number = 5
	fieldSteeringWheelAngle       protowire.Number = 6
	fieldBlinkerOnLeft            protowire.Number = 7
	fieldBlinkerOnRight           protowire.Number = 8
	fieldBrakeApplied             protowire.Number = 9
	fieldAutopilotState           protowire.Number = 10
	fieldLatitudeDeg              protowire.Number = 11
	fieldLongitudeDeg             protowire.Number = 12
	fieldHeadingDeg               protowire.Number = 13
	fieldLinearAccelerationX      protowire.Number = 14
	fieldLinearAccelerationY      protowire.Number = 15
	fieldLinearAccelerationZ      protowire.Number = 16
)

// Decode parses a record in protobuf wire format.
// Unknown fields and fields with an unexpected wire type are skipped.
func Decode(b []byte) (*Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		n = r.consumeField(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return &r, nil
}

func (r *Record) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch {
	case typ == protowire.VarintType && isVarintField(num):
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return n
		}
		r.setVarint(num, v)
		return n

	case typ == protowire.Fixed32Type && isFloatField(num):
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return n
		}
		r.setFloat(num, math.Float32frombits(v))
		return n

	case typ == protowire.Fixed64Type && isDoubleField(num):
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return n
		}
		r.setDouble(num, math.Float64frombits(v))
		return n
	}
	return protowire.ConsumeFieldValue(num, typ, b)
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldVersion, fieldGear, fieldFrameSeqNo, fieldBlinkerOnLeft,
		fieldBlinkerOnRight, fieldBrakeApplied, fieldAutopilotState:
		return true
	}
	return false
}

func isFloatField(num protowire.Number) bool {
	return num >= fieldVehicleSpeedMps && num <= fieldSteeringWheelAngle
}

func isDoubleField(num protowire.Number) bool {
	return num >= fieldLatitudeDeg && num <= fieldLinearAccelerationZ
}

func (r *Record) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldVersion:
		r.Version = uint32(v)
	case fieldGear:
		r.Gear = Gear(v)
	case fieldFrameSeqNo:
		r.FrameSeqNo = v
	case fieldBlinkerOnLeft:
		r.BlinkerOnLeft = protowire.DecodeBool(v)
	case fieldBlinkerOnRight:
		r.BlinkerOnRight = protowire.DecodeBool(v)
	case fieldBrakeApplied:
		r.BrakeApplied = protowire.DecodeBool(v)
	case fieldAutopilotState:
		r.AutopilotState = AutopilotState(v)
	}
}

func (r *Record) setFloat(num protowire.Number, v float32) {
	switch num {
	case fieldVehicleSpeedMps:
		r.VehicleSpeedMps = v
	case fieldAcceleratorPedalPosition:
		r.AcceleratorPedalPosition = v
	case fieldSteeringWheelAngle:
		r.SteeringWheelAngle = v
	}
}

func (r *Record) setDouble(num protowire.Number, v float64) {
	switch num {
	case fieldLatitudeDeg:
		r.LatitudeDeg = v
	case fieldLongitudeDeg:
		r.LongitudeDeg = v
	case fieldHeadingDeg:
		r.HeadingDeg = v
	case fieldLinearAccelerationX:
		r.LinearAccelerationMps2X = v
	case fieldLinearAccelerationY:
		r.LinearAccelerationMps2Y = v
	case fieldLinearAccelerationZ:
		r.LinearAccelerationMps2Z = v
	}
}

// Marshal encodes the record in protobuf wire format.
// Zero values are omitted like proto3 does.
func (r *Record) Marshal() []byte {
	var b []byte
	appendVarint := func(num protowire.Number, v uint64) {
		if v != 0 {
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, v)
		}
	}
	appendFloat := func(num protowire.Number, v float32) {
		if v != 0 {
			b = protowire.AppendTag(b, num, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(v))
		}
	}
	appendDouble := func(num protowire.Number, v float64) {
		if v != 0 {
			b = protowire.AppendTag(b, num, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(v))
		}
	}

	appendVarint(fieldVersion, uint64(r.Version))
	appendVarint(fieldGear, uint64(r.Gear))
	appendVarint(fieldFrameSeqNo, r.FrameSeqNo)
	appendFloat(fieldVehicleSpeedMps, r.VehicleSpeedMps)
	appendFloat(fieldAcceleratorPedalPosition, r.AcceleratorPedalPosition)
	appendFloat(fieldSteeringWheelAngle, r.SteeringWheelAngle)
	appendVarint(fieldBlinkerOnLeft, protowire.EncodeBool(r.BlinkerOnLeft))
	appendVarint(fieldBlinkerOnRight, protowire.EncodeBool(r.BlinkerOnRight))
	appendVarint(fieldBrakeApplied, protowire.EncodeBool(r.BrakeApplied))
	appendVarint(fieldAutopilotState, uint64(r.AutopilotState))
	appendDouble(fieldLatitudeDeg, r.LatitudeDeg)
	appendDouble(fieldLongitudeDeg, r.LongitudeDeg)
	appendDouble(fieldHeadingDeg, r.HeadingDeg)
	appendDouble(fieldLinearAccelerationX, r.LinearAccelerationMps2X)
	appendDouble(fieldLinearAccelerationY, r.LinearAccelerationMps2Y)
	appendDouble(fieldLinearAccelerationZ, r.LinearAccelerationMps2Z)
	return b
}
