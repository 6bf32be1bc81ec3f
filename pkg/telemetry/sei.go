// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"teslacam/pkg/video/h264"
)

// Framing describes how the record is wrapped inside an
// unregistered user data SEI unit. The layout is observed
// from vehicle firmware and is not a published format.
//
//	06 05 <size> 42 42 .. 42 69 <record> 80
type Framing struct {
	// Bytes before the padding run: NALU header, SEI type and size.
	PrefixLen int

	// Repeated byte before the terminator.
	Padding byte

	// Byte that ends the padding, the record follows it.
	Terminator byte

	// Padding bytes written by Frame.
	PaddingLen int
}

// DefaultFraming is the framing used by current firmware.
var DefaultFraming = Framing{
	PrefixLen:  3,
	Padding:    0x42,
	Terminator: 0x69,
	PaddingLen: 3,
}

// rbspStopBit is the last byte of the unit.
const rbspStopBit = 0x80

// IsCandidate reports if the NALU is an unregistered user data SEI.
func IsCandidate(nalu []byte) bool {
	return len(nalu) >= 2 &&
		h264.TypeOf(nalu) == h264.NALUTypeSEI &&
		nalu[1] == h264.SEITypeUserDataUnregistered
}

// Payload locates the record bytes inside an escaped SEI unit
// and removes emulation prevention bytes from them.
func (f Framing) Payload(nalu []byte) ([]byte, bool) {
	if !IsCandidate(nalu) {
		return nil, false
	}

	i := f.PrefixLen
	for i < len(nalu) && nalu[i] == f.Padding {
		i++
	}
	if i >= len(nalu) || nalu[i] != f.Terminator {
		return nil, false
	}
	i++

	// The stop bit byte is not part of the record.
	end := len(nalu) - 1
	if i > end {
		return nil, false
	}
	return h264.AntiCompetitionRemove(nalu[i:end]), true
}

// Frame wraps a record in an escaped SEI unit.
func (f Framing) Frame(r *Record) []byte {
	payload := r.Marshal()

	body := make([]byte, 0, f.PaddingLen+1+len(payload))
	for i := 0; i < f.PaddingLen; i++ {
		body = append(body, f.Padding)
	}
	body = append(body, f.Terminator)
	body = append(body, payload...)

	size := len(body)
	if size > 0xFE {
		size = 0xFE
	}

	unit := []byte{byte(h264.NALUTypeSEI), h264.SEITypeUserDataUnregistered, byte(size)}
	unit = append(unit, body...)
	unit = append(unit, rbspStopBit)

	// The header bytes never need escaping.
	return append(unit[:f.PrefixLen], h264.AntiCompetitionAdd(unit[f.PrefixLen:])...)
}

// PayloadFromSEI locates the record with the default framing.
func PayloadFromSEI(nalu []byte) ([]byte, bool) {
	return DefaultFraming.Payload(nalu)
}

// FrameSEI wraps a record with the default framing.
func FrameSEI(r *Record) []byte {
	return DefaultFraming.Frame(r)
}
