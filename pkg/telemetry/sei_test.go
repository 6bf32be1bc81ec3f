// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFraming(t *testing.T) {
	t.Run("roundTrip", func(t *testing.T) {
		records := map[string]*Record{
			"full":  newTestRecord(),
			"empty": {},
			// Doubles with many zero bytes need emulation prevention.
			"zeros": {LatitudeDeg: 1, LongitudeDeg: 2, HeadingDeg: 0.5, FrameSeqNo: 1 << 16},
		}
		for name, r := range records {
			t.Run(name, func(t *testing.T) {
				unit := FrameSEI(r)
				require.True(t, IsCandidate(unit))

				payload, ok := PayloadFromSEI(unit)
				require.True(t, ok)

				actual, err := Decode(payload)
				require.NoError(t, err)
				require.Equal(t, r, actual)
			})
		}
	})
	t.Run("escaped", func(t *testing.T) {
		unit := FrameSEI(&Record{LatitudeDeg: 1})
		require.False(t, bytes.Contains(unit[3:], []byte{0x00, 0x00, 0x00}))
		require.True(t, bytes.Contains(unit, []byte{0x00, 0x00, 0x03}))
	})
	t.Run("layout", func(t *testing.T) {
		unit := FrameSEI(&Record{Version: 1})
		expected := []byte{
			0x06, 0x05, 0x06, // header, type, size
			0x42, 0x42, 0x42, // padding
			0x69,       // terminator
			0x08, 0x01, // version
			0x80, // stop bit
		}
		require.Equal(t, expected, unit)
	})
}

func TestPayloadFromSEI(t *testing.T) {
	cases := map[string]struct {
		input    []byte
		expected []byte
		ok       bool
	}{
		"ok": {
			input:    []byte{0x06, 0x05, 0x05, 0x42, 0x42, 0x69, 0x08, 0x01, 0x80},
			expected: []byte{0x08, 0x01},
			ok:       true,
		},
		"noPadding": {
			input:    []byte{0x06, 0x05, 0x03, 0x69, 0x08, 0x01, 0x80},
			expected: []byte{0x08, 0x01},
			ok:       true,
		},
		"emptyPayload": {
			input:    []byte{0x06, 0x05, 0x02, 0x42, 0x69, 0x80},
			expected: []byte{},
			ok:       true,
		},
		"notSEI":        {input: []byte{0x65, 0x05, 0x05, 0x42, 0x69, 0x08, 0x80}},
		"otherSEIType":  {input: []byte{0x06, 0x04, 0x05, 0x42, 0x69, 0x08, 0x80}},
		"noTerminator":  {input: []byte{0x06, 0x05, 0x05, 0x42, 0x42, 0x08, 0x80}},
		"onlyPadding":   {input: []byte{0x06, 0x05, 0x05, 0x42, 0x42}},
		"terminatorEnd": {input: []byte{0x06, 0x05, 0x05, 0x42, 0x69}},
		"short":         {input: []byte{0x06}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			actual, ok := PayloadFromSEI(tc.input)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.expected, actual)
		})
	}
	t.Run("customFraming", func(t *testing.T) {
		f := Framing{PrefixLen: 3, Padding: 0xAA, Terminator: 0xBB, PaddingLen: 1}
		unit := f.Frame(&Record{Version: 2})
		require.Equal(t, []byte{0x06, 0x05, 0x04, 0xAA, 0xBB, 0x08, 0x02, 0x80}, unit)

		_, ok := PayloadFromSEI(unit)
		require.False(t, ok)

		payload, ok := f.Payload(unit)
		require.True(t, ok)
		require.Equal(t, []byte{0x08, 0x02}, payload)
	})
}
