package h264

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAVCCUnmarshal(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		nalus := [][]byte{{0x06, 0x05, 0x01}, {0x65, 0x88}}
		actual, err := AVCCUnmarshal(AVCCMarshal(nalus))
		require.NoError(t, err)
		require.Equal(t, nalus, actual)
	})
	t.Run("invalidLength", func(t *testing.T) {
		_, err := AVCCUnmarshal([]byte{0x00, 0x00, 0x00, 0x05, 0x01})
		require.ErrorIs(t, err, ErrAVCCInvalidLength)
	})
	t.Run("short", func(t *testing.T) {
		_, err := AVCCUnmarshal([]byte{0x00, 0x00})
		require.ErrorIs(t, err, ErrAVCCInvalidLength)
	})
}

func collectNALUs(t *testing.T, buf []byte, want func(byte) bool) [][]byte {
	t.Helper()
	var nalus [][]byte
	err := AVCCScan(bytes.NewReader(buf), 0, int64(len(buf)), AVCCScanFunc{
		Want: want,
		NALU: func(nalu []byte) error {
			nalus = append(nalus, nalu)
			return nil
		},
	})
	require.NoError(t, err)
	return nalus
}

func TestAVCCScan(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		buf := AVCCMarshal([][]byte{{0x06, 0x05}, {0x65, 0x88}, {0x06, 0x01}})
		actual := collectNALUs(t, buf, nil)
		require.Equal(t, [][]byte{{0x06, 0x05}, {0x65, 0x88}, {0x06, 0x01}}, actual)
	})
	t.Run("filter", func(t *testing.T) {
		buf := AVCCMarshal([][]byte{{0x06, 0x05}, {0x65, 0x88}, {0x06, 0x01}})
		actual := collectNALUs(t, buf, func(header byte) bool {
			return NALUType(header&0x1F) == NALUTypeSEI
		})
		require.Equal(t, [][]byte{{0x06, 0x05}, {0x06, 0x01}}, actual)
	})
	t.Run("zeroLength", func(t *testing.T) {
		buf := append([]byte{0x00, 0x00, 0x00, 0x00}, AVCCMarshal([][]byte{{0x06, 0x05}})...)
		actual := collectNALUs(t, buf, nil)
		require.Equal(t, [][]byte{{0x06, 0x05}}, actual)
	})
	t.Run("lengthPastEnd", func(t *testing.T) {
		buf := append(AVCCMarshal([][]byte{{0x65, 0x01}}), 0x7f, 0xff, 0xff, 0xff, 0x01)
		actual := collectNALUs(t, buf, nil)
		require.Equal(t, [][]byte{{0x65, 0x01}}, actual)
	})
	t.Run("garbage", func(t *testing.T) {
		buf := bytes.Repeat([]byte{0xff}, 64)
		require.Empty(t, collectNALUs(t, buf, nil))
	})
}
