package h264

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// AVCC errors.
var (
	ErrAVCCInvalidLength = errors.New("invalid length")
)

// AVCCnaluSizeTooBigError .
type AVCCnaluSizeTooBigError struct {
	NALUSize int
}

func (e AVCCnaluSizeTooBigError) Error() string {
	return fmt.Sprintf("NALU size (%d) is too big (maximum is %d)", e.NALUSize, MaxNALUSize)
}

// AVCCUnmarshal decodes NALUs from the AVCC stream format.
func AVCCUnmarshal(buf []byte) ([][]byte, error) {
	bl := len(buf)
	pos := 0
	var ret [][]byte

	for {
		if (bl - pos) < 4 {
			return nil, ErrAVCCInvalidLength
		}

		le := int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4

		if (bl - pos) < le {
			return nil, ErrAVCCInvalidLength
		}

		if le > MaxNALUSize {
			return nil, AVCCnaluSizeTooBigError{NALUSize: le}
		}

		ret = append(ret, buf[pos:pos+le])
		pos += le

		if (bl - pos) == 0 {
			break
		}
	}

	return ret, nil
}

// AVCCMarshal encodes NALUs into the AVCC stream format.
func AVCCMarshal(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}

	buf := make([]byte, n)
	pos := 0
	for _, nalu := range nalus {
		binary.BigEndian.PutUint32(buf[pos:], uint32(len(nalu)))
		pos += 4
		pos += copy(buf[pos:], nalu)
	}
	return buf
}

// AVCCScanFunc is called for each NALU found by AVCCScan.
// The header byte is passed first, a NALU is only read
// if want returns true for its type.
type AVCCScanFunc struct {
	Want func(header byte) bool
	NALU func(nalu []byte) error
}

// AVCCScan walks length prefixed NALUs in [start, end) of r.
// Unlike AVCCUnmarshal it tolerates damaged streams: a length
// that is zero or runs past end skips forward by the prefix
// and scanning continues, so every iteration makes progress.
// NALUs larger than MaxNALUSize are skipped without being read.
func AVCCScan(r io.ReaderAt, start int64, end int64, fn AVCCScanFunc) error {
	var prefix [5]byte
	pos := start

	for end-pos >= 5 {
		if _, err := r.ReadAt(prefix[:], pos); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read length at %d: %w", pos, err)
		}

		size := int64(binary.BigEndian.Uint32(prefix[:4]))
		if size == 0 || pos+4+size > end {
			pos += 4
			continue
		}

		if size <= MaxNALUSize && (fn.Want == nil || fn.Want(prefix[4])) {
			nalu := make([]byte, size)
			n, err := r.ReadAt(nalu, pos+4)
			if int64(n) < size {
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				return fmt.Errorf("read NALU at %d: %w", pos+4, err)
			}
			if err := fn.NALU(nalu); err != nil {
				return err
			}
		}
		pos += 4 + size
	}
	return nil
}
