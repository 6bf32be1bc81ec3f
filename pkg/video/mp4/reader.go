package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

const headerSize = 8

// Box reader errors.
var (
	ErrExtendedSize = errors.New("64-bit box size is not supported")
	ErrInvalidSize  = errors.New("invalid box size")
	ErrBoxNotFound  = errors.New("box not found")
	ErrStopScan     = errors.New("stop scan")
)

// Header is a box header and its position in the file.
type Header struct {
	Type   BoxType
	Offset int64 // Position of the header.
	Size   int64 // Total size including the header.
}

// PayloadOffset returns the position of the first byte after the header.
func (h Header) PayloadOffset() int64 {
	return h.Offset + headerSize
}

// PayloadSize returns the number of bytes after the header.
func (h Header) PayloadSize() int64 {
	return h.Size - headerSize
}

// End returns the position of the first byte after the box.
func (h Header) End() int64 {
	return h.Offset + h.Size
}

// ReadHeader reads the box header at offset.
// end is the end of the enclosing range, a size
// of zero means the box extends to it.
func ReadHeader(r io.ReaderAt, offset int64, end int64) (Header, error) {
	var buf [headerSize]byte
	n, err := r.ReadAt(buf[:], offset)
	if n < headerSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return Header{}, fmt.Errorf("read header at %d: %w", offset, err)
	}

	var h Header
	h.Offset = offset
	copy(h.Type[:], buf[4:8])

	size := binary.BigEndian.Uint32(buf[:4])
	switch {
	case size == 0:
		h.Size = end - offset
	case size == 1:
		return Header{}, fmt.Errorf("%v at %d: %w", h.Type, offset, ErrExtendedSize)
	case size < headerSize:
		return Header{}, fmt.Errorf("%v at %d: size %d: %w", h.Type, offset, size, ErrInvalidSize)
	default:
		h.Size = int64(size)
	}

	if h.End() > end {
		return Header{}, fmt.Errorf("%v at %d: size %d exceeds range end %d: %w",
			h.Type, offset, h.Size, end, ErrInvalidSize)
	}
	return h, nil
}

// Scan calls fn for each sibling box in [start, end).
// Trailing bytes too short to hold a header are ignored.
// Returning ErrStopScan from fn stops the scan without error.
func Scan(r io.ReaderAt, start int64, end int64, fn func(Header) error) error {
	pos := start
	for end-pos >= headerSize {
		h, err := ReadHeader(r, pos, end)
		if err != nil {
			return err
		}
		if err := fn(h); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
		pos = h.End()
	}
	return nil
}

// Find returns the first box of type typ in [start, end).
func Find(r io.ReaderAt, start int64, end int64, typ BoxType) (Header, error) {
	var found *Header
	err := Scan(r, start, end, func(h Header) error {
		if h.Type == typ {
			found = &h
			return ErrStopScan
		}
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	if found == nil {
		return Header{}, fmt.Errorf("%v: %w", typ, ErrBoxNotFound)
	}
	return *found, nil
}

// FindPath descends through the given box types, starting at [start, end).
func FindPath(r io.ReaderAt, start int64, end int64, path ...BoxType) (Header, error) {
	var h Header
	for i, typ := range path {
		var err error
		h, err = Find(r, start, end, typ)
		if err != nil {
			if i > 0 {
				return Header{}, fmt.Errorf("%v: %w", path[i-1], err)
			}
			return Header{}, err
		}
		start, end = h.PayloadOffset(), h.End()
	}
	return h, nil
}

func payloadReader(r io.ReaderAt, h Header) *bitio.Reader {
	return bitio.NewReader(io.NewSectionReader(r, h.PayloadOffset(), h.PayloadSize()))
}

// ReadTimescale returns the tick rate stored in a mdhd box.
func ReadTimescale(r io.ReaderAt, mdhd Header) (uint32, error) {
	br := payloadReader(r, mdhd)

	version := br.TryReadByte()
	br.TryReadBits(24) // Flags.
	if version == 1 {
		br.TryReadBits(64) // Creation time.
		br.TryReadBits(64) // Modification time.
	} else {
		br.TryReadBits(32)
		br.TryReadBits(32)
	}
	timescale := br.TryReadBits(32)
	if br.TryError != nil {
		return 0, fmt.Errorf("mdhd version %d: %w", version, br.TryError)
	}
	return uint32(timescale), nil
}

// ReadStts returns the entries of a stts box.
func ReadStts(r io.ReaderAt, stts Header) ([]SttsEntry, error) {
	br := payloadReader(r, stts)

	br.TryReadBits(32) // Version and flags.
	count := br.TryReadBits(32)
	if br.TryError != nil {
		return nil, fmt.Errorf("stts header: %w", br.TryError)
	}

	if int64(count)*8 > stts.PayloadSize()-8 {
		return nil, fmt.Errorf("stts entry count %d: %w", count, ErrInvalidSize)
	}

	entries := make([]SttsEntry, count)
	for i := range entries {
		entries[i].SampleCount = uint32(br.TryReadBits(32))
		entries[i].SampleDelta = uint32(br.TryReadBits(32))
	}
	if br.TryError != nil {
		return nil, fmt.Errorf("stts entries: %w", br.TryError)
	}
	return entries, nil
}
