// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"fmt"
	"io"
	"math"
	"os"
	"teslacam/pkg/video/h264"
	"teslacam/pkg/video/mp4"
	"time"
)

// ExtractFunc is used for mocking.
type ExtractFunc func(path string) ([]*Record, error)

// Extract returns one record per telemetry unit in the video file.
// Units that fail to decode are skipped. Any failure to read
// the file yields an empty list, the error is only for logging.
func Extract(path string) ([]*Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return []*Record{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return []*Record{}, err
	}

	records, err := Read(file, stat.Size())
	if err != nil {
		return []*Record{}, err
	}
	return records, nil
}

// Read extracts records from a file of the given size.
func Read(r io.ReaderAt, size int64) ([]*Record, error) {
	mdat, err := mp4.Find(r, 0, size, mp4.TypeMdat)
	if err != nil {
		return nil, fmt.Errorf("locate media data: %w", err)
	}

	records := []*Record{}
	err = h264.AVCCScan(r, mdat.PayloadOffset(), mdat.End(), h264.AVCCScanFunc{
		Want: func(header byte) bool {
			return h264.NALUType(header&0x1F) == h264.NALUTypeSEI
		},
		NALU: func(nalu []byte) error {
			payload, ok := PayloadFromSEI(nalu)
			if !ok {
				return nil
			}
			record, err := Decode(payload)
			if err != nil {
				return nil //nolint:nilerr
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan media data: %w", err)
	}
	return records, nil
}

// Nearest returns the record for a time offset assuming one
// record per frame at frameRate, clamped to the last record.
func Nearest(records []*Record, offset time.Duration, frameRate float64) *Record {
	if len(records) == 0 {
		return nil
	}
	i := int(math.Floor(offset.Seconds() * frameRate))
	if i < 0 {
		i = 0
	}
	if i >= len(records) {
		i = len(records) - 1
	}
	return records[i]
}
