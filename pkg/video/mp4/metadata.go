package mp4

import (
	"fmt"
	"io"
)

// Item list keys written by ffmpeg for the
// title, comment and description tags.
var (
	ItemTitle       = BoxType{0xA9, 'n', 'a', 'm'}
	ItemComment     = BoxType{0xA9, 'c', 'm', 't'}
	ItemDescription = BoxType{'d', 'e', 's', 'c'}
)

// ReadItemList returns the text items stored in moov/udta/meta/ilst.
// A file without an item list returns an empty map.
func ReadItemList(r io.ReaderAt, size int64) (map[BoxType]string, error) {
	items := map[BoxType]string{}

	meta, err := FindPath(r, 0, size, TypeMoov, TypeUdta, TypeMeta)
	if err != nil {
		return items, nil //nolint:nilerr
	}

	// The mp4 meta box is a full box, the QuickTime one is not.
	start := meta.PayloadOffset()
	if first, err := ReadHeader(r, start, meta.End()); err != nil || first.Type != TypeHdlr {
		start += 4
	}

	ilst, err := Find(r, start, meta.End(), TypeIlst)
	if err != nil {
		return items, nil //nolint:nilerr
	}

	err = Scan(r, ilst.PayloadOffset(), ilst.End(), func(item Header) error {
		data, err := Find(r, item.PayloadOffset(), item.End(), TypeData)
		if err != nil {
			return nil //nolint:nilerr
		}
		// Type indicator and locale.
		if data.PayloadSize() < 8 {
			return nil
		}
		value := make([]byte, data.PayloadSize()-8)
		if _, err := r.ReadAt(value, data.PayloadOffset()+8); err != nil {
			return fmt.Errorf("read %v: %w", item.Type, err)
		}
		items[item.Type] = string(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("item list: %w", err)
	}
	return items, nil
}
