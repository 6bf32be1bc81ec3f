package mp4

import (
	"bytes"
	"fmt"

	"github.com/icza/bitio"
)

// BoxType is mpeg box type.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// ImmutableBox is common interface of box.
type ImmutableBox interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the marshaled payload size in bytes.
	// The size must be known before marshaling
	// since the box header contains the size.
	Size() int

	// Marshal box payload to writer.
	Marshal(w *bitio.Writer) error
}

// Boxes is a structure of boxes that can be marshaled together.
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes
}

// Size returns the total size of the box including header and children.
func (b *Boxes) Size() int {
	total := b.Box.Size() + headerSize
	for _, child := range b.Children {
		total += child.Size()
	}
	return total
}

// Marshal box including children.
func (b *Boxes) Marshal(w *bitio.Writer) error {
	w.TryWriteBits(uint64(b.Size()), 32)
	typ := b.Box.Type()
	w.TryWrite(typ[:])
	if w.TryError != nil {
		return w.TryError
	}

	if b.Box.Size() != 0 {
		if err := b.Box.Marshal(w); err != nil {
			return err
		}
	}

	for _, child := range b.Children {
		if err := child.Marshal(w); err != nil {
			return err
		}
	}
	return nil
}

// Encode marshals a sequence of top level boxes into a byte slice.
func Encode(boxes ...Boxes) ([]byte, error) {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	for _, b := range boxes {
		if err := b.Marshal(w); err != nil {
			return nil, fmt.Errorf("marshal %v: %w", b.Box.Type(), err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
