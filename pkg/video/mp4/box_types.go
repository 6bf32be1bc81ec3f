package mp4

import (
	"github.com/icza/bitio"
)

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// FieldSize returns the marshaled size in bytes.
func (b *FullBox) FieldSize() int {
	return 4
}

// MarshalField box to writer.
func (b *FullBox) MarshalField(w *bitio.Writer) error {
	w.TryWriteByte(b.Version)
	w.TryWrite(b.Flags[:])
	return w.TryError
}

/************************ container *************************/

// Container is a box without fields of its own,
// moov, trak, mdia, minf, stbl, udta, ilst and item atoms.
type Container struct {
	BoxType BoxType
}

// Type returns the BoxType.
func (b *Container) Type() BoxType {
	return b.BoxType
}

// Size returns the marshaled size in bytes.
func (*Container) Size() int {
	return 0
}

// Marshal is never called.
func (*Container) Marshal(*bitio.Writer) error { return nil }

// Container box types.
var (
	TypeMoov = BoxType{'m', 'o', 'o', 'v'}
	TypeTrak = BoxType{'t', 'r', 'a', 'k'}
	TypeMdia = BoxType{'m', 'd', 'i', 'a'}
	TypeMinf = BoxType{'m', 'i', 'n', 'f'}
	TypeStbl = BoxType{'s', 't', 'b', 'l'}
	TypeUdta = BoxType{'u', 'd', 't', 'a'}
	TypeIlst = BoxType{'i', 'l', 's', 't'}
)

// Leaf box types.
var (
	TypeFtyp = BoxType{'f', 't', 'y', 'p'}
	TypeMdhd = BoxType{'m', 'd', 'h', 'd'}
	TypeStts = BoxType{'s', 't', 't', 's'}
	TypeMdat = BoxType{'m', 'd', 'a', 't'}
	TypeMeta = BoxType{'m', 'e', 't', 'a'}
	TypeHdlr = BoxType{'h', 'd', 'l', 'r'}
	TypeData = BoxType{'d', 'a', 't', 'a'}
	TypeFree = BoxType{'f', 'r', 'e', 'e'}
)

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands [][4]byte
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType {
	return TypeFtyp
}

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int {
	return 8 + len(b.CompatibleBrands)*4
}

// Marshal box to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	w.TryWriteBits(uint64(b.MinorVersion), 32)
	for _, brand := range b.CompatibleBrands {
		w.TryWrite(brand[:])
	}
	return w.TryError
}

/*************************** free ****************************/

// Free is ISOBMFF free box type.
type Free struct {
	Data []byte
}

// Type returns the BoxType.
func (*Free) Type() BoxType {
	return TypeFree
}

// Size returns the marshaled size in bytes.
func (b *Free) Size() int {
	return len(b.Data)
}

// Marshal box to writer.
func (b *Free) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

/*************************** hdlr ****************************/

// Hdlr is ISOBMFF hdlr box type.
type Hdlr struct {
	FullBox
	PreDefined  uint32
	HandlerType [4]byte
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType {
	return TypeHdlr
}

// Size returns the marshaled size in bytes.
func (b *Hdlr) Size() int {
	// version/flags, pre_defined, handler, 3 reserved words, name + null.
	return 4 + 4 + 4 + 12 + len(b.Name) + 1
}

// Marshal box to writer.
func (b *Hdlr) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteBits(uint64(b.PreDefined), 32)
	w.TryWrite(b.HandlerType[:])
	w.TryWrite(make([]byte, 12))
	w.TryWrite([]byte(b.Name + "\000"))
	return w.TryError
}

/*************************** mdat ****************************/

// Mdat is ISOBMFF mdat box type.
type Mdat struct {
	Data []byte
}

// Type returns the BoxType.
func (*Mdat) Type() BoxType {
	return TypeMdat
}

// Size returns the marshaled size in bytes.
func (b *Mdat) Size() int {
	return len(b.Data)
}

// Marshal box to writer.
func (b *Mdat) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

/*************************** mdhd ****************************/

// Mdhd is ISOBMFF mdhd box type.
type Mdhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Language         uint16
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType {
	return TypeMdhd
}

// Size returns the marshaled size in bytes.
func (b *Mdhd) Size() int {
	if b.FullBox.Version == 0 {
		return 24
	}
	return 36
}

// Marshal box to writer.
func (b *Mdhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	width := uint8(32)
	if b.FullBox.Version != 0 {
		width = 64
	}
	w.TryWriteBits(b.CreationTime, width)
	w.TryWriteBits(b.ModificationTime, width)
	w.TryWriteBits(uint64(b.Timescale), 32)
	w.TryWriteBits(b.Duration, width)
	w.TryWriteBits(uint64(b.Language), 16)
	w.TryWriteBits(0, 16) // Pre defined.
	return w.TryError
}

/*************************** meta ****************************/

// Meta is ISOBMFF meta box type.
type Meta struct {
	FullBox
}

// Type returns the BoxType.
func (*Meta) Type() BoxType {
	return TypeMeta
}

// Size returns the marshaled size in bytes.
func (b *Meta) Size() int {
	return b.FieldSize()
}

// Marshal box to writer.
func (b *Meta) Marshal(w *bitio.Writer) error {
	return b.FullBox.MarshalField(w)
}

/*************************** data ****************************/

// Data is the value atom of an ilst item.
type Data struct {
	DataType uint32 // 1 is UTF-8.
	Locale   uint32
	Value    []byte
}

// Type returns the BoxType.
func (*Data) Type() BoxType {
	return TypeData
}

// Size returns the marshaled size in bytes.
func (b *Data) Size() int {
	return 8 + len(b.Value)
}

// Marshal box to writer.
func (b *Data) Marshal(w *bitio.Writer) error {
	w.TryWriteBits(uint64(b.DataType), 32)
	w.TryWriteBits(uint64(b.Locale), 32)
	w.TryWrite(b.Value)
	return w.TryError
}

/*************************** stts ****************************/

// Stts is ISOBMFF stts box type.
type Stts struct {
	FullBox
	Entries []SttsEntry
}

// SttsEntry is a run of samples sharing one duration.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Type returns the BoxType.
func (*Stts) Type() BoxType {
	return TypeStts
}

// Size returns the marshaled size in bytes.
func (b *Stts) Size() int {
	return 8 + len(b.Entries)*8
}

// Marshal box to writer.
func (b *Stts) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteBits(uint64(len(b.Entries)), 32)
	for _, entry := range b.Entries {
		w.TryWriteBits(uint64(entry.SampleCount), 32)
		w.TryWriteBits(uint64(entry.SampleDelta), 32)
	}
	return w.TryError
}
