// Package riff walks RIFF chunk trees: length-prefixed chunks identified by
// four-character codes, some of which (RIFF and LIST) contain further chunks.
//
// The [Walker] keeps a stack of list scopes so that no read can cross the
// end of the list it was issued in. Chunks are plain values; nothing a
// caller holds refers to another chunk's payload.
package riff

import "fmt"

// HeaderSize is the size of a chunk header: four-character code plus a
// little-endian 32-bit payload length.
const HeaderSize = 8

// listHeaderSize adds the form type carried by RIFF and LIST chunks.
const listHeaderSize = HeaderSize + 4

// FourCC is a four-character code as it appears on disk.
type FourCC [4]byte

// Well-known chunk identifiers.
var (
	IDRIFF = FourCC{'R', 'I', 'F', 'F'}
	IDLIST = FourCC{'L', 'I', 'S', 'T'}
)

// MakeFourCC builds a FourCC from a string of up to four bytes, padding
// with spaces.
func MakeFourCC(s string) FourCC {
	f := FourCC{' ', ' ', ' ', ' '}
	copy(f[:], s)
	return f
}

// String returns the code as text, escaping non-printable bytes.
func (f FourCC) String() string {
	for _, b := range f {
		if b < 0x20 || b > 0x7e {
			return fmt.Sprintf("0x%02x%02x%02x%02x", f[0], f[1], f[2], f[3])
		}
	}
	return string(f[:])
}

// Chunk describes one chunk header. Pos is the absolute offset of the
// header; Form is the list type for RIFF and LIST chunks.
type Chunk struct {
	ID   FourCC
	Size uint32
	Pos  int64
	Form FourCC
}

// IsList reports whether the chunk carries child chunks.
func (c Chunk) IsList() bool {
	return c.ID == IDRIFF || c.ID == IDLIST
}

// DataPos returns the absolute offset of the chunk payload.
func (c Chunk) DataPos() int64 {
	return c.Pos + HeaderSize
}

// End returns the offset just past the payload, including the pad byte that
// keeps chunks word aligned.
func (c Chunk) End() int64 {
	return c.Pos + HeaderSize + int64(c.Size) + int64(c.Size&1)
}

func (c Chunk) String() string {
	if c.IsList() {
		return fmt.Sprintf("%s-%s@%d(%d)", c.ID, c.Form, c.Pos, c.Size)
	}
	return fmt.Sprintf("%s@%d(%d)", c.ID, c.Pos, c.Size)
}
