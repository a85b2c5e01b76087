package avi

import (
	"slices"

	"github.com/zsiec/avidemux/internal/riff"
)

const (
	indexGrowStep     = 16384
	defaultMaxEntries = 1 << 24
)

// IndexEntry locates one media chunk. Offset is the raw value from the
// index table; add the owning Index's base to get a file offset. Cumulative
// is the total payload length of all entries up to and including this one.
type IndexEntry struct {
	ID         riff.FourCC
	Flags      uint32
	Offset     int64
	Length     uint32
	Cumulative int64
}

// Keyframe reports whether the chunk can be decoded on its own.
func (e IndexEntry) Keyframe() bool {
	return e.Flags&IndexKeyframe != 0
}

// Index is the ordered, append-only chunk table of one stream together with
// its read cursor and offset base.
type Index struct {
	entries    []IndexEntry
	pos        int
	base       int64
	calibrated bool
	max        int
}

func newIndex(limit int) *Index {
	if limit <= 0 {
		limit = defaultMaxEntries
	}
	return &Index{max: limit}
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return len(x.entries)
}

// At returns entry i.
func (x *Index) At(i int) IndexEntry {
	return x.entries[i]
}

// Pos returns the cursor.
func (x *Index) Pos() int {
	return x.pos
}

// Base returns the offset correction added to raw entry offsets.
func (x *Index) Base() int64 {
	return x.base
}

// Abs returns the file offset of entry i's chunk header.
func (x *Index) Abs(i int) int64 {
	return x.entries[i].Offset + x.base
}

// end returns the file offset just past the last entry's payload.
func (x *Index) end() int64 {
	last := x.entries[len(x.entries)-1]
	return last.Offset + x.base + riff.HeaderSize + int64(last.Length)
}

// Append adds e after the last entry and fills in its cumulative length.
// On failure the index is left unchanged.
func (x *Index) Append(e IndexEntry) error {
	n := len(x.entries)
	if n >= x.max {
		return ErrIndexFull
	}
	var prev int64
	if n > 0 {
		last := x.entries[n-1]
		if e.Offset < last.Offset {
			return ErrOutOfOrder
		}
		prev = last.Cumulative
	}
	if n == cap(x.entries) {
		x.entries = slices.Grow(x.entries, indexGrowStep)
	}
	e.Cumulative = prev + int64(e.Length)
	x.entries = append(x.entries, e)
	return nil
}

func (x *Index) setBase(base int64) {
	x.base = base
	x.calibrated = true
}

func (x *Index) reset() {
	x.entries = nil
	x.pos = 0
	x.base = 0
	x.calibrated = false
}
