// Package avitest writes small, well-formed AVI files for tests and the
// gen-avi tool. Layout details (movi chunk offsets, the movi list position)
// are reported back so tests can assert on exact byte positions.
package avitest

import (
	"encoding/binary"
)

// IndexMode selects how the idx1 table is written.
type IndexMode int

const (
	// IndexNone writes no idx1 chunk and leaves AVIF_HASINDEX clear.
	IndexNone IndexMode = iota
	// IndexAbsolute writes offsets from the start of the file.
	IndexAbsolute
	// IndexRelative writes offsets from the movi form type.
	IndexRelative
)

// Main header flags.
const (
	FlagHasIndex     = 0x00000010
	FlagInterleaved  = 0x00000100
	IndexKeyframe    = 0x00000010
	mainHeaderSize   = 56
	streamHeaderSize = 56
)

// Stream describes one strl entry.
type Stream struct {
	Type       string // "vids" or "auds"
	Handler    string
	Scale      uint32
	Rate       uint32
	SampleSize uint32
	Name       string

	// vids
	Compression string
	Width       uint32
	Height      uint32
	BitCount    uint16

	// auds
	FormatTag     uint16
	Channels      uint16
	SamplesPerSec uint32
	AvgBytes      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// Chunk is one media chunk in movi. Consecutive chunks sharing a non-zero
// Group are wrapped in a LIST rec.
type Chunk struct {
	Tag      string
	Data     []byte
	Keyframe bool
	Group    int
}

// IndexRecord is a raw idx1 record appended after the generated ones.
type IndexRecord struct {
	Tag    string
	Flags  uint32
	Offset uint32
	Length uint32
}

// File is the description of an AVI file to build.
type File struct {
	Streams []Stream
	Chunks  []Chunk
	Index   IndexMode

	// IndexFilter, when set, decides which chunks get an idx1 record.
	IndexFilter func(i int, c Chunk) bool
	// ExtraIndex records are written after the generated ones.
	ExtraIndex []IndexRecord
	// RIFFSizeDelta is added to the RIFF size field, for truncation tests.
	RIFFSizeDelta int64
}

// Layout reports where things landed in the built file.
type Layout struct {
	MoviPos  int64   // offset of the LIST movi header
	ChunkPos []int64 // offset of each chunk header, in File.Chunks order
	IdxPos   int64   // offset of the idx1 header, 0 when absent
}

// MoviBase is the base that relative idx1 offsets are measured from.
func (l Layout) MoviBase() int64 {
	return l.MoviPos + 8
}

// Build serializes f.
func (f *File) Build() ([]byte, Layout) {
	var layout Layout

	var hdrl []byte
	hdrl = append(hdrl, chunk("avih", f.mainHeader())...)
	for _, s := range f.Streams {
		hdrl = append(hdrl, list("strl", f.streamList(s))...)
	}

	out := []byte("RIFF\x00\x00\x00\x00AVI ")
	out = append(out, list("hdrl", hdrl)...)

	layout.MoviPos = int64(len(out))
	layout.ChunkPos = make([]int64, len(f.Chunks))
	var movi []byte
	base := layout.MoviPos + 12
	for i := 0; i < len(f.Chunks); {
		c := f.Chunks[i]
		if c.Group == 0 {
			layout.ChunkPos[i] = base + int64(len(movi))
			movi = append(movi, chunk(c.Tag, c.Data)...)
			i++
			continue
		}
		var rec []byte
		recPos := base + int64(len(movi))
		j := i
		for ; j < len(f.Chunks) && f.Chunks[j].Group == c.Group; j++ {
			layout.ChunkPos[j] = recPos + 12 + int64(len(rec))
			rec = append(rec, chunk(f.Chunks[j].Tag, f.Chunks[j].Data)...)
		}
		movi = append(movi, list("rec ", rec)...)
		i = j
	}
	out = append(out, list("movi", movi)...)

	if f.Index != IndexNone {
		layout.IdxPos = int64(len(out))
		var idx []byte
		for i, c := range f.Chunks {
			if f.IndexFilter != nil && !f.IndexFilter(i, c) {
				continue
			}
			off := layout.ChunkPos[i]
			if f.Index == IndexRelative {
				off -= layout.MoviBase()
			}
			var flags uint32
			if c.Keyframe {
				flags = IndexKeyframe
			}
			idx = appendRecord(idx, c.Tag, flags, uint32(off), uint32(len(c.Data)))
		}
		for _, r := range f.ExtraIndex {
			idx = appendRecord(idx, r.Tag, r.Flags, r.Offset, r.Length)
		}
		out = append(out, chunk("idx1", idx)...)
	}

	size := int64(len(out)-8) + f.RIFFSizeDelta
	binary.LittleEndian.PutUint32(out[4:8], uint32(size))
	return out, layout
}

func (f *File) mainHeader() []byte {
	b := make([]byte, mainHeaderSize)
	var flags uint32 = FlagInterleaved
	if f.Index != IndexNone {
		flags |= FlagHasIndex
	}
	var width, height uint32
	usPerFrame := uint32(40000)
	for _, s := range f.Streams {
		if s.Type == "vids" {
			width, height = s.Width, s.Height
			if s.Rate != 0 {
				usPerFrame = uint32(uint64(s.Scale) * 1000000 / uint64(s.Rate))
			}
			break
		}
	}
	binary.LittleEndian.PutUint32(b[0:], usPerFrame)
	binary.LittleEndian.PutUint32(b[12:], flags)
	binary.LittleEndian.PutUint32(b[16:], uint32(len(f.Chunks)))
	binary.LittleEndian.PutUint32(b[24:], uint32(len(f.Streams)))
	binary.LittleEndian.PutUint32(b[32:], width)
	binary.LittleEndian.PutUint32(b[36:], height)
	return b
}

func (f *File) streamList(s Stream) []byte {
	strh := make([]byte, streamHeaderSize)
	copy(strh[0:4], s.Type)
	copy(strh[4:8], s.Handler)
	binary.LittleEndian.PutUint32(strh[20:], s.Scale)
	binary.LittleEndian.PutUint32(strh[24:], s.Rate)
	binary.LittleEndian.PutUint32(strh[44:], s.SampleSize)

	var strf []byte
	switch s.Type {
	case "vids":
		strf = make([]byte, 40)
		binary.LittleEndian.PutUint32(strf[0:], 40)
		binary.LittleEndian.PutUint32(strf[4:], s.Width)
		binary.LittleEndian.PutUint32(strf[8:], s.Height)
		binary.LittleEndian.PutUint16(strf[12:], 1)
		binary.LittleEndian.PutUint16(strf[14:], s.BitCount)
		copy(strf[16:20], s.Compression)
		binary.LittleEndian.PutUint32(strf[20:], s.Width*s.Height*uint32(s.BitCount)/8)
	default:
		strf = make([]byte, 18)
		binary.LittleEndian.PutUint16(strf[0:], s.FormatTag)
		binary.LittleEndian.PutUint16(strf[2:], s.Channels)
		binary.LittleEndian.PutUint32(strf[4:], s.SamplesPerSec)
		binary.LittleEndian.PutUint32(strf[8:], s.AvgBytes)
		binary.LittleEndian.PutUint16(strf[12:], s.BlockAlign)
		binary.LittleEndian.PutUint16(strf[14:], s.BitsPerSample)
	}

	out := chunk("strh", strh)
	out = append(out, chunk("strf", strf)...)
	if s.Name != "" {
		out = append(out, chunk("strn", append([]byte(s.Name), 0))...)
	}
	return out
}

func chunk(id string, data []byte) []byte {
	out := make([]byte, 0, 8+len(data)+1)
	out = append(out, id[:4]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	if len(data)&1 != 0 {
		out = append(out, 0)
	}
	return out
}

func list(form string, children []byte) []byte {
	out := make([]byte, 0, 12+len(children))
	out = append(out, "LIST"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(4+len(children)))
	out = append(out, form[:4]...)
	return append(out, children...)
}

func appendRecord(b []byte, tag string, flags, offset, length uint32) []byte {
	b = append(b, tag[:4]...)
	b = binary.LittleEndian.AppendUint32(b, flags)
	b = binary.LittleEndian.AppendUint32(b, offset)
	return binary.LittleEndian.AppendUint32(b, length)
}
