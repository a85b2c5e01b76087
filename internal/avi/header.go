package avi

import (
	"encoding/binary"
	"strings"

	"github.com/zsiec/avidemux/internal/riff"
)

// Fixed header sizes. strh and strf are often longer on disk; only the
// prefix below is decoded.
const (
	MainHeaderSize   = 56
	StreamHeaderSize = 48
	VideoFormatSize  = 40
	AudioFormatSize  = 16
	indexRecordSize  = 16
)

// Main header flags (avih).
const (
	FlagHasIndex       = 0x00000010
	FlagMustUseIndex   = 0x00000020
	FlagIsInterleaved  = 0x00000100
	FlagTrustCKType    = 0x00000800
	FlagWasCaptureFile = 0x00010000
	FlagCopyrighted    = 0x00020000
)

// IndexKeyframe marks an idx1 record as a keyframe.
const IndexKeyframe = 0x00000010

var (
	formAVI  = riff.MakeFourCC("AVI ")
	formHdrl = riff.MakeFourCC("hdrl")
	formStrl = riff.MakeFourCC("strl")
	formMovi = riff.MakeFourCC("movi")
	formRec  = riff.MakeFourCC("rec ")

	idAvih = riff.MakeFourCC("avih")
	idStrh = riff.MakeFourCC("strh")
	idStrf = riff.MakeFourCC("strf")
	idStrn = riff.MakeFourCC("strn")
	idIdx1 = riff.MakeFourCC("idx1")

	typeVids = riff.MakeFourCC("vids")
	typeAuds = riff.MakeFourCC("auds")
)

// MainHeader is the avih chunk.
type MainHeader struct {
	MicroSecPerFrame    uint32
	MaxBytesPerSec      uint32
	PaddingGranularity  uint32
	Flags               uint32
	TotalFrames         uint32
	InitialFrames       uint32
	Streams             uint32
	SuggestedBufferSize uint32
	Width               uint32
	Height              uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
}

// FlagNames lists the set flags by name, for logging.
func (h MainHeader) FlagNames() string {
	var names []string
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{FlagHasIndex, "HAS_INDEX"},
		{FlagMustUseIndex, "MUST_USE_INDEX"},
		{FlagIsInterleaved, "IS_INTERLEAVED"},
		{FlagTrustCKType, "TRUST_CKTYPE"},
		{FlagWasCaptureFile, "CAPTUREFILE"},
		{FlagCopyrighted, "COPYRIGHTED"},
	} {
		if h.Flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

// StreamHeader is the fixed prefix of an strh chunk. Rate/Scale is the
// stream's unit rate: frames per second for video, samples (or blocks) per
// second for audio.
type StreamHeader struct {
	Type                riff.FourCC
	Handler             riff.FourCC
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             uint32
	SampleSize          uint32
}

// UnitRate returns Rate/Scale, or zero when undefined.
func (h StreamHeader) UnitRate() float64 {
	if h.Scale == 0 {
		return 0
	}
	return float64(h.Rate) / float64(h.Scale)
}

// VideoFormat is a BITMAPINFOHEADER.
type VideoFormat struct {
	Size          uint32
	Width         uint32
	Height        uint32
	Planes        uint16
	BitCount      uint16
	Compression   riff.FourCC
	SizeImage     uint32
	XPelsPerMeter uint32
	YPelsPerMeter uint32
	ClrUsed       uint32
	ClrImportant  uint32
}

// AudioFormat is a WAVEFORMATEX. ExtraSize is zero when the on-disk
// structure stops before cbSize.
type AudioFormat struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	ExtraSize      uint16
}

// DecodeMainHeader decodes an avih payload.
func DecodeMainHeader(b []byte) (MainHeader, error) {
	if len(b) < MainHeaderSize {
		return MainHeader{}, ErrShortHeader
	}
	le := binary.LittleEndian
	return MainHeader{
		MicroSecPerFrame:    le.Uint32(b[0:]),
		MaxBytesPerSec:      le.Uint32(b[4:]),
		PaddingGranularity:  le.Uint32(b[8:]),
		Flags:               le.Uint32(b[12:]),
		TotalFrames:         le.Uint32(b[16:]),
		InitialFrames:       le.Uint32(b[20:]),
		Streams:             le.Uint32(b[24:]),
		SuggestedBufferSize: le.Uint32(b[28:]),
		Width:               le.Uint32(b[32:]),
		Height:              le.Uint32(b[36:]),
		Scale:               le.Uint32(b[40:]),
		Rate:                le.Uint32(b[44:]),
		Start:               le.Uint32(b[48:]),
		Length:              le.Uint32(b[52:]),
	}, nil
}

// DecodeStreamHeader decodes the first 48 bytes of an strh payload.
func DecodeStreamHeader(b []byte) (StreamHeader, error) {
	if len(b) < StreamHeaderSize {
		return StreamHeader{}, ErrShortHeader
	}
	le := binary.LittleEndian
	h := StreamHeader{
		Flags:               le.Uint32(b[8:]),
		Priority:            le.Uint16(b[12:]),
		Language:            le.Uint16(b[14:]),
		InitialFrames:       le.Uint32(b[16:]),
		Scale:               le.Uint32(b[20:]),
		Rate:                le.Uint32(b[24:]),
		Start:               le.Uint32(b[28:]),
		Length:              le.Uint32(b[32:]),
		SuggestedBufferSize: le.Uint32(b[36:]),
		Quality:             le.Uint32(b[40:]),
		SampleSize:          le.Uint32(b[44:]),
	}
	copy(h.Type[:], b[0:4])
	copy(h.Handler[:], b[4:8])
	return h, nil
}

// DecodeVideoFormat decodes a BITMAPINFOHEADER.
func DecodeVideoFormat(b []byte) (VideoFormat, error) {
	if len(b) < VideoFormatSize {
		return VideoFormat{}, ErrShortHeader
	}
	le := binary.LittleEndian
	v := VideoFormat{
		Size:          le.Uint32(b[0:]),
		Width:         le.Uint32(b[4:]),
		Height:        le.Uint32(b[8:]),
		Planes:        le.Uint16(b[12:]),
		BitCount:      le.Uint16(b[14:]),
		SizeImage:     le.Uint32(b[20:]),
		XPelsPerMeter: le.Uint32(b[24:]),
		YPelsPerMeter: le.Uint32(b[28:]),
		ClrUsed:       le.Uint32(b[32:]),
		ClrImportant:  le.Uint32(b[36:]),
	}
	copy(v.Compression[:], b[16:20])
	return v, nil
}

// DecodeAudioFormat decodes a WAVEFORMATEX, with or without cbSize.
func DecodeAudioFormat(b []byte) (AudioFormat, error) {
	if len(b) < AudioFormatSize {
		return AudioFormat{}, ErrShortHeader
	}
	le := binary.LittleEndian
	a := AudioFormat{
		FormatTag:      le.Uint16(b[0:]),
		Channels:       le.Uint16(b[2:]),
		SamplesPerSec:  le.Uint32(b[4:]),
		AvgBytesPerSec: le.Uint32(b[8:]),
		BlockAlign:     le.Uint16(b[12:]),
		BitsPerSample:  le.Uint16(b[14:]),
	}
	if len(b) >= AudioFormatSize+2 {
		a.ExtraSize = le.Uint16(b[16:])
	}
	return a, nil
}

// parseChunkTag splits a movi/idx1 tag such as "01wb" into its stream
// number and two-character class.
func parseChunkTag(id riff.FourCC) (num int, class [2]byte, ok bool) {
	if id[0] < '0' || id[0] > '9' || id[1] < '0' || id[1] > '9' {
		return 0, class, false
	}
	class[0], class[1] = id[2], id[3]
	return int(id[0]-'0')*10 + int(id[1]-'0'), class, true
}

// chunkTag builds the movi tag for stream n with a two-character class.
func chunkTag(n int, class string) riff.FourCC {
	return riff.FourCC{byte('0' + n/10%10), byte('0' + n%10), class[0], class[1]}
}
