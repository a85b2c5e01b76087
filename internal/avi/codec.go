package avi

import "github.com/zsiec/avidemux/internal/riff"

// Codec is the codec family a stream was classified into.
type Codec int

// Recognised codec families.
const (
	CodecUnknown Codec = iota
	CodecMSMPEG4
	CodecMPEG4
	CodecAC3
	CodecMPEGAudio
	CodecPCM
)

func (c Codec) String() string {
	switch c {
	case CodecMSMPEG4:
		return "msmpeg4"
	case CodecMPEG4:
		return "mpeg4"
	case CodecAC3:
		return "ac3"
	case CodecMPEGAudio:
		return "mpga"
	case CodecPCM:
		return "pcm"
	default:
		return "unknown"
	}
}

// WAVE format tags.
const (
	WaveFormatPCM        = 0x0001
	WaveFormatMPEG       = 0x0050
	WaveFormatMPEGLayer3 = 0x0055
	WaveFormatAC3        = 0x2000
)

var videoCodecs = map[riff.FourCC]Codec{
	riff.MakeFourCC("DIV3"): CodecMSMPEG4,
	riff.MakeFourCC("div3"): CodecMSMPEG4,
	riff.MakeFourCC("DIV4"): CodecMSMPEG4,
	riff.MakeFourCC("div4"): CodecMSMPEG4,
	riff.MakeFourCC("DIV5"): CodecMSMPEG4,
	riff.MakeFourCC("div5"): CodecMSMPEG4,
	riff.MakeFourCC("DIV6"): CodecMSMPEG4,
	riff.MakeFourCC("div6"): CodecMSMPEG4,
	riff.MakeFourCC("3IV1"): CodecMSMPEG4,
	riff.MakeFourCC("AP41"): CodecMSMPEG4,
	riff.MakeFourCC("MP43"): CodecMSMPEG4,
	riff.MakeFourCC("mp43"): CodecMSMPEG4,

	riff.MakeFourCC("DIVX"): CodecMPEG4,
	riff.MakeFourCC("divx"): CodecMPEG4,
	riff.MakeFourCC("DX50"): CodecMPEG4,
	riff.MakeFourCC("MP4S"): CodecMPEG4,
	riff.MakeFourCC("MPG4"): CodecMPEG4,
	riff.MakeFourCC("mpg4"): CodecMPEG4,
	riff.MakeFourCC("mp4v"): CodecMPEG4,
}

// ClassifyVideo maps a BITMAPINFOHEADER compression tag to a codec family.
func ClassifyVideo(compression riff.FourCC) Codec {
	return videoCodecs[compression]
}

// ClassifyAudio maps a WAVEFORMATEX format tag to a codec family.
func ClassifyAudio(formatTag uint16) Codec {
	switch formatTag {
	case WaveFormatAC3:
		return CodecAC3
	case WaveFormatMPEG, WaveFormatMPEGLayer3:
		return CodecMPEGAudio
	case WaveFormatPCM:
		return CodecPCM
	default:
		return CodecUnknown
	}
}
