package avitest

import "fmt"

// AudioChunkSize is the payload size of each audio chunk built by
// Interleaved: 40ms of 8 kHz mono 8-bit PCM.
const AudioChunkSize = 320

// VideoStream returns a 25 fps MPEG-4 video stream description.
func VideoStream() Stream {
	return Stream{
		Type:        "vids",
		Handler:     "divx",
		Scale:       1,
		Rate:        25,
		Compression: "DIVX",
		Width:       320,
		Height:      240,
		BitCount:    24,
	}
}

// AudioStream returns an 8 kHz mono 8-bit PCM stream description with a
// nonzero sample size.
func AudioStream() Stream {
	return Stream{
		Type:          "auds",
		Scale:         1,
		Rate:          8000,
		SampleSize:    1,
		FormatTag:     0x0001,
		Channels:      1,
		SamplesPerSec: 8000,
		AvgBytes:      8000,
		BlockAlign:    1,
		BitsPerSample: 8,
	}
}

// Tag returns the movi chunk tag for stream n with the given class suffix.
func Tag(n int, class string) string {
	return fmt.Sprintf("%02d%s", n, class)
}

// Payload returns deterministic chunk contents identifying stream and
// sequence number in the first two bytes.
func Payload(stream, seq, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(seq + i)
	}
	if size > 0 {
		b[0] = byte(stream)
	}
	if size > 1 {
		b[1] = byte(seq)
	}
	return b
}

// Interleaved returns a two-stream file (00 = video, 01 = audio) with chunks
// alternating audio then video until both run out. Every tenth video frame
// is a keyframe.
func Interleaved(videoFrames, audioChunks int, index IndexMode) *File {
	f := &File{
		Streams: []Stream{VideoStream(), AudioStream()},
		Index:   index,
	}
	for i := 0; i < videoFrames || i < audioChunks; i++ {
		if i < audioChunks {
			f.Chunks = append(f.Chunks, Chunk{
				Tag:      Tag(1, "wb"),
				Data:     Payload(1, i, AudioChunkSize),
				Keyframe: true,
			})
		}
		if i < videoFrames {
			f.Chunks = append(f.Chunks, Chunk{
				Tag:      Tag(0, "dc"),
				Data:     Payload(0, i, 100+i%7),
				Keyframe: i%10 == 0,
			})
		}
	}
	return f
}
