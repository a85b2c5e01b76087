// Package media defines the packet type that flows from the demuxer to
// downstream decoders and writers.
package media

import "time"

// QueueSize is the default capacity of a per-stream packet queue. At 25 fps
// this holds a little over two seconds of video; audio chunks in typical
// AVI files run 20-80ms each.
const QueueSize = 64

// Kind is the elementary stream category of a packet.
type Kind int

// Stream kinds.
const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Packet is one demuxed media chunk. PTS is the position on the stream's
// own timeline; Timestamp is that position mapped onto the session clock.
type Packet struct {
	StreamIndex int
	Kind        Kind
	Data        []byte
	PTS         time.Duration
	Timestamp   time.Time
	IsKeyframe  bool
	Offset      int64 // absolute file offset of the chunk header
}
