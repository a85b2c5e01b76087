// Package avi demultiplexes RIFF AVI files into timestamped elementary
// stream packets.
//
// [Open] parses the header list, builds a per-stream index from the idx1
// table (or from the first matching movi chunk when there is none) and
// returns a [Demuxer]. Each call to [Demuxer.Step] picks the stream with the
// earliest pending presentation time, reads its next chunk and delivers it
// to the sink attached in the shared [program.Program]. Indexes grow on
// demand by scanning movi when a stream runs past its last known entry.
package avi
