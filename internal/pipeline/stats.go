package pipeline

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/avidemux/internal/avi"
	"github.com/zsiec/avidemux/internal/media"
)

// Compile-time interface check.
var _ avi.StatsRecorder = (*Stats)(nil)

// StreamStats holds point-in-time delivery metrics for one stream.
type StreamStats struct {
	Stream      int     `json:"stream"`
	Kind        string  `json:"kind"`
	Packets     int64   `json:"packets"`
	Bytes       int64   `json:"bytes"`
	Stale       int64   `json:"stale"`
	Forwarded   int64   `json:"forwarded"`
	QueueDepth  int     `json:"queueDepth"`
	BitrateKbps float64 `json:"bitrateKbps"`
}

// Snapshot is the stats payload for a pipeline run.
type Snapshot struct {
	Timestamp int64         `json:"ts"`
	Session   string        `json:"session"`
	UptimeMs  int64         `json:"uptimeMs"`
	Streams   []StreamStats `json:"streams"`
}

// Stats accumulates per-stream delivery telemetry. The demuxer goroutine
// records packets while consumers record forwards, so counters are atomic
// and the accumulator map is guarded by mu.
type Stats struct {
	mu      sync.RWMutex
	streams map[int]*streamAccum

	// windowMu guards window
	windowMu sync.Mutex
	window   []bitrateEntry
}

type streamAccum struct {
	kind      atomic.Int32
	packets   atomic.Int64
	bytes     atomic.Int64
	stale     atomic.Int64
	forwarded atomic.Int64
}

type bitrateEntry struct {
	ts     time.Time
	stream int
	bytes  int64
}

const bitrateWindow = 2 * time.Second

// NewStats creates an empty Stats ready for use as an avi.StatsRecorder.
func NewStats() *Stats {
	return &Stats{streams: make(map[int]*streamAccum)}
}

func (s *Stats) accum(stream int) *streamAccum {
	s.mu.RLock()
	acc, ok := s.streams[stream]
	s.mu.RUnlock()
	if ok {
		return acc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok = s.streams[stream]; !ok {
		acc = &streamAccum{}
		s.streams[stream] = acc
	}
	return acc
}

// RecordPacket records a packet handed to a stream's sink.
func (s *Stats) RecordPacket(stream int, kind media.Kind, size int) {
	acc := s.accum(stream)
	acc.kind.Store(int32(kind))
	acc.packets.Add(1)
	acc.bytes.Add(int64(size))

	now := time.Now()
	s.windowMu.Lock()
	s.window = append(s.window, bitrateEntry{ts: now, stream: stream, bytes: int64(size)})
	cutoff := now.Add(-bitrateWindow)
	i := 0
	for i < len(s.window) && s.window[i].ts.Before(cutoff) {
		i++
	}
	s.window = s.window[i:]
	s.windowMu.Unlock()
}

// RecordStaleEntry records an index entry that no longer matched its chunk.
func (s *Stats) RecordStaleEntry(stream int) {
	s.accum(stream).stale.Add(1)
}

// RecordForwarded records a packet passed on by a consumer.
func (s *Stats) RecordForwarded(stream int) {
	s.accum(stream).forwarded.Add(1)
}

// Streams returns per-stream metrics ordered by stream number.
func (s *Stats) Streams() []StreamStats {
	rates := make(map[int]int64)
	now := time.Now()
	s.windowMu.Lock()
	cutoff := now.Add(-bitrateWindow)
	for _, e := range s.window {
		if !e.ts.Before(cutoff) {
			rates[e.stream] += e.bytes
		}
	}
	s.windowMu.Unlock()

	s.mu.RLock()
	out := make([]StreamStats, 0, len(s.streams))
	for n, acc := range s.streams {
		out = append(out, StreamStats{
			Stream:      n,
			Kind:        media.Kind(acc.kind.Load()).String(),
			Packets:     acc.packets.Load(),
			Bytes:       acc.bytes.Load(),
			Stale:       acc.stale.Load(),
			Forwarded:   acc.forwarded.Load(),
			BitrateKbps: float64(rates[n]*8) / bitrateWindow.Seconds() / 1000,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}
