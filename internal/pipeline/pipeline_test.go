package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/avidemux/internal/avi"
	"github.com/zsiec/avidemux/internal/avitest"
	"github.com/zsiec/avidemux/internal/media"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openDemuxer(t *testing.T, f *avitest.File) *avi.Demuxer {
	t.Helper()
	data, _ := f.Build()
	d, err := avi.Open(bytes.NewReader(data), nil, avi.DemuxerOptLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNew(t *testing.T) {
	t.Parallel()
	d := openDemuxer(t, avitest.Interleaved(5, 5, avitest.IndexAbsolute))
	p := New(d, PipelineOptLogger(discardLogger()))

	if _, err := uuid.Parse(p.Session()); err != nil {
		t.Errorf("Session %q is not a uuid: %v", p.Session(), err)
	}
	if got := p.Streams(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Streams: got %v, want [0 1]", got)
	}
}

func TestSnapshotBeforeRun(t *testing.T) {
	t.Parallel()
	d := openDemuxer(t, avitest.Interleaved(5, 5, avitest.IndexAbsolute))
	p := New(d, PipelineOptLogger(discardLogger()))

	snap := p.Snapshot()
	if len(snap.Streams) != 0 || snap.UptimeMs != 0 {
		t.Errorf("got %+v, want empty snapshot", snap)
	}
	if snap.Session != p.Session() {
		t.Errorf("Session: got %q, want %q", snap.Session, p.Session())
	}
}

type collector struct {
	mu   sync.Mutex
	pkts map[int][]*media.Packet
}

func (c *collector) handle(_ context.Context, pkt *media.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pkts == nil {
		c.pkts = make(map[int][]*media.Packet)
	}
	c.pkts[pkt.StreamIndex] = append(c.pkts[pkt.StreamIndex], pkt)
	return nil
}

func TestRun(t *testing.T) {
	t.Parallel()
	d := openDemuxer(t, avitest.Interleaved(30, 40, avitest.IndexAbsolute))
	var c collector
	p := New(d,
		PipelineOptLogger(discardLogger()),
		PipelineOptHandler(c.handle),
		PipelineOptQueueDepth(2))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.pkts[0]) != 30 || len(c.pkts[1]) != 30 {
		t.Fatalf("packets: got video %d audio %d, want 30/30", len(c.pkts[0]), len(c.pkts[1]))
	}
	for i, pkt := range c.pkts[0] {
		if want := time.Duration(i) * 40 * time.Millisecond; pkt.PTS != want {
			t.Errorf("video %d: PTS got %v, want %v", i, pkt.PTS, want)
		}
	}

	snap := p.Snapshot()
	if len(snap.Streams) != 2 {
		t.Fatalf("snapshot streams: got %d, want 2", len(snap.Streams))
	}
	for _, s := range snap.Streams {
		if s.Packets != 30 || s.Forwarded != 30 {
			t.Errorf("stream %d: packets %d forwarded %d, want 30/30", s.Stream, s.Packets, s.Forwarded)
		}
	}
	if snap.Streams[0].Kind != "video" || snap.Streams[1].Kind != "audio" {
		t.Errorf("kinds: got %s/%s", snap.Streams[0].Kind, snap.Streams[1].Kind)
	}
	if d.Program().Attached(0) || d.Program().Attached(1) {
		t.Error("queues should be detached after Run")
	}
}

func TestRunVideoOnly(t *testing.T) {
	t.Parallel()
	d := openDemuxer(t, avitest.Interleaved(10, 10, avitest.IndexNone))
	var c collector
	p := New(d,
		PipelineOptLogger(discardLogger()),
		PipelineOptHandler(c.handle),
		PipelineOptStreams([]int{0}))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.pkts[0]) != 10 || len(c.pkts[1]) != 0 {
		t.Fatalf("packets: got video %d audio %d, want 10/0", len(c.pkts[0]), len(c.pkts[1]))
	}
}

func TestRunHandlerError(t *testing.T) {
	t.Parallel()
	d := openDemuxer(t, avitest.Interleaved(30, 30, avitest.IndexAbsolute))
	errStop := errors.New("writer full")
	p := New(d,
		PipelineOptLogger(discardLogger()),
		PipelineOptHandler(func(_ context.Context, pkt *media.Packet) error {
			if pkt.StreamIndex == 0 && pkt.PTS >= 200*time.Millisecond {
				return errStop
			}
			return nil
		}))

	if err := p.Run(context.Background()); !errors.Is(err, errStop) {
		t.Fatalf("Run: got %v, want %v", err, errStop)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	d := openDemuxer(t, avitest.Interleaved(30, 30, avitest.IndexAbsolute))
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{}, 1)
	p := New(d,
		PipelineOptLogger(discardLogger()),
		PipelineOptHandler(func(ctx context.Context, _ *media.Packet) error {
			select {
			case block <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil
		}))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	<-block
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunNoStreams(t *testing.T) {
	t.Parallel()
	d := openDemuxer(t, avitest.Interleaved(5, 5, avitest.IndexAbsolute))
	p := New(d, PipelineOptLogger(discardLogger()), PipelineOptStreams([]int{}))
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error with no streams")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := NewStats()
	s.RecordPacket(1, media.KindAudio, 100)
	s.RecordPacket(1, media.KindAudio, 50)
	s.RecordPacket(0, media.KindVideo, 1000)
	s.RecordStaleEntry(0)
	s.RecordForwarded(1)

	got := s.Streams()
	if len(got) != 2 {
		t.Fatalf("streams: got %d, want 2", len(got))
	}
	if got[0].Stream != 0 || got[0].Packets != 1 || got[0].Stale != 1 || got[0].Bytes != 1000 {
		t.Errorf("stream 0: got %+v", got[0])
	}
	if got[1].Packets != 2 || got[1].Bytes != 150 || got[1].Forwarded != 1 || got[1].Kind != "audio" {
		t.Errorf("stream 1: got %+v", got[1])
	}
	if got[1].BitrateKbps <= 0 {
		t.Errorf("stream 1: bitrate got %f, want > 0", got[1].BitrateKbps)
	}
}
