package avi

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/zsiec/avidemux/internal/avitest"
	"github.com/zsiec/avidemux/internal/program"
	"github.com/zsiec/avidemux/internal/riff"
)

func TestExtend_InterveningChunks(t *testing.T) {
	t.Parallel()
	f := &avitest.File{
		Streams: []avitest.Stream{avitest.VideoStream(), avitest.AudioStream()},
		Chunks: []avitest.Chunk{
			{Tag: "00dc", Data: avitest.Payload(0, 0, 90), Keyframe: true},
			{Tag: "01wb", Data: avitest.Payload(1, 0, 64)},
			{Tag: "01wb", Data: avitest.Payload(1, 1, 64)},
			{Tag: "JUNK", Data: make([]byte, 31)},
			{Tag: "01wb", Data: avitest.Payload(1, 2, 64)},
			{Tag: "01wb", Data: avitest.Payload(1, 3, 64)},
			{Tag: "00dc", Data: avitest.Payload(0, 1, 91)},
			{Tag: "01wb", Data: avitest.Payload(1, 4, 64)},
		},
		Index:       avitest.IndexAbsolute,
		IndexFilter: func(i int, _ avitest.Chunk) bool { return i == 0 },
	}
	data, layout := f.Build()
	d := openBytes(t, data)

	video, audio := d.streams[0], d.streams[1]
	if video.index.Len() != 1 || audio.index.Len() != 1 {
		t.Fatalf("before: got video %d audio %d entries, want 1/1", video.index.Len(), audio.index.Len())
	}

	if err := d.extend(video); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if video.index.Len() != 2 {
		t.Fatalf("video entries: got %d, want 2", video.index.Len())
	}
	if got := video.index.Abs(1); got != layout.ChunkPos[6] {
		t.Errorf("new video entry: got %d, want %d", got, layout.ChunkPos[6])
	}
	if !video.index.At(1).Keyframe() {
		t.Error("scanned entry should carry the keyframe flag")
	}
	if audio.index.Len() != 5 {
		t.Fatalf("audio entries: got %d, want 5", audio.index.Len())
	}
	for i, want := range []int{1, 2, 4, 5, 7} {
		if got := audio.index.Abs(i); got != layout.ChunkPos[want] {
			t.Errorf("audio entry %d: got %d, want %d", i, got, layout.ChunkPos[want])
		}
	}
	checkIndex(t, video.index)
	checkIndex(t, audio.index)

	for i := 1; i < audio.index.Len(); i++ {
		end := audio.index.Abs(i-1) + riff.HeaderSize + int64(audio.index.At(i-1).Length)
		if audio.index.Abs(i) < end {
			t.Errorf("entry %d at %d overlaps previous ending at %d", i, audio.index.Abs(i), end)
		}
	}

	if err := d.extend(video); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("extend past end: got %v, want ErrEndOfStream", err)
	}
	if video.index.Len() != 2 {
		t.Errorf("video entries after end: got %d, want 2", video.index.Len())
	}
}

// faultyReader fails every read once armed.
type faultyReader struct {
	*bytes.Reader
	armed bool
}

var errDisk = errors.New("disk on fire")

func (f *faultyReader) Read(p []byte) (int, error) {
	if f.armed {
		return 0, errDisk
	}
	return f.Reader.Read(p)
}

func TestExtend_ReadFailureLeavesIndex(t *testing.T) {
	t.Parallel()
	// Large enough that the scan runs past the reader's buffer.
	data, _ := avitest.Interleaved(80, 80, avitest.IndexNone).Build()
	r := &faultyReader{Reader: bytes.NewReader(data)}
	d, err := Open(r, program.New(discardLogger()),
		DemuxerOptLogger(discardLogger()),
		DemuxerOptMinScan(1000))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	before := make([][]IndexEntry, len(d.streams))
	for i, s := range d.streams {
		before[i] = slices.Clone(s.index.entries)
	}

	r.armed = true
	err = d.extend(d.streams[0])
	if err == nil {
		t.Fatal("extend succeeded on a failing reader")
	}
	if !riff.IsIO(err) || !errors.Is(err, errDisk) {
		t.Fatalf("got %v, want an I/O error wrapping errDisk", err)
	}
	for i, s := range d.streams {
		if !slices.Equal(s.index.entries, before[i]) {
			t.Errorf("stream %d: index changed by failed extend", i)
		}
	}
}

func TestRealign(t *testing.T) {
	t.Parallel()
	data, layout := avitest.Interleaved(30, 30, avitest.IndexAbsolute).Build()
	d := openBytes(t, data)
	video, audio := d.streams[0], d.streams[1]

	tests := []struct {
		name   string
		stream *stream
		pos    int64
		want   int
	}{
		{"forward to keyframe", video, videoPos(layout, 15), 20},
		{"backward to keyframe", video, videoPos(layout, 12), 10},
		{"inside current chunk", video, videoPos(layout, 10) + 9, 10},
		{"before first entry", video, 0, 0},
		{"audio forward", audio, videoPos(layout, 15), 16},
		{"audio backward", audio, layout.ChunkPos[20], 10},
	}
	for _, tt := range tests {
		if err := d.realign(tt.stream, tt.pos); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := tt.stream.index.Pos(); got != tt.want {
			t.Errorf("%s: cursor got %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRealign_NoKeyframeBehind(t *testing.T) {
	t.Parallel()
	f := avitest.Interleaved(12, 12, avitest.IndexAbsolute)
	for i := range f.Chunks {
		f.Chunks[i].Keyframe = false
	}
	data, layout := f.Build()
	d := openBytes(t, data)
	video := d.streams[0]

	video.index.pos = 8
	if err := d.realign(video, videoPos(layout, 3)); err != nil {
		t.Fatalf("realign: %v", err)
	}
	if got := video.index.Pos(); got != 0 {
		t.Errorf("cursor: got %d, want 0", got)
	}
}

func TestRealign_ExtendsIndex(t *testing.T) {
	t.Parallel()
	data, layout := avitest.Interleaved(30, 30, avitest.IndexNone).Build()
	d := openBytes(t, data)
	video := d.streams[0]

	if err := d.realign(video, videoPos(layout, 21)); err != nil {
		t.Fatalf("realign: %v", err)
	}
	if got := video.index.Abs(video.index.Pos()); got != videoPos(layout, 21) {
		t.Errorf("cursor offset: got %d, want %d", got, videoPos(layout, 21))
	}
	checkIndex(t, video.index)

	if err := d.realign(video, int64(len(data))); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("realign past end: got %v, want ErrEndOfStream", err)
	}
}

func TestCalibrate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mode avitest.IndexMode
		base func(avitest.Layout) int64
	}{
		{"absolute", avitest.IndexAbsolute, func(avitest.Layout) int64 { return 0 }},
		{"relative", avitest.IndexRelative, func(l avitest.Layout) int64 { return l.MoviBase() }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, layout := avitest.Interleaved(10, 10, tt.mode).Build()
			d := openBytes(t, data)
			for _, s := range d.streams {
				want := tt.base(layout)
				if got := s.index.Base(); got != want {
					t.Fatalf("stream %d: base got %d, want %d", s.desc.Index, got, want)
				}
				s.index.calibrated = false
				if err := d.calibrate(s); err != nil {
					t.Fatalf("recalibrate: %v", err)
				}
				if got := s.index.Base(); got != want {
					t.Errorf("stream %d: recalibrated base got %d, want %d", s.desc.Index, got, want)
				}
				if err := d.calibrate(s); err != nil || s.index.Base() != want {
					t.Errorf("stream %d: calibrate not idempotent", s.desc.Index)
				}
				if got := s.index.Abs(0); got != layout.ChunkPos[1-s.desc.Index] {
					t.Errorf("stream %d: first entry at %d, want %d", s.desc.Index, got, layout.ChunkPos[1-s.desc.Index])
				}
			}
		})
	}
}

func TestLoadIndex_Filtering(t *testing.T) {
	t.Parallel()
	f := avitest.Interleaved(4, 4, avitest.IndexAbsolute)
	// Unknown stream, non-media tag, wrong class, and an audio record
	// pointing before the last audio entry.
	f.ExtraIndex = []avitest.IndexRecord{
		{Tag: "05dc", Offset: 0xffff, Length: 1},
		{Tag: "ix00", Offset: 0xffff, Length: 1},
		{Tag: "00wb", Offset: 0xffff, Length: 1},
		{Tag: "01wb", Flags: 0x10, Offset: 12, Length: 1},
	}
	data, _ := f.Build()
	d := openBytes(t, data)

	if got := d.streams[0].index.Len(); got != 4 {
		t.Errorf("video entries: got %d, want 4", got)
	}
	if got := d.streams[1].index.Len(); got != 4 {
		t.Errorf("audio entries: got %d, want 4", got)
	}
	checkIndex(t, d.streams[0].index)
	checkIndex(t, d.streams[1].index)
}

func TestLoadIndex_CalibrationFallback(t *testing.T) {
	t.Parallel()
	f := avitest.Interleaved(4, 4, avitest.IndexAbsolute)
	f.IndexFilter = func(int, avitest.Chunk) bool { return false }
	f.ExtraIndex = []avitest.IndexRecord{
		{Tag: "00dc", Flags: 0x10, Offset: 3, Length: 100},
	}
	data, layout := f.Build()
	d := openBytes(t, data)

	x := d.streams[0].index
	if x.Len() != 1 {
		t.Fatalf("video entries: got %d, want 1", x.Len())
	}
	if got := x.Abs(0); got != videoPos(layout, 0) {
		t.Errorf("fallback entry: got %d, want %d", got, videoPos(layout, 0))
	}
}

func BenchmarkLoadIndex(b *testing.B) {
	data, _ := avitest.Interleaved(2000, 2000, avitest.IndexAbsolute).Build()
	d, err := Open(bytes.NewReader(data), nil, DemuxerOptLogger(discardLogger()))
	if err != nil {
		b.Fatal(err)
	}
	var idx1 []byte
	w, _ := riff.NewWalker(bytes.NewReader(data))
	if _, err := w.ReadHeader(formAVI); err != nil {
		b.Fatal(err)
	}
	c, err := w.Find(idIdx1)
	if err != nil {
		b.Fatal(err)
	}
	if idx1, err = w.Load(c); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(idx1)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, s := range d.streams {
			s.index.reset()
		}
		d.loadIndex(idx1)
	}
}
