package avi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/avidemux/internal/media"
	"github.com/zsiec/avidemux/internal/program"
	"github.com/zsiec/avidemux/internal/riff"
)

// DefaultOutputLatency is the delay between the clock anchor and the first
// packet's timestamp, giving decoders time to fill.
const DefaultOutputLatency = 300 * time.Millisecond

// Status is the outcome of one demux step.
type Status int

const (
	// StatusContinue means a packet was delivered or a stale index entry
	// was skipped. Step should be called again.
	StatusContinue Status = iota
	// StatusEnd means the master stream is exhausted or could not be
	// realigned.
	StatusEnd
	// StatusFatal means demuxing cannot go on.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusEnd:
		return "end"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// TieBreak decides which stream goes first when two pending packets have
// the same presentation time.
type TieBreak int

const (
	// PreferAudio emits the non-video packet first, keeping audio output
	// fed.
	PreferAudio TieBreak = iota
	// PreferVideo emits the video packet first.
	PreferVideo
)

func (t TieBreak) String() string {
	if t == PreferVideo {
		return "video"
	}
	return "audio"
}

// ParseTieBreak parses "audio" or "video".
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "audio", "":
		return PreferAudio, nil
	case "video":
		return PreferVideo, nil
	}
	return PreferAudio, fmt.Errorf("avi: unknown tie break %q", s)
}

// StatsRecorder observes delivered packets and skipped index entries.
type StatsRecorder interface {
	RecordPacket(stream int, kind media.Kind, size int)
	RecordStaleEntry(stream int)
}

// StreamDescriptor describes one declared stream. It does not change after
// Open.
type StreamDescriptor struct {
	Index  int
	Kind   media.Kind
	Codec  Codec
	FourCC riff.FourCC // compression for video, zero for audio
	Header StreamHeader
	Video  *VideoFormat
	Audio  *AudioFormat
	Name   string
	Format []byte // raw strf payload

	// Indexed is false for streams that have no usable chunks; they are
	// never demuxed.
	Indexed bool
}

type stream struct {
	desc  StreamDescriptor
	index *Index

	scale      uint32
	rate       uint32
	sampleSize uint32

	unselected bool
	exhausted  bool
	disabled   bool
}

// Demuxer reads an AVI file and delivers its chunks, timestamped and
// interleaved by presentation time, to the sinks attached to its program.
// Step must be called from a single goroutine.
type Demuxer struct {
	log   *slog.Logger
	w     *riff.Walker
	prog  *program.Program
	stats StatsRecorder

	hdr       MainHeader
	movi      riff.Chunk
	moviDepth int
	streams   []*stream

	master *stream
	anchor time.Time

	latency    time.Duration
	tieBreak   TieBreak
	minScan    int
	maxEntries int
	now        func() time.Time
	closed     bool
}

// DemuxerOptLogger sets the logger (default slog.Default()).
func DemuxerOptLogger(l *slog.Logger) func(*Demuxer) {
	return func(d *Demuxer) {
		if l != nil {
			d.log = l
		}
	}
}

// DemuxerOptOutputLatency sets the output latency budget (default 300ms).
func DemuxerOptOutputLatency(l time.Duration) func(*Demuxer) {
	return func(d *Demuxer) {
		d.latency = l
	}
}

// DemuxerOptTieBreak sets the equal-PTS policy (default PreferAudio).
func DemuxerOptTieBreak(t TieBreak) func(*Demuxer) {
	return func(d *Demuxer) {
		d.tieBreak = t
	}
}

// DemuxerOptMinScan sets how many chunks the index extender inspects at
// least per call (default 20).
func DemuxerOptMinScan(n int) func(*Demuxer) {
	return func(d *Demuxer) {
		if n >= 0 {
			d.minScan = n
		}
	}
}

// DemuxerOptMaxEntries caps the entries kept per stream index.
func DemuxerOptMaxEntries(n int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.maxEntries = n
	}
}

// DemuxerOptClock replaces time.Now for the clock anchor.
func DemuxerOptClock(now func() time.Time) func(*Demuxer) {
	return func(d *Demuxer) {
		if now != nil {
			d.now = now
		}
	}
}

// Open parses the headers of the AVI file in r and builds the stream
// indexes. The demuxer delivers to the sinks attached to prog; a nil prog
// gets a fresh program. Structural problems are reported as
// *riff.FormatError and read failures as *riff.IOError.
func Open(r io.ReadSeeker, prog *program.Program, opts ...func(*Demuxer)) (*Demuxer, error) {
	d := &Demuxer{
		log:      slog.Default(),
		latency:  DefaultOutputLatency,
		tieBreak: PreferAudio,
		minScan:  defaultMinScan,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if prog == nil {
		prog = program.New(d.log)
	}
	d.log = d.log.With("component", "avi")
	d.prog = prog

	w, err := riff.NewWalker(r)
	if err != nil {
		return nil, err
	}
	d.w = w

	if _, err := w.ReadHeader(formAVI); err != nil {
		return nil, err
	}
	hdrl, err := w.FindList(formHdrl)
	if err != nil {
		return nil, err
	}
	if err := w.Descend(hdrl); err != nil {
		return nil, err
	}
	if err := d.readHeaders(); err != nil {
		return nil, err
	}
	if err := w.Ascend(); err != nil {
		return nil, err
	}

	movi, err := w.FindList(formMovi)
	if errors.Is(err, riff.ErrOverrun) && movi.IsList() && movi.Form == formMovi && movi.Size >= 4 {
		d.log.Warn("movi list runs past end of file, file may be truncated", "pos", movi.Pos)
	} else if err != nil {
		return nil, err
	}
	d.movi = movi

	var idx1 []byte
	if err := w.Descend(movi); err != nil {
		return nil, err
	}
	if err := w.Ascend(); err != nil {
		return nil, err
	}
	if c, err := w.Find(idIdx1); err == nil {
		if idx1, err = w.Load(c); err != nil {
			return nil, err
		}
	} else if !isEndOfData(err) {
		return nil, err
	} else if d.hdr.Flags&FlagHasIndex != 0 {
		d.log.Warn("header announces an index but idx1 is missing")
	}

	w.GoTo(movi)
	if err := w.Descend(movi); err != nil {
		return nil, err
	}
	d.moviDepth = w.Depth()

	if err := d.buildIndexes(idx1); err != nil {
		return nil, err
	}
	for _, s := range d.streams {
		s.desc.Indexed = !s.disabled
	}

	for _, s := range d.streams {
		args := []any{
			"stream", s.desc.Index,
			"kind", s.desc.Kind,
			"codec", s.desc.Codec,
			"entries", s.index.Len(),
		}
		if s.desc.Name != "" {
			args = append(args, "name", s.desc.Name)
		}
		switch {
		case s.desc.Video != nil:
			args = append(args,
				"fourcc", s.desc.FourCC,
				"width", s.desc.Video.Width,
				"height", s.desc.Video.Height,
				"fps", s.desc.Header.UnitRate())
		case s.desc.Audio != nil:
			args = append(args,
				"channels", s.desc.Audio.Channels,
				"sample_rate", s.desc.Audio.SamplesPerSec,
				"bits", s.desc.Audio.BitsPerSample)
		}
		d.log.Info("stream", args...)
	}
	return d, nil
}

// readHeaders parses avih and every strl inside hdrl.
func (d *Demuxer) readHeaders() error {
	w := d.w
	avih, err := w.Find(idAvih)
	if err != nil {
		return err
	}
	b, err := w.Load(avih)
	if err != nil {
		return err
	}
	if d.hdr, err = DecodeMainHeader(b); err != nil {
		return formatError("avih", avih.Pos, err)
	}
	d.log.Info("avi file",
		"streams", d.hdr.Streams,
		"frames", d.hdr.TotalFrames,
		"usec_per_frame", d.hdr.MicroSecPerFrame,
		"width", d.hdr.Width,
		"height", d.hdr.Height,
		"flags", d.hdr.FlagNames())

	for {
		c, err := w.FindList(formStrl)
		if errors.Is(err, riff.ErrNotFound) {
			break
		}
		if err != nil {
			return err
		}
		if err := w.Descend(c); err != nil {
			return err
		}
		s, err := d.readStream(len(d.streams))
		if err != nil {
			return err
		}
		d.streams = append(d.streams, s)
		if err := w.Ascend(); err != nil {
			return err
		}
	}

	if len(d.streams) == 0 {
		return formatError("hdrl", avih.Pos, ErrNoStreams)
	}
	if int(d.hdr.Streams) != len(d.streams) {
		d.log.Warn("stream count mismatch", "declared", d.hdr.Streams, "found", len(d.streams))
	}
	return nil
}

// readStream parses the strl the walker is inside of.
func (d *Demuxer) readStream(n int) (*stream, error) {
	w := d.w
	strh, err := w.Find(idStrh)
	if err != nil {
		return nil, err
	}
	b, err := w.Load(strh)
	if err != nil {
		return nil, err
	}
	hdr, err := DecodeStreamHeader(b)
	if err != nil {
		return nil, formatError("strh", strh.Pos, err)
	}
	if err := w.NextChunk(); err != nil {
		return nil, err
	}
	strf, err := w.Find(idStrf)
	if err != nil {
		return nil, err
	}
	format, err := w.Load(strf)
	if err != nil {
		return nil, err
	}

	s := &stream{
		desc: StreamDescriptor{
			Index:  n,
			Header: hdr,
			Format: format,
		},
		index:      newIndex(d.maxEntries),
		scale:      hdr.Scale,
		rate:       hdr.Rate,
		sampleSize: hdr.SampleSize,
	}

	switch hdr.Type {
	case typeVids:
		v, err := DecodeVideoFormat(format)
		if err != nil {
			return nil, formatError("strf", strf.Pos, err)
		}
		s.desc.Kind = media.KindVideo
		s.desc.Video = &v
		s.desc.FourCC = v.Compression
		s.desc.Codec = ClassifyVideo(v.Compression)
		if (s.scale == 0 || s.rate == 0) && d.hdr.MicroSecPerFrame != 0 {
			s.scale, s.rate = d.hdr.MicroSecPerFrame, 1000000
		}
	case typeAuds:
		a, err := DecodeAudioFormat(format)
		if err != nil {
			return nil, formatError("strf", strf.Pos, err)
		}
		s.desc.Kind = media.KindAudio
		s.desc.Audio = &a
		s.desc.Codec = ClassifyAudio(a.FormatTag)
	default:
		d.log.Warn("unsupported stream type", "stream", n, "type", hdr.Type)
	}
	if s.desc.Codec == CodecUnknown && s.desc.Kind != media.KindUnknown {
		d.log.Warn("unknown codec", "stream", n, "kind", s.desc.Kind, "fourcc", s.desc.FourCC, "handler", hdr.Handler)
	}

	if err := w.NextChunk(); err != nil && !isEndOfData(err) {
		return nil, err
	}
	if strn, err := w.Find(idStrn); err == nil {
		if name, err := w.Load(strn); err == nil {
			s.desc.Name = cString(name)
		}
	}
	return s, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Streams returns the descriptors of all declared streams in file order.
func (d *Demuxer) Streams() []StreamDescriptor {
	out := make([]StreamDescriptor, len(d.streams))
	for i, s := range d.streams {
		out[i] = s.desc
	}
	return out
}

// DefaultStreams returns the numbers of the first indexed video stream and
// the first indexed audio stream, if any.
func (d *Demuxer) DefaultStreams() []int {
	var out []int
	var video, audio bool
	for _, s := range d.streams {
		if s.disabled {
			continue
		}
		switch {
		case s.desc.Kind == media.KindVideo && !video:
			video = true
			out = append(out, s.desc.Index)
		case s.desc.Kind == media.KindAudio && !audio:
			audio = true
			out = append(out, s.desc.Index)
		}
	}
	return out
}

// Program returns the program the demuxer delivers to.
func (d *Demuxer) Program() *program.Program {
	return d.prog
}

// SetStats installs a recorder for delivery statistics.
func (d *Demuxer) SetStats(r StatsRecorder) {
	d.stats = r
}

// Close releases the indexes. The underlying reader is not closed.
func (d *Demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	for _, s := range d.streams {
		s.index.reset()
	}
	d.streams = nil
	d.master = nil
	return nil
}

type cursor struct {
	pos        int
	exhausted  bool
	unselected bool
}

// Step performs one scheduling round: it re-synchronizes when the program
// asks for it, picks the selected stream with the earliest pending packet
// and delivers that packet to its sink. Cursors and the clock are left
// unchanged unless the step succeeds.
func (d *Demuxer) Step(ctx context.Context) (Status, error) {
	if d.closed {
		return StatusFatal, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return StatusEnd, err
	}

	saved := make([]cursor, len(d.streams))
	for i, s := range d.streams {
		saved[i] = cursor{pos: s.index.pos, exhausted: s.exhausted, unselected: s.unselected}
	}
	savedMaster, savedAnchor := d.master, d.anchor
	rollback := func() {
		for i, s := range d.streams {
			s.index.pos = saved[i].pos
			s.exhausted = saved[i].exhausted
			s.unselected = saved[i].unselected
		}
		d.master, d.anchor = savedMaster, savedAnchor
	}

	status, err := d.step(ctx)
	if status != StatusContinue {
		rollback()
	}
	return status, err
}

func (d *Demuxer) step(ctx context.Context) (Status, error) {
	snap := d.prog.Snapshot(len(d.streams))

	var reselected []*stream
	var master *stream
	for i, s := range d.streams {
		selected := snap.Sinks[i] != nil && !s.disabled
		switch {
		case !selected:
			if !s.unselected && !s.disabled {
				d.log.Debug("stream unselected", "stream", i)
			}
			s.unselected = true
			continue
		case s.unselected:
			s.unselected = false
			reselected = append(reselected, s)
		}
		if master == nil && s.desc.Kind == media.KindVideo {
			master = s
		}
	}
	if master == nil {
		return StatusFatal, ErrNoVideo
	}
	// A finished master stays finished unless the host seeks.
	if master.exhausted && !snap.HasSeek {
		return StatusEnd, nil
	}

	if snap.State == program.SyncReinit || master != d.master {
		pos := master.index.Abs(master.index.pos)
		if snap.HasSeek {
			pos = snap.SeekPos
		}
		if err := d.realign(master, pos); err != nil {
			return d.failure("realign", err)
		}
		if err := d.reinit(master); err != nil {
			return d.failure("reinit", err)
		}
		d.master = master
		reselected = nil
	}
	for _, s := range reselected {
		if s == master {
			continue
		}
		if err := d.catchUp(s, master.cur()); err != nil {
			return d.failure("catch up", err)
		}
	}

	if master.exhausted {
		return StatusEnd, nil
	}

	s := d.pick()
	x := s.index
	want := x.At(x.pos)
	abs := x.Abs(x.pos)

	c, data, err := d.readChunkAt(abs)
	if err != nil && !isEndOfData(err) {
		return StatusFatal, err
	}
	if err != nil || c.ID != want.ID {
		d.log.Debug("stale index entry", "stream", s.desc.Index, "offset", abs, "want", want.ID, "got", c.ID)
		if d.stats != nil {
			d.stats.RecordStaleEntry(s.desc.Index)
		}
		if err := d.advance(s); err != nil {
			return StatusFatal, err
		}
		d.prog.Synced(snap.Gen)
		return StatusContinue, nil
	}

	pts := s.cur()
	pkt := &media.Packet{
		StreamIndex: s.desc.Index,
		Kind:        s.desc.Kind,
		Data:        data,
		PTS:         pts,
		Timestamp:   d.anchor.Add(pts),
		IsKeyframe:  want.Keyframe(),
		Offset:      abs,
	}
	if err := snap.Sinks[s.desc.Index].Deliver(ctx, pkt); err != nil {
		if ctx.Err() != nil {
			return StatusEnd, ctx.Err()
		}
		return StatusFatal, &StreamError{Stream: s.desc.Index, Err: err}
	}
	if d.stats != nil {
		d.stats.RecordPacket(s.desc.Index, s.desc.Kind, len(data))
	}

	if err := d.advance(s); err != nil {
		return StatusFatal, err
	}
	d.prog.Synced(snap.Gen)
	return StatusContinue, nil
}

// failure maps an error from realignment or synchronization to a status.
func (d *Demuxer) failure(op string, err error) (Status, error) {
	if errors.Is(err, ErrEndOfStream) || errors.Is(err, ErrIndexFull) || isEndOfData(err) {
		d.log.Debug(op+" reached end of data", "error", err)
		return StatusEnd, nil
	}
	return StatusFatal, fmt.Errorf("avi: %s: %w", op, err)
}

// pick returns the selected, unexhausted stream with the earliest pending
// packet.
func (d *Demuxer) pick() *stream {
	var best *stream
	var bestPTS time.Duration
	for _, s := range d.streams {
		if s.unselected || s.disabled || s.exhausted {
			continue
		}
		pts := s.cur()
		if best == nil || pts < bestPTS || (pts == bestPTS && d.wins(s, best)) {
			best, bestPTS = s, pts
		}
	}
	return best
}

// wins reports whether s beats cur on equal presentation time.
func (d *Demuxer) wins(s, cur *stream) bool {
	sv := s.desc.Kind == media.KindVideo
	cv := cur.desc.Kind == media.KindVideo
	if sv == cv {
		return false
	}
	if d.tieBreak == PreferVideo {
		return sv
	}
	return !sv
}

// readChunkAt reads the header and payload of the chunk at abs.
func (d *Demuxer) readChunkAt(abs int64) (riff.Chunk, []byte, error) {
	if err := d.seekMovi(abs); err != nil {
		return riff.Chunk{}, nil, err
	}
	c, err := d.w.ReadChunk()
	if err != nil {
		return c, nil, err
	}
	if c.IsList() {
		return c, nil, nil
	}
	data, err := d.w.Load(c)
	if err != nil {
		return c, nil, err
	}
	return c, data, nil
}
