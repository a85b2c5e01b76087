package avi

import (
	"errors"
	"io"

	"github.com/zsiec/avidemux/internal/media"
	"github.com/zsiec/avidemux/internal/riff"
)

// defaultMinScan is the least number of chunks the extender inspects per
// call once the requesting stream has progressed.
const defaultMinScan = 20

// isEndOfData reports whether err means the data ran out or stopped making
// sense, as opposed to the byte stream failing.
func isEndOfData(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		riff.IsFormat(err)
}

// seekMovi returns the walker to the movi scope and positions it at abs.
func (d *Demuxer) seekMovi(abs int64) error {
	for d.w.Depth() > d.moviDepth {
		if err := d.w.Ascend(); err != nil {
			return err
		}
	}
	return d.w.SeekTo(abs)
}

// nextMediaChunk returns the next non-list chunk at or after the walker
// position, descending into rec lists and leaving them at their end. The
// walker stays on the returned chunk.
func (d *Demuxer) nextMediaChunk() (riff.Chunk, error) {
	for {
		c, err := d.w.ReadChunk()
		if errors.Is(err, io.EOF) {
			if d.w.Depth() > d.moviDepth {
				if err := d.w.Ascend(); err != nil {
					return riff.Chunk{}, err
				}
				continue
			}
			return riff.Chunk{}, io.EOF
		}
		if err != nil {
			return c, err
		}
		if c.IsList() {
			if c.Form == formRec {
				if err := d.w.Descend(c); err != nil {
					return c, err
				}
				continue
			}
			d.w.Skip(c.End() - c.Pos)
			continue
		}
		return c, nil
	}
}

type stagedEntry struct {
	s *stream
	e IndexEntry
}

// extend scans movi past the known index to find the next entry of req.
// Entries found for other streams along the way are added as well. Nothing
// is committed when the byte stream fails, so a failed call leaves every
// index as it was. It returns ErrEndOfStream when movi ends before req
// gains an entry.
func (d *Demuxer) extend(req *stream) error {
	var from *stream
	for _, s := range d.streams {
		if s.disabled || s.index.Len() == 0 {
			continue
		}
		if from == nil || s.index.Abs(s.index.Len()-1) < from.index.Abs(from.index.Len()-1) {
			from = s
		}
	}

	start := d.movi.Pos + 12
	if from != nil {
		start = from.index.Abs(from.index.Len() - 1)
	}
	if err := d.seekMovi(start); err != nil {
		if isEndOfData(err) {
			return ErrEndOfStream
		}
		return err
	}
	if from != nil {
		c, err := d.w.ReadChunk()
		if err != nil {
			if isEndOfData(err) {
				return ErrEndOfStream
			}
			return err
		}
		d.w.Skip(c.End() - c.Pos)
	}

	ends := make([]int64, len(d.streams))
	for i, s := range d.streams {
		if s.index.Len() > 0 {
			ends[i] = s.index.end()
		}
	}

	var staged []stagedEntry
	gained := false
	for n := 0; !gained || n < d.minScan; n++ {
		c, err := d.nextMediaChunk()
		if err != nil {
			if !isEndOfData(err) {
				return err
			}
			d.commit(staged)
			if !gained {
				return ErrEndOfStream
			}
			return nil
		}
		d.w.Skip(c.End() - c.Pos)

		num, class, ok := parseChunkTag(c.ID)
		if !ok || num >= len(d.streams) {
			continue
		}
		s := d.streams[num]
		if s.disabled || !s.accepts(class) || c.Pos < ends[num] {
			continue
		}
		staged = append(staged, stagedEntry{s: s, e: IndexEntry{
			ID:     c.ID,
			Flags:  IndexKeyframe,
			Offset: c.Pos - s.index.Base(),
			Length: c.Size,
		}})
		ends[num] = c.Pos + riff.HeaderSize + int64(c.Size)
		if s == req {
			gained = true
		}
	}
	d.commit(staged)
	return nil
}

func (d *Demuxer) commit(staged []stagedEntry) {
	for _, st := range staged {
		if err := st.s.index.Append(st.e); err != nil {
			d.log.Debug("scanned entry rejected", "stream", st.s.desc.Index, "offset", st.e.Offset, "error", err)
		}
	}
}

// advance moves s's cursor one entry forward, extending the index when the
// cursor is on the last known entry. A stream that cannot advance is marked
// exhausted.
func (d *Demuxer) advance(s *stream) error {
	x := s.index
	if x.pos+1 < x.Len() {
		x.pos++
		return nil
	}
	err := d.extend(s)
	if errors.Is(err, ErrEndOfStream) {
		s.exhausted = true
		return nil
	}
	if err != nil {
		return err
	}
	if x.pos+1 < x.Len() {
		x.pos++
		return nil
	}
	// Every scanned entry was rejected.
	s.exhausted = true
	return nil
}

// realign moves s's cursor to the entry nearest the absolute byte position
// pos. Video lands on a keyframe.
func (d *Demuxer) realign(s *stream, pos int64) error {
	x := s.index
	if x.Len() == 0 {
		return ErrIndex
	}
	for x.Abs(x.Len()-1) < pos {
		n := x.Len()
		if err := d.extend(s); err != nil {
			return err
		}
		if x.Len() == n {
			return ErrIndexFull
		}
	}
	s.exhausted = false

	if pos <= x.Abs(0) {
		x.pos = 0
		return nil
	}
	if x.pos >= x.Len() {
		x.pos = x.Len() - 1
	}
	cur := x.At(x.pos)
	start := x.Abs(x.pos)
	if pos >= start && pos < start+riff.HeaderSize+int64(cur.Length) {
		return nil
	}

	video := s.desc.Kind == media.KindVideo
	i := x.pos
	if pos > start {
		for x.Abs(i) < pos {
			i++
		}
		for video && !x.At(i).Keyframe() {
			if i+1 >= x.Len() {
				if err := d.extend(s); err != nil {
					return err
				}
				if i+1 >= x.Len() {
					return ErrEndOfStream
				}
			}
			i++
		}
	} else {
		for i > 0 && x.Abs(i-1) >= pos {
			i--
		}
		for video && i > 0 && !x.At(i).Keyframe() {
			i--
		}
	}
	x.pos = i
	return nil
}
