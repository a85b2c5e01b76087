package avi

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/zsiec/avidemux/internal/media"
	"github.com/zsiec/avidemux/internal/riff"
)

// accepts reports whether a movi chunk of the given class carries media for
// s. Video takes compressed (dc) and uncompressed (db) frames, audio takes
// wave bytes (wb). Palette changes and text chunks are never indexed.
func (s *stream) accepts(class [2]byte) bool {
	switch s.desc.Kind {
	case media.KindVideo:
		return class == [2]byte{'d', 'c'} || class == [2]byte{'d', 'b'}
	case media.KindAudio:
		return class == [2]byte{'w', 'b'}
	default:
		return false
	}
}

// loadIndex distributes the idx1 records in data over the stream indexes.
// Offsets are stored raw; calibrate fixes the base afterwards.
func (d *Demuxer) loadIndex(data []byte) {
	var skipped, dropped int
	full := make(map[int]bool)
	le := binary.LittleEndian
	for off := 0; off+indexRecordSize <= len(data); off += indexRecordSize {
		rec := data[off : off+indexRecordSize]
		var id riff.FourCC
		copy(id[:], rec[0:4])

		num, class, ok := parseChunkTag(id)
		if !ok || num >= len(d.streams) || !d.streams[num].accepts(class) {
			skipped++
			continue
		}
		if full[num] {
			continue
		}
		err := d.streams[num].index.Append(IndexEntry{
			ID:     id,
			Flags:  le.Uint32(rec[4:]),
			Offset: int64(le.Uint32(rec[8:])),
			Length: le.Uint32(rec[12:]),
		})
		switch {
		case errors.Is(err, ErrOutOfOrder):
			dropped++
		case errors.Is(err, ErrIndexFull):
			full[num] = true
			d.log.Warn("index full, ignoring remaining records", "stream", num)
		}
	}
	d.log.Debug("idx1 loaded",
		"records", len(data)/indexRecordSize,
		"skipped", skipped,
		"out_of_order", dropped)
}

// calibrate determines whether s's raw offsets count from the start of the
// file or from the movi form type. Once fixed, the base never changes.
func (d *Demuxer) calibrate(s *stream) error {
	x := s.index
	if x.calibrated {
		return nil
	}
	if x.Len() == 0 {
		return ErrIndex
	}
	first := x.At(0)
	for _, base := range []int64{0, d.movi.Pos + 8} {
		c, err := d.w.ChunkAt(first.Offset + base)
		if err != nil {
			if isEndOfData(err) {
				continue
			}
			return err
		}
		if c.ID == first.ID {
			x.setBase(base)
			return nil
		}
	}
	return &StreamError{Stream: s.desc.Index, Err: ErrIndex}
}

// synthesize gives an indexless stream a single keyframe entry pointing at
// its first chunk in movi.
func (d *Demuxer) synthesize(s *stream) error {
	var classes []string
	switch s.desc.Kind {
	case media.KindVideo:
		classes = []string{"dc", "db"}
	case media.KindAudio:
		classes = []string{"wb"}
	default:
		return ErrIndex
	}
	for _, class := range classes {
		want := chunkTag(s.desc.Index, class)
		c, err := d.scanMovi(func(c riff.Chunk) bool { return c.ID == want })
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			return err
		}
		s.index.reset()
		if err := s.index.Append(IndexEntry{
			ID:     c.ID,
			Flags:  IndexKeyframe,
			Offset: c.Pos,
			Length: c.Size,
		}); err != nil {
			return err
		}
		s.index.setBase(0)
		return nil
	}
	return &StreamError{Stream: s.desc.Index, Err: ErrIndex}
}

// scanMovi walks movi from its first chunk and returns the first media
// chunk for which match is true, or io.EOF.
func (d *Demuxer) scanMovi(match func(riff.Chunk) bool) (riff.Chunk, error) {
	if err := d.seekMovi(d.movi.Pos + 12); err != nil {
		return riff.Chunk{}, err
	}
	for {
		c, err := d.nextMediaChunk()
		if err != nil {
			if isEndOfData(err) {
				return riff.Chunk{}, io.EOF
			}
			return riff.Chunk{}, err
		}
		if match(c) {
			return c, nil
		}
		d.w.Skip(c.End() - c.Pos)
	}
}

// buildIndexes loads idx1, calibrates every stream against it and falls
// back to synthesis for streams left without entries.
func (d *Demuxer) buildIndexes(idx1 []byte) error {
	if idx1 != nil {
		d.loadIndex(idx1)
	} else if d.hdr.Flags&FlagMustUseIndex != 0 {
		d.log.Warn("file requires an index but has none")
	}

	for _, s := range d.streams {
		if s.index.Len() == 0 {
			continue
		}
		err := d.calibrate(s)
		if err == nil {
			d.log.Debug("index calibrated", "stream", s.desc.Index, "base", s.index.Base(), "entries", s.index.Len())
			continue
		}
		if !errors.Is(err, ErrIndex) {
			return err
		}
		d.log.Warn("index offsets match no chunk, discarding", "stream", s.desc.Index)
		s.index.reset()
	}

	for _, s := range d.streams {
		if s.index.Len() > 0 {
			continue
		}
		if s.desc.Kind == media.KindUnknown {
			s.disabled = true
			continue
		}
		err := d.synthesize(s)
		if err == nil {
			d.log.Info("index synthesized from first chunk", "stream", s.desc.Index, "offset", s.index.Abs(0))
			continue
		}
		if !errors.Is(err, ErrIndex) {
			return err
		}
		d.log.Warn("no chunk found for stream, disabling", "stream", s.desc.Index)
		s.disabled = true
	}

	for _, s := range d.streams {
		if s.desc.Kind == media.KindVideo && !s.disabled {
			return nil
		}
	}
	return formatError("no indexed video stream", d.movi.Pos, ErrNoVideo)
}
