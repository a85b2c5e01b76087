package avi

import (
	"math"
	"time"
)

// pts returns the presentation time of entry i of s on the stream's own
// timeline, in whole microseconds. Constant sample size streams are
// timed by the bytes preceding the entry, everything else by entry count.
func (s *stream) pts(i int) time.Duration {
	if s.rate == 0 || s.index.Len() == 0 {
		return 0
	}
	if i >= s.index.Len() {
		i = s.index.Len() - 1
	}
	var units float64
	if s.sampleSize != 0 {
		e := s.index.At(i)
		units = float64(e.Cumulative-int64(e.Length)) / float64(s.sampleSize)
	} else {
		units = float64(i)
	}
	us := math.Round(units * float64(s.scale) / float64(s.rate) * 1e6)
	return time.Duration(us) * time.Microsecond
}

// cur returns the presentation time of s's cursor.
func (s *stream) cur() time.Duration {
	return s.pts(s.index.pos)
}

// reinit anchors the session clock to master's cursor and rewinds every
// selected slave to the entry at or just before it.
func (d *Demuxer) reinit(master *stream) error {
	target := master.cur()
	d.anchor = d.now().Add(d.latency - target)
	for _, s := range d.streams {
		if s == master || s.disabled || s.unselected {
			continue
		}
		s.index.pos = 0
		s.exhausted = false
		if err := d.catchUp(s, target); err != nil {
			return err
		}
	}
	d.log.Debug("clock anchored", "master", master.desc.Index, "pts", target, "anchor", d.anchor)
	return nil
}

// catchUp moves s forward from its cursor until it reaches target, then
// steps back once if it went past it. A stream already past target stays
// where it is.
func (d *Demuxer) catchUp(s *stream, target time.Duration) error {
	moved := false
	for s.cur() < target && !s.exhausted {
		if err := d.advance(s); err != nil {
			return err
		}
		moved = true
	}
	if moved && s.cur() > target && s.index.pos > 0 {
		s.index.pos--
		s.exhausted = false
	}
	return nil
}
