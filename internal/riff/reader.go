package riff

import (
	"bufio"
	"io"
)

const defaultBufferSize = 16 * 1024

// Reader is a buffered, seekable byte source offering bounded peeks.
// Seeks that land inside the buffered window are served without touching
// the underlying stream.
type Reader struct {
	rs   io.ReadSeeker
	br   *bufio.Reader
	pos  int64
	size int64
}

// NewReader wraps rs. The size of the stream is taken by seeking to its end;
// reading starts at offset 0.
func NewReader(rs io.ReadSeeker) (*Reader, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, &IOError{Op: "seek end", Pos: 0, Err: err}
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, &IOError{Op: "seek", Pos: 0, Err: err}
	}
	return &Reader{
		rs:   rs,
		br:   bufio.NewReaderSize(rs, defaultBufferSize),
		size: size,
	}, nil
}

// Size returns the length of the stream as observed when the reader was
// created.
func (r *Reader) Size() int64 {
	return r.size
}

// Tell returns the absolute offset of the next byte to be read.
func (r *Reader) Tell() int64 {
	return r.pos
}

// Peek returns the next n bytes without consuming them. Fewer bytes are
// returned together with an error when the stream ends first.
func (r *Reader) Peek(n int) ([]byte, error) {
	b, err := r.br.Peek(n)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return b, &IOError{Op: "peek", Pos: r.pos, Err: err}
	}
	if len(b) < n && err == nil {
		err = io.ErrUnexpectedEOF
	}
	return b, err
}

// ReadFull fills p from the current position.
func (r *Reader) ReadFull(p []byte) error {
	n, err := io.ReadFull(r.br, p)
	r.pos += int64(n)
	if err != nil {
		return &IOError{Op: "read", Pos: r.pos, Err: err}
	}
	return nil
}

// Discard skips n bytes forward.
func (r *Reader) Discard(n int64) error {
	if n <= int64(r.br.Buffered()) {
		d, err := r.br.Discard(int(n))
		r.pos += int64(d)
		if err != nil {
			return &IOError{Op: "discard", Pos: r.pos, Err: err}
		}
		return nil
	}
	return r.SeekAbs(r.pos + n)
}

// SeekAbs moves to the absolute offset abs.
func (r *Reader) SeekAbs(abs int64) error {
	if abs == r.pos {
		return nil
	}
	if abs > r.pos && abs-r.pos <= int64(r.br.Buffered()) {
		return r.Discard(abs - r.pos)
	}
	if _, err := r.rs.Seek(abs, io.SeekStart); err != nil {
		return &IOError{Op: "seek", Pos: abs, Err: err}
	}
	r.br.Reset(r.rs)
	r.pos = abs
	return nil
}
