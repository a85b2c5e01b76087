package riff

import (
	"encoding/binary"
	"errors"
	"io"
)

// frame is one list scope on the walker stack.
type frame struct {
	form  FourCC
	start int64
	end   int64
}

// Walker navigates a chunk tree. Its position is logical: the underlying
// reader is repositioned lazily before each access, so walker operations can
// be freely interleaved with Load calls.
type Walker struct {
	r     *Reader
	stack []frame
	pos   int64
}

// NewWalker creates a Walker over rs positioned at the start of the file.
func NewWalker(rs io.ReadSeeker) (*Walker, error) {
	r, err := NewReader(rs)
	if err != nil {
		return nil, err
	}
	return &Walker{
		r:     r,
		stack: []frame{{start: 0, end: r.Size()}},
	}, nil
}

// ReadHeader validates the RIFF signature and form type at the start of the
// file and descends into it. A RIFF size that claims more than the file
// holds is clamped to the file size.
func (w *Walker) ReadHeader(form FourCC) (Chunk, error) {
	w.stack = w.stack[:1]
	w.pos = 0
	b, err := w.peekAt(0, listHeaderSize)
	if errors.Is(err, io.ErrUnexpectedEOF) || (err == nil && len(b) < listHeaderSize) {
		return Chunk{}, &FormatError{Reason: "file too short", Err: ErrSignature}
	}
	if err != nil {
		return Chunk{}, err
	}
	c := parseHeader(b, 0)
	if c.ID != IDRIFF || c.Form != form {
		return Chunk{}, &FormatError{Reason: "expected RIFF " + form.String() + ", got " + c.String(), Err: ErrSignature}
	}
	end := c.DataPos() + int64(c.Size)
	if end > w.stack[0].end {
		end = w.stack[0].end
	}
	w.stack = append(w.stack, frame{form: form, start: listHeaderSize, end: end})
	w.pos = listHeaderSize
	return c, nil
}

// Tell returns the walker's absolute position.
func (w *Walker) Tell() int64 {
	return w.pos
}

// Depth returns the number of list scopes entered, not counting the file.
func (w *Walker) Depth() int {
	return len(w.stack) - 1
}

// Scope returns the bounds of the innermost list scope.
func (w *Walker) Scope() (start, end int64) {
	top := w.stack[len(w.stack)-1]
	return top.start, top.end
}

// ReadChunk reads the header of the chunk at the current position without
// consuming it. It returns io.EOF when the current scope has no room for
// another chunk, and a *FormatError wrapping ErrOverrun when the chunk's
// declared length crosses the end of the scope.
func (w *Walker) ReadChunk() (Chunk, error) {
	top := w.stack[len(w.stack)-1]
	if w.pos+HeaderSize > top.end {
		return Chunk{}, io.EOF
	}
	n := HeaderSize
	if w.pos+listHeaderSize <= top.end {
		n = listHeaderSize
	}
	b, err := w.peekAt(w.pos, n)
	if err != nil {
		return Chunk{}, err
	}
	c := parseHeader(b, w.pos)
	if c.DataPos()+int64(c.Size) > top.end {
		return c, &FormatError{Reason: "chunk " + c.ID.String() + " too long", Pos: c.Pos, Err: ErrOverrun}
	}
	if c.IsList() && c.Size < 4 {
		return c, &FormatError{Reason: "list " + c.ID.String() + " has no form type", Pos: c.Pos, Err: ErrOverrun}
	}
	return c, nil
}

// NextChunk moves past the chunk at the current position.
func (w *Walker) NextChunk() error {
	c, err := w.ReadChunk()
	if err != nil {
		return err
	}
	w.pos = w.clamp(c.End())
	return nil
}

// Descend enters list chunk c; the position becomes its first child.
func (w *Walker) Descend(c Chunk) error {
	if !c.IsList() {
		return &FormatError{Reason: "descend into " + c.ID.String(), Pos: c.Pos, Err: ErrNotList}
	}
	w.stack = append(w.stack, frame{
		form:  c.Form,
		start: c.Pos + listHeaderSize,
		end:   w.clamp(c.DataPos() + int64(c.Size)),
	})
	w.pos = c.Pos + listHeaderSize
	return nil
}

// Ascend leaves the innermost list; the position becomes the list's next
// sibling.
func (w *Walker) Ascend() error {
	if len(w.stack) <= 1 {
		return &FormatError{Reason: "ascend above file", Pos: w.pos, Err: ErrNotList}
	}
	top := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	end := top.end
	if (end-top.start)&1 != 0 {
		end++
	}
	w.pos = w.clamp(end)
	return nil
}

// Find scans forward in the current scope for a chunk with the given id and
// leaves the position on it. The chunk at the current position is
// considered first. On a malformed header the offending chunk is returned
// along with the error.
func (w *Walker) Find(id FourCC) (Chunk, error) {
	return w.find(func(c Chunk) bool { return c.ID == id }, id)
}

// FindList scans forward for a LIST chunk of the given form type.
func (w *Walker) FindList(form FourCC) (Chunk, error) {
	return w.find(func(c Chunk) bool { return c.ID == IDLIST && c.Form == form }, form)
}

func (w *Walker) find(match func(Chunk) bool, want FourCC) (Chunk, error) {
	for {
		c, err := w.ReadChunk()
		if errors.Is(err, io.EOF) {
			return Chunk{}, &FormatError{Reason: "looking for " + want.String(), Pos: w.pos, Err: ErrNotFound}
		}
		if err != nil {
			return c, err
		}
		if match(c) {
			return c, nil
		}
		w.pos = w.clamp(c.End())
	}
}

// ChunkAt reads the chunk header at the absolute offset abs, ignoring list
// scopes. The walker position is not changed.
func (w *Walker) ChunkAt(abs int64) (Chunk, error) {
	if abs < 0 || abs+HeaderSize > w.r.Size() {
		return Chunk{}, &FormatError{Reason: "chunk header outside file", Pos: abs, Err: ErrOverrun}
	}
	b, err := w.peekAt(abs, HeaderSize)
	if err != nil {
		return Chunk{}, err
	}
	return parseHeader(b, abs), nil
}

// Load reads the payload of c. The walker position is not changed.
func (w *Walker) Load(c Chunk) ([]byte, error) {
	if err := w.r.SeekAbs(c.DataPos()); err != nil {
		return nil, err
	}
	data := make([]byte, c.Size)
	if err := w.r.ReadFull(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Skip advances the position by n bytes without reading them.
func (w *Walker) Skip(n int64) {
	w.pos = w.clamp(w.pos + n)
}

// SeekTo moves to the absolute offset abs, which must lie in the current
// scope.
func (w *Walker) SeekTo(abs int64) error {
	top := w.stack[len(w.stack)-1]
	if abs < top.start || abs > top.end {
		return &FormatError{Reason: "seek outside " + top.form.String(), Pos: abs, Err: ErrOverrun}
	}
	w.pos = abs
	return nil
}

// GoTo leaves every scope that does not contain c and positions on it.
func (w *Walker) GoTo(c Chunk) {
	for len(w.stack) > 1 {
		top := w.stack[len(w.stack)-1]
		if c.Pos >= top.start && c.Pos < top.end {
			break
		}
		w.stack = w.stack[:len(w.stack)-1]
	}
	w.pos = c.Pos
}

func (w *Walker) clamp(pos int64) int64 {
	if end := w.stack[len(w.stack)-1].end; pos > end {
		return end
	}
	return pos
}

func (w *Walker) peekAt(pos int64, n int) ([]byte, error) {
	if err := w.r.SeekAbs(pos); err != nil {
		return nil, err
	}
	b, err := w.r.Peek(n)
	if len(b) >= HeaderSize && len(b) < n && n == listHeaderSize {
		// A plain chunk needs only the first eight bytes.
		return b, nil
	}
	if err != nil || len(b) < n {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		if IsIO(err) {
			return nil, err
		}
		return nil, &IOError{Op: "read chunk header", Pos: pos, Err: err}
	}
	return b, nil
}

func parseHeader(b []byte, pos int64) Chunk {
	var c Chunk
	copy(c.ID[:], b[0:4])
	c.Size = binary.LittleEndian.Uint32(b[4:8])
	c.Pos = pos
	if c.IsList() && len(b) >= listHeaderSize {
		copy(c.Form[:], b[8:12])
	}
	return c
}
