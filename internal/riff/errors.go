package riff

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by FormatError.
var (
	ErrSignature = errors.New("riff: bad file signature")
	ErrOverrun   = errors.New("riff: chunk overruns its list")
	ErrNotFound  = errors.New("riff: chunk not found")
	ErrNotList   = errors.New("riff: chunk is not a list")
)

// FormatError reports a structural problem in the chunk tree.
type FormatError struct {
	Reason string
	Pos    int64
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("riff: %s at offset %d: %v", e.Reason, e.Pos, e.Err)
	}
	return fmt.Sprintf("riff: %s at offset %d", e.Reason, e.Pos)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IOError reports a failed seek or read on the underlying byte stream.
type IOError struct {
	Op  string
	Pos int64
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("riff: %s at offset %d: %v", e.Op, e.Pos, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsFormat reports whether err is, or wraps, a *FormatError.
func IsFormat(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsIO reports whether err is, or wraps, an *IOError.
func IsIO(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}
