// Package buffer implements the length-checked byte cursor every decoder in
// flowprobe reads through. The original nfpcapd walks a raw pointer and
// re-enters decode loops with goto; this cursor replaces the pointer with a
// value whose reads only advance forward and never past the captured length,
// so a short packet fails at the read site instead of wandering off the end
// of the frame.
package buffer

import "errors"

// ErrShortSnap is returned by any Cursor read/advance that would run past
// the captured bytes. Callers map this to the SHORT_SNAP taxonomy entry.
var ErrShortSnap = errors.New("buffer: short snap")

// Cursor is a view over a captured frame whose reads only move forward;
// Seek is the one way to reposition it explicitly. Zero value is not
// usable; construct with New.
type Cursor struct {
	data []byte
	off  int
}

// New returns a Cursor positioned at the start of data.
func New(data []byte) Cursor {
	return Cursor{data: data}
}

// Offset returns the current read position.
func (c Cursor) Offset() int { return c.off }

// Len returns the number of captured bytes remaining.
func (c Cursor) Len() int { return len(c.data) - c.off }

// Remaining returns the unread tail of the buffer without advancing.
func (c Cursor) Remaining() []byte { return c.data[c.off:] }

// Require reports whether at least n more bytes are available.
func (c Cursor) Require(n int) bool { return c.Len() >= n }

// Peek returns n bytes at the current offset without advancing. It returns
// ErrShortSnap if fewer than n bytes remain.
func (c Cursor) Peek(n int) ([]byte, error) {
	if !c.Require(n) {
		return nil, ErrShortSnap
	}
	return c.data[c.off : c.off+n], nil
}

// Advance moves the cursor forward by n bytes, returning ErrShortSnap if
// that would move past the captured data.
func (c *Cursor) Advance(n int) error {
	if !c.Require(n) {
		return ErrShortSnap
	}
	c.off += n
	return nil
}

// Take returns the next n bytes and advances past them in one step.
func (c *Cursor) Take(n int) ([]byte, error) {
	b, err := c.Peek(n)
	if err != nil {
		return nil, err
	}
	c.off += n
	return b, nil
}

// ByteAt reads a single byte at the given offset relative to the cursor,
// without advancing. Used by the link/MPLS loops to peek the next nibble.
func (c Cursor) ByteAt(rel int) (byte, error) {
	if c.Len() <= rel {
		return 0, ErrShortSnap
	}
	return c.data[c.off+rel], nil
}

// Seek repositions the cursor at an absolute offset into the original data.
// Used when a decoder restarts parsing at a fixed payload offset (tunnel
// recursion: skipping the GRE header in iplayer).
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.data) {
		return ErrShortSnap
	}
	c.off = off
	return nil
}

// Sub returns a new Cursor over the remaining bytes, useful when a decoder
// hands the rest of the frame to a nested decoder (e.g. GRE payload).
func (c Cursor) Sub() Cursor {
	return New(c.Remaining())
}
