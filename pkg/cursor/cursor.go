// Package cursor implements a bounds-checked sequential reader over an
// immutable byte buffer. Every decoder in this module is built on top of it:
// a read either consumes exactly what it decoded or fails without moving.
package cursor

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// OutOfBoundsError is returned when a seek or advance targets a position
// outside the buffer.
type OutOfBoundsError struct {
	Offset int64
	Length int64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("offset %#x out of bounds (buffer length %#x)", e.Offset, e.Length)
}

// InsufficientDataError is returned when fewer bytes remain than a read
// requires. Offset is the cursor position at the time of the failed read.
type InsufficientDataError struct {
	Offset    int64
	Needed    int64
	Available int64
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data at offset %#x: need %d bytes, have %d", e.Offset, e.Needed, e.Available)
}

// Cursor reads sequentially from an immutable byte buffer. The buffer is
// never copied or mutated, so any number of cursors may share one buffer
// concurrently as long as each cursor stays goroutine-local.
type Cursor struct {
	data []byte
	off  int64
}

// New returns a cursor positioned at offset. The buffer is retained by
// reference; callers must not mutate it while the cursor is live.
func New(data []byte, offset int64) (*Cursor, error) {
	if offset < 0 || offset > int64(len(data)) {
		return nil, &OutOfBoundsError{Offset: offset, Length: int64(len(data))}
	}
	return &Cursor{data: data, off: offset}, nil
}

// Offset returns the current read position.
func (c *Cursor) Offset() int64 { return c.off }

// Len returns the total buffer length.
func (c *Cursor) Len() int64 { return int64(len(c.data)) }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int64 { return int64(len(c.data)) - c.off }

// Seek moves the cursor to an absolute offset.
func (c *Cursor) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(c.data)) {
		return &OutOfBoundsError{Offset: offset, Length: int64(len(c.data))}
	}
	c.off = offset
	return nil
}

// Advance moves the cursor forward (or backward, for negative n) relative to
// the current position.
func (c *Cursor) Advance(n int64) error {
	return c.Seek(c.off + n)
}

func (c *Cursor) take(n int64) ([]byte, error) {
	if rem := c.Remaining(); rem < n {
		return nil, &InsufficientDataError{Offset: c.off, Needed: n, Available: rem}
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

// ReadByte reads one byte.
func (c *Cursor) ReadByte() (byte, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes reads exactly n bytes, returning a view into the buffer.
func (c *Cursor) ReadBytes(n int64) ([]byte, error) {
	if n < 0 {
		return nil, &InsufficientDataError{Offset: c.off, Needed: n, Available: c.Remaining()}
	}
	return c.take(n)
}

// ReadUint16 reads a 16-bit integer in the given byte order.
func (c *Cursor) ReadUint16(bo binary.ByteOrder) (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return bo.Uint16(b), nil
}

// ReadUint32 reads a 32-bit integer in the given byte order.
func (c *Cursor) ReadUint32(bo binary.ByteOrder) (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return bo.Uint32(b), nil
}

// ReadUint64 reads a 64-bit integer in the given byte order.
func (c *Cursor) ReadUint64(bo binary.ByteOrder) (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return bo.Uint64(b), nil
}

// ReadPointer reads a pointer-sized integer: 8 bytes when is64 is set,
// otherwise 4 bytes zero-extended.
func (c *Cursor) ReadPointer(bo binary.ByteOrder, is64 bool) (uint64, error) {
	if is64 {
		return c.ReadUint64(bo)
	}
	v, err := c.ReadUint32(bo)
	return uint64(v), err
}

// ReadCString scans forward to the next NUL (or end of buffer) and returns
// the string. The cursor is left positioned ON the terminator, not past it;
// consuming the NUL is the caller's explicit step.
func (c *Cursor) ReadCString() (string, error) {
	start := c.off
	for c.off < int64(len(c.data)) && c.data[c.off] != 0 {
		c.off++
	}
	return string(c.data[start:c.off]), nil
}

// ReadString reads exactly length bytes and decodes them as UTF-8, failing
// if the bytes are not valid UTF-8.
func (c *Cursor) ReadString(length int64) (string, error) {
	b, err := c.take(length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		c.off -= length
		return "", fmt.Errorf("invalid UTF-8 string at offset %#x", c.off)
	}
	return string(b), nil
}

// ReadULEB128 decodes an unsigned little-endian base-128 integer.
func (c *Cursor) ReadULEB128() (uint64, error) {
	var result uint64
	var shift uint
	start := c.off
	for {
		b, err := c.ReadByte()
		if err != nil {
			c.off = start
			return 0, err
		}
		if shift >= 64 {
			c.off = start
			return 0, fmt.Errorf("uleb128 overflows uint64 at offset %#x", start)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// ReadSLEB128 decodes a signed little-endian base-128 integer, sign-extending
// from the final byte's sign bit.
func (c *Cursor) ReadSLEB128() (int64, error) {
	var result int64
	var shift uint
	start := c.off
	for {
		b, err := c.ReadByte()
		if err != nil {
			c.off = start
			return 0, err
		}
		if shift >= 64 {
			c.off = start
			return 0, fmt.Errorf("sleb128 overflows int64 at offset %#x", start)
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
}
