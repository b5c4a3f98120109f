package cursor

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestReadIntsBothEndians(t *testing.T) {
	tests := []struct {
		name string
		le   []byte
		be   []byte
		want uint64
		size int
	}{
		{"uint16", []byte{0x34, 0x12}, []byte{0x12, 0x34}, 0x1234, 2},
		{"uint32", []byte{0x78, 0x56, 0x34, 0x12}, []byte{0x12, 0x34, 0x56, 0x78}, 0x12345678, 4},
		{"uint64",
			[]byte{0xef, 0xcd, 0xab, 0x89, 0x67, 0x45, 0x23, 0x01},
			[]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef},
			0x0123456789abcdef, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			read := func(data []byte, bo binary.ByteOrder) uint64 {
				c, err := New(data, 0)
				if err != nil {
					t.Fatal(err)
				}
				var got uint64
				switch tt.size {
				case 2:
					v, err := c.ReadUint16(bo)
					if err != nil {
						t.Fatal(err)
					}
					got = uint64(v)
				case 4:
					v, err := c.ReadUint32(bo)
					if err != nil {
						t.Fatal(err)
					}
					got = uint64(v)
				case 8:
					v, err := c.ReadUint64(bo)
					if err != nil {
						t.Fatal(err)
					}
					got = v
				}
				if c.Offset() != int64(tt.size) {
					t.Errorf("offset = %d, want %d", c.Offset(), tt.size)
				}
				return got
			}
			if got := read(tt.le, binary.LittleEndian); got != tt.want {
				t.Errorf("little-endian: got %#x, want %#x", got, tt.want)
			}
			if got := read(tt.be, binary.BigEndian); got != tt.want {
				t.Errorf("big-endian: got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestReadPastEndFailsWithoutMoving(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	c, err := New(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadUint32(binary.LittleEndian); err == nil {
		t.Fatal("expected insufficient data error")
	}
	var ide *InsufficientDataError
	_, err = c.ReadUint64(binary.LittleEndian)
	if !errors.As(err, &ide) {
		t.Fatalf("expected InsufficientDataError, got %T", err)
	}
	if ide.Needed != 8 || ide.Available != 3 {
		t.Errorf("needed/available = %d/%d, want 8/3", ide.Needed, ide.Available)
	}
	if c.Offset() != 0 {
		t.Errorf("failed read moved the cursor to %d", c.Offset())
	}
	// successful partial reads still work afterwards
	if v, err := c.ReadUint16(binary.BigEndian); err != nil || v != 0x0102 {
		t.Errorf("ReadUint16 = %#x, %v", v, err)
	}
}

func TestNewOutOfBounds(t *testing.T) {
	if _, err := New([]byte{1, 2}, 3); err == nil {
		t.Fatal("expected out of bounds error")
	}
	var oob *OutOfBoundsError
	_, err := New([]byte{1, 2}, -1)
	if !errors.As(err, &oob) {
		t.Fatalf("expected OutOfBoundsError, got %T", err)
	}
}

func TestSeekAndAdvance(t *testing.T) {
	c, _ := New(make([]byte, 10), 0)
	if err := c.Seek(10); err != nil { // end of buffer is a legal position
		t.Fatal(err)
	}
	if err := c.Seek(11); err == nil {
		t.Fatal("seek past end should fail")
	}
	if err := c.Advance(-11); err == nil {
		t.Fatal("advance before start should fail")
	}
	if err := c.Advance(-10); err != nil {
		t.Fatal(err)
	}
	if c.Offset() != 0 {
		t.Errorf("offset = %d, want 0", c.Offset())
	}
}

func TestReadCStringStopsAtTerminator(t *testing.T) {
	c, _ := New([]byte("hello\x00world"), 0)
	s, err := c.ReadCString()
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello" {
		t.Errorf("got %q, want %q", s, "hello")
	}
	// cursor sits on the NUL; consuming it is explicit
	if c.Offset() != 5 {
		t.Errorf("offset = %d, want 5", c.Offset())
	}
	if err := c.Advance(1); err != nil {
		t.Fatal(err)
	}
	s, _ = c.ReadCString()
	if s != "world" {
		t.Errorf("got %q, want %q", s, "world")
	}
}

func TestReadCStringUnterminated(t *testing.T) {
	c, _ := New([]byte("abc"), 0)
	s, err := c.ReadCString()
	if err != nil {
		t.Fatal(err)
	}
	if s != "abc" || c.Offset() != 3 {
		t.Errorf("got %q at offset %d", s, c.Offset())
	}
}

func TestULEB128(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}
	for _, tt := range tests {
		c, _ := New(tt.in, 0)
		got, err := c.ReadULEB128()
		if err != nil {
			t.Fatalf("%v: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%v: got %d, want %d", tt.in, got, tt.want)
		}
		if c.Remaining() != 0 {
			t.Errorf("%v: %d bytes left unread", tt.in, c.Remaining())
		}
	}
}

func TestSLEB128(t *testing.T) {
	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x3f}, 63},
		{[]byte{0x7f}, -1},
		{[]byte{0x40}, -64},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0x00}, 0},
	}
	for _, tt := range tests {
		c, _ := New(tt.in, 0)
		got, err := c.ReadSLEB128()
		if err != nil {
			t.Fatalf("%v: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%v: got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLEB128Truncated(t *testing.T) {
	c, _ := New([]byte{0x80}, 0) // continuation bit set, no next byte
	if _, err := c.ReadULEB128(); err == nil {
		t.Fatal("expected error for truncated uleb128")
	}
	if c.Offset() != 0 {
		t.Errorf("failed read moved the cursor to %d", c.Offset())
	}
	c2, _ := New([]byte{0xff, 0x80}, 0)
	if _, err := c2.ReadSLEB128(); err == nil {
		t.Fatal("expected error for truncated sleb128")
	}
}

func TestReadString(t *testing.T) {
	c, _ := New([]byte("caf\xc3\xa9!"), 0)
	s, err := c.ReadString(5)
	if err != nil {
		t.Fatal(err)
	}
	if s != "café" {
		t.Errorf("got %q", s)
	}
	if _, err := c.ReadString(2); err == nil {
		t.Fatal("expected insufficient data")
	}
	bad, _ := New([]byte{0xff, 0xfe}, 0)
	if _, err := bad.ReadString(2); err == nil {
		t.Fatal("expected invalid UTF-8 error")
	}
}
