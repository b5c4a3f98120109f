package macho

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/blacktop/classdump/pkg/cursor"
)

// ErrArchNotFound is returned when a fat file has no slice for the
// requested architecture; it carries the request for the message.
type ErrArchNotFound struct {
	Arch string
}

func (e *ErrArchNotFound) Error() string {
	return fmt.Sprintf("architecture %s not found in fat file", e.Arch)
}

// A FatArch is one slice descriptor from the fat header. All header fields
// are big-endian regardless of the slice's own byte order.
type FatArch struct {
	Arch
	Offset uint64
	Size   uint64
	Align  uint32
}

// A FatFile is a universal binary: a big-endian header plus N slice
// descriptors over one backing buffer. Slices parse lazily via Slice.
type FatFile struct {
	Magic  uint32
	Arches []FatArch

	data   []byte
	slices []*File
}

// NewFatFile parses the fat wrapper. Slice byte ranges are validated
// against the buffer; overlap between slices is tolerated (the format does
// not forbid it and rejecting it would refuse real hand-built binaries).
func NewFatFile(data []byte) (*FatFile, error) {
	c, err := cursor.New(data, 0)
	if err != nil {
		return nil, err
	}
	magic, err := c.ReadUint32(binary.BigEndian)
	if err != nil || (magic != MagicFat && magic != MagicFat64) {
		return nil, ErrNotMacho
	}
	narch, err := c.ReadUint32(binary.BigEndian)
	if err != nil {
		return nil, formatError(c.Offset(), "truncated fat header")
	}
	if narch == 0 {
		return nil, formatError(0, "fat file with no architectures")
	}
	is64 := magic == MagicFat64
	ff := &FatFile{Magic: magic, data: data, Arches: make([]FatArch, 0, narch)}
	ff.slices = make([]*File, narch)
	for i := uint32(0); i < narch; i++ {
		var fa FatArch
		cpu, err := c.ReadUint32(binary.BigEndian)
		if err != nil {
			return nil, formatError(c.Offset(), "truncated fat arch %d", i)
		}
		sub, err := c.ReadUint32(binary.BigEndian)
		if err != nil {
			return nil, formatError(c.Offset(), "truncated fat arch %d", i)
		}
		fa.CPU = CPU(cpu)
		fa.SubCPU = CPUSubtype(sub)
		fa.Offset, err = c.ReadPointer(binary.BigEndian, is64)
		if err != nil {
			return nil, formatError(c.Offset(), "truncated fat arch %d", i)
		}
		fa.Size, err = c.ReadPointer(binary.BigEndian, is64)
		if err != nil {
			return nil, formatError(c.Offset(), "truncated fat arch %d", i)
		}
		fa.Align, err = c.ReadUint32(binary.BigEndian)
		if err != nil {
			return nil, formatError(c.Offset(), "truncated fat arch %d", i)
		}
		if is64 {
			if _, err := c.ReadUint32(binary.BigEndian); err != nil { // reserved
				return nil, formatError(c.Offset(), "truncated fat arch %d", i)
			}
		}
		if fa.Offset+fa.Size > uint64(len(data)) || fa.Offset+fa.Size < fa.Offset {
			return nil, formatError(c.Offset(), "fat arch %s range %#x+%#x outside file", fa.Arch, fa.Offset, fa.Size)
		}
		ff.Arches = append(ff.Arches, fa)
	}
	return ff, nil
}

// Slice parses (once) and returns the i'th architecture slice.
func (ff *FatFile) Slice(i int) (*File, error) {
	if i < 0 || i >= len(ff.Arches) {
		return nil, fmt.Errorf("fat slice index %d out of range", i)
	}
	if ff.slices[i] != nil {
		return ff.slices[i], nil
	}
	fa := ff.Arches[i]
	f, err := NewFile(ff.data[fa.Offset : fa.Offset+fa.Size])
	if err != nil {
		return nil, fmt.Errorf("parsing %s slice: %w", fa.Arch, err)
	}
	ff.slices[i] = f
	return f, nil
}

// SliceFor returns the slice matching a canonical architecture name.
func (ff *FatFile) SliceFor(name string) (*File, error) {
	want, ok := ArchFromName(name)
	if !ok {
		return nil, &ErrArchNotFound{Arch: name}
	}
	i, ok := ff.bestIndex(want)
	if !ok {
		return nil, &ErrArchNotFound{Arch: name}
	}
	return ff.Slice(i)
}

// BestMatch returns the slice best matching want: an exact (masked) subtype
// match wins, then any slice of the same cpu family, ties broken by first
// occurrence.
func (ff *FatFile) BestMatch(want Arch) (*File, error) {
	i, ok := ff.bestIndex(want)
	if !ok {
		return nil, &ErrArchNotFound{Arch: want.String()}
	}
	return ff.Slice(i)
}

func (ff *FatFile) bestIndex(want Arch) (int, bool) {
	family := -1
	for i, fa := range ff.Arches {
		if fa.Arch.Equal(want) {
			return i, true
		}
		if fa.CPU == want.CPU && family < 0 {
			family = i
		}
	}
	if family >= 0 {
		return family, true
	}
	return -1, false
}

// A Binary is either a thin slice or a fat container.
type Binary struct {
	Thin *File
	Fat  *FatFile
}

// Parse reads any Mach-O input, thin or fat.
func Parse(data []byte) (*Binary, error) {
	if len(data) < 4 {
		return nil, ErrNotMacho
	}
	switch binary.BigEndian.Uint32(data[:4]) {
	case MagicFat, MagicFat64:
		ff, err := NewFatFile(data)
		if err != nil {
			return nil, err
		}
		return &Binary{Fat: ff}, nil
	}
	f, err := NewFile(data)
	if err != nil {
		return nil, err
	}
	return &Binary{Thin: f}, nil
}

// Open reads and parses the Mach-O file at path.
func Open(path string) (*Binary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// ArchNames lists the binary's slice names, a single entry for a thin file.
func (b *Binary) ArchNames() []string {
	if b.Fat == nil {
		return []string{b.Thin.Arch().String()}
	}
	names := make([]string, len(b.Fat.Arches))
	for i, fa := range b.Fat.Arches {
		names[i] = fa.Arch.String()
	}
	return names
}

// Best resolves the binary to one slice: the thin slice as-is, or the fat
// slice best matching the local machine.
func (b *Binary) Best() (*File, error) {
	if b.Fat == nil {
		return b.Thin, nil
	}
	return b.Fat.BestMatch(LocalArch())
}
