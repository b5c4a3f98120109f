package macho

import (
	"fmt"
	"strings"
)

// A VMProt is a segment memory-protection bit mask.
type VMProt uint32

const (
	VMProtRead    VMProt = 0x1
	VMProtWrite   VMProt = 0x2
	VMProtExecute VMProt = 0x4
)

func (p VMProt) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit VMProt
		ch  byte
	}{{VMProtRead, 'r'}, {VMProtWrite, 'w'}, {VMProtExecute, 'x'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.ch)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// SegFlagProtectedV1 marks a segment encrypted with the legacy segment
// protection scheme; deprotect clears it after decryption.
const SegFlagProtectedV1 uint32 = 0x8

// A Segment is a segment load command plus its parsed sections. The same
// structure backs both the 32- and 64-bit commands; Cmd records which one
// was on disk.
type Segment struct {
	LoadBytes
	Cmd      LoadCmd
	Size     uint32
	Name     string
	Addr     uint64
	Memsz    uint64
	Offset   uint64
	Filesz   uint64
	Maxprot  VMProt
	Prot     VMProt
	Nsect    uint32
	Flag     uint32
	Sections []*Section
}

func (s *Segment) Command() LoadCmd    { return s.Cmd }
func (s *Segment) CommandSize() uint32 { return s.Size }

func (s *Segment) String() string {
	return fmt.Sprintf("%-16s addr=%#09x-%#09x off=%#08x-%#08x %s/%s %s",
		s.Name, s.Addr, s.Addr+s.Memsz, s.Offset, s.Offset+s.Filesz,
		s.Prot, s.Maxprot, protectedNote(s.Flag))
}

func protectedNote(flag uint32) string {
	if flag&SegFlagProtectedV1 != 0 {
		return "(protected)"
	}
	return ""
}

// Contains reports whether addr falls inside the segment's vm range.
func (s *Segment) Contains(addr uint64) bool {
	return addr >= s.Addr && addr < s.Addr+s.Memsz
}

// SectionType is the low byte of a section's flags word.
type SectionType uint8

const (
	SectionTypeRegular        SectionType = 0x0
	SectionTypeZeroFill       SectionType = 0x1
	SectionTypeCStringLiterals SectionType = 0x2
	SectionTypeLiteralPointers SectionType = 0x5
	SectionTypeSymbolStubs    SectionType = 0x8
)

// A Section is one typed sub-region of a segment.
type Section struct {
	Name      string
	Seg       string
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
}

// Type returns the section type bits.
func (s *Section) Type() SectionType { return SectionType(s.Flags & 0xff) }

// Contains reports whether addr falls inside the section's vm range.
func (s *Section) Contains(addr uint64) bool {
	return addr >= s.Addr && addr < s.Addr+s.Size
}

func (s *Section) String() string {
	return fmt.Sprintf("%s.%-22s addr=%#09x-%#09x off=%#08x-%#08x",
		s.Seg, s.Name, s.Addr, s.Addr+s.Size, s.Offset, uint64(s.Offset)+s.Size)
}

// trimName undoes the 16-byte NUL padding of on-disk segment/section names.
func trimName(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
