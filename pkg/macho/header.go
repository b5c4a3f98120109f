package macho

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Mach-O magics. The fat wrapper is always big-endian; thin slices carry
// their own byte order, signalled by the byte-swapped "cigam" forms.
const (
	Magic32    uint32 = 0xfeedface
	Magic64    uint32 = 0xfeedfacf
	MagicFat   uint32 = 0xcafebabe
	Cigam32    uint32 = 0xcefaedfe
	Cigam64    uint32 = 0xcffaedfe
	CigamFat   uint32 = 0xbebafeca
	MagicFat64 uint32 = 0xcafebabf
)

// A Type is a Mach-O file type.
type Type uint32

const (
	TypeObj        Type = 1
	TypeExec       Type = 2
	TypeCore       Type = 4
	TypeDylib      Type = 6
	TypeDylinker   Type = 7
	TypeBundle     Type = 8
	TypeDsym       Type = 10
	TypeKextBundle Type = 11
	TypeFileSet    Type = 12
)

var typeStrings = []intName{
	{uint32(TypeObj), "Obj"},
	{uint32(TypeExec), "Exec"},
	{uint32(TypeCore), "Core"},
	{uint32(TypeDylib), "Dylib"},
	{uint32(TypeDylinker), "Dylinker"},
	{uint32(TypeBundle), "Bundle"},
	{uint32(TypeDsym), "Dsym"},
	{uint32(TypeKextBundle), "KextBundle"},
	{uint32(TypeFileSet), "FileSet"},
}

func (t Type) String() string   { return stringName(uint32(t), typeStrings, false) }
func (t Type) GoString() string { return stringName(uint32(t), typeStrings, true) }

// A Flag is a Mach-O header flag bit.
type Flag uint32

const (
	FlagNoUndefs      Flag = 0x1
	FlagDyldLink      Flag = 0x4
	FlagTwoLevel      Flag = 0x80
	FlagPIE           Flag = 0x200000
	FlagAppExtSafe    Flag = 0x2000000
	FlagNoHeapExec    Flag = 0x1000000
	FlagDylibInCache  Flag = 0x80000000
	FlagSimSupport    Flag = 0x8000000
)

var flagNames = []intName{
	{uint32(FlagNoUndefs), "NoUndefs"},
	{uint32(FlagDyldLink), "DyldLink"},
	{uint32(FlagTwoLevel), "TwoLevel"},
	{uint32(FlagPIE), "PIE"},
	{uint32(FlagNoHeapExec), "NoHeapExec"},
	{uint32(FlagAppExtSafe), "AppExtSafe"},
	{uint32(FlagSimSupport), "SimSupport"},
	{uint32(FlagDylibInCache), "DylibInCache"},
}

// List returns the names of the flag bits that are set.
func (f Flag) List() []string {
	var names []string
	for _, n := range flagNames {
		if uint32(f)&n.I != 0 {
			names = append(names, n.S)
		}
	}
	return names
}

func (f Flag) String() string { return strings.Join(f.List(), ", ") }

// A FileHeader is the fixed-size header at the start of a thin Mach-O slice.
// The 64-bit form carries a trailing reserved word not represented here.
type FileHeader struct {
	Magic  uint32
	CPU    CPU
	SubCPU CPUSubtype
	Type   Type
	Ncmd   uint32
	Cmdsz  uint32
	Flags  Flag
}

// Arch returns the header's architecture pair.
func (h *FileHeader) Arch() Arch { return Arch{h.CPU, h.SubCPU} }

// Is64bit reports whether the header describes a 64-bit slice.
func (h *FileHeader) Is64bit() bool { return h.Magic == Magic64 || h.Magic == Cigam64 }

func (h *FileHeader) String() string {
	return fmt.Sprintf("%s %s, flags: %s", h.Arch(), h.Type, h.Flags)
}

// ByteOrderOf returns the byte order a thin magic implies, or nil for an
// unrecognized magic.
func ByteOrderOf(magic uint32) binary.ByteOrder {
	switch magic {
	case Magic32, Magic64:
		return binary.LittleEndian
	case Cigam32, Cigam64:
		return binary.BigEndian
	}
	return nil
}

// A FormatError reports a structural problem in the file being parsed. The
// offset is relative to the start of the slice.
type FormatError struct {
	Offset int64
	Msg    string
	Val    any
}

func (e *FormatError) Error() string {
	msg := e.Msg
	if e.Val != nil {
		msg += fmt.Sprintf(" '%v'", e.Val)
	}
	return msg + fmt.Sprintf(" in record at byte %#x", e.Offset)
}

func formatError(off int64, format string, args ...any) *FormatError {
	return &FormatError{Offset: off, Msg: fmt.Sprintf(format, args...)}
}
