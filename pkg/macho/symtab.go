package macho

import "fmt"

// nlist type-field bits.
const (
	NTypeStab uint8 = 0xe0
	NTypePext uint8 = 0x10
	NTypeType uint8 = 0x0e
	NTypeExt  uint8 = 0x01

	NTypeUndf uint8 = 0x0
	NTypeAbs  uint8 = 0x2
	NTypeSect uint8 = 0xe
	NTypePbud uint8 = 0xc
	NTypeIndr uint8 = 0xa
)

// A Symbol is one parsed nlist entry. Value is zero-extended for 32-bit
// slices so sorted-by-value algorithms work across both widths.
type Symbol struct {
	Name  string
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

// IsStab reports whether the symbol is a debugging entry.
func (s *Symbol) IsStab() bool { return s.Type&NTypeStab != 0 }

// IsExternal reports whether the symbol is externally visible.
func (s *Symbol) IsExternal() bool { return s.Type&NTypeExt != 0 }

// IsPrivateExternal reports whether the symbol is visible only within the
// image despite being external in the object file.
func (s *Symbol) IsPrivateExternal() bool { return s.Type&NTypePext != 0 }

// IsUndefined reports whether the symbol is resolved by another image.
func (s *Symbol) IsUndefined() bool {
	return !s.IsStab() && s.Type&NTypeType == NTypeUndf
}

// IsDefinedInSection reports whether the symbol lives in a section of this
// image.
func (s *Symbol) IsDefinedInSection() bool {
	return !s.IsStab() && s.Type&NTypeType == NTypeSect
}

// LibraryOrdinal returns the two-level-namespace library ordinal packed into
// the descriptor of an undefined symbol.
func (s *Symbol) LibraryOrdinal() int { return int(s.Desc >> 8) }

func (s *Symbol) String() string {
	var kind byte
	switch {
	case s.IsStab():
		kind = '-'
	case s.IsUndefined():
		kind = 'U'
	case s.Type&NTypeType == NTypeAbs:
		kind = 'A'
	case s.IsDefinedInSection():
		kind = 'T'
	default:
		kind = '?'
	}
	if kind != 'U' && kind != '-' && !s.IsExternal() {
		kind += 'a' - 'A'
	}
	return fmt.Sprintf("%016x %c %s", s.Value, kind, s.Name)
}
