package macho

import (
	"github.com/blacktop/classdump/pkg/cursor"
)

// Classic dyld bind opcodes (LC_DYLD_INFO). Older binaries encode external
// pointer slots this way instead of with chained fixups.
const (
	bindOpcodeMask    uint8 = 0xf0
	bindImmediateMask uint8 = 0x0f

	bindOpcodeDone                 uint8 = 0x00
	bindOpcodeSetDylibOrdinalImm   uint8 = 0x10
	bindOpcodeSetDylibOrdinalULEB  uint8 = 0x20
	bindOpcodeSetDylibSpecialImm   uint8 = 0x30
	bindOpcodeSetSymbolFlagsImm    uint8 = 0x40
	bindOpcodeSetTypeImm           uint8 = 0x50
	bindOpcodeSetAddendSLEB        uint8 = 0x60
	bindOpcodeSetSegmentOffsetULEB uint8 = 0x70
	bindOpcodeAddAddrULEB          uint8 = 0x80
	bindOpcodeDoBind               uint8 = 0x90
	bindOpcodeDoBindAddAddrULEB    uint8 = 0xa0
	bindOpcodeDoBindAddAddrImm     uint8 = 0xb0
	bindOpcodeDoBindULEBSkipping   uint8 = 0xc0
)

// A Bind records one classic bind: the slot at Off (file offset) / Addr
// (vmaddr) is rewritten at load time to the named imported symbol.
type Bind struct {
	Name       string
	Addr       uint64
	Off        uint64
	LibOrdinal int
	Addend     int64
}

// Binds returns the classic opcode binds, empty for chained-fixup binaries.
func (f *File) Binds() []Bind { return f.binds }

// opcodeBind is the pre-chained-fixups half of SlotBind.
func (f *File) opcodeBind(offset uint64) (string, bool) {
	for i := range f.binds {
		if f.binds[i].Off == offset {
			return f.binds[i].Name, true
		}
	}
	return "", false
}

func (f *File) parseBinds() error {
	var di *DyldInfo
	for _, l := range f.Loads {
		if d, ok := l.(*DyldInfo); ok {
			di = d
			break
		}
	}
	if di == nil {
		return nil
	}
	segs := f.Segments()
	for _, tbl := range []struct {
		off, size uint32
		lazy      bool
	}{
		{di.BindOff, di.BindSize, false},
		{di.LazyBindOff, di.LazyBindSize, true},
		{di.WeakBindOff, di.WeakBindSize, false},
	} {
		if tbl.size == 0 {
			continue
		}
		if uint64(tbl.off)+uint64(tbl.size) > uint64(len(f.data)) {
			return formatError(int64(tbl.off), "bind table outside file")
		}
		binds, err := f.runBindOpcodes(f.data[tbl.off:uint64(tbl.off)+uint64(tbl.size)], segs, tbl.lazy)
		if err != nil {
			return err
		}
		f.binds = append(f.binds, binds...)
	}
	return nil
}

func (f *File) runBindOpcodes(table []byte, segs []*Segment, lazy bool) ([]Bind, error) {
	c, err := cursor.New(table, 0)
	if err != nil {
		return nil, err
	}
	ptrSize := uint64(4)
	if f.Is64bit() {
		ptrSize = 8
	}

	var binds []Bind
	var symbol string
	var libOrdinal int
	var addend int64
	var segIndex int = -1
	var segOffset uint64

	record := func() {
		if segIndex < 0 || segIndex >= len(segs) {
			return
		}
		seg := segs[segIndex]
		binds = append(binds, Bind{
			Name:       symbol,
			Addr:       seg.Addr + segOffset,
			Off:        seg.Offset + segOffset,
			LibOrdinal: libOrdinal,
			Addend:     addend,
		})
	}

	for c.Remaining() > 0 {
		b, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		imm := b & bindImmediateMask
		switch b & bindOpcodeMask {
		case bindOpcodeDone:
			// in the lazy table DONE just separates entries
			if !lazy {
				return binds, nil
			}
		case bindOpcodeSetDylibOrdinalImm:
			libOrdinal = int(imm)
		case bindOpcodeSetDylibOrdinalULEB:
			v, err := c.ReadULEB128()
			if err != nil {
				return nil, err
			}
			libOrdinal = int(v)
		case bindOpcodeSetDylibSpecialImm:
			if imm == 0 {
				libOrdinal = 0
			} else {
				// sign-extend the 4-bit special ordinals
				libOrdinal = int(int8(bindOpcodeMask | imm))
			}
		case bindOpcodeSetSymbolFlagsImm:
			s, err := c.ReadCString()
			if err != nil {
				return nil, err
			}
			symbol = s
			if err := c.Advance(1); err != nil {
				return nil, err
			}
		case bindOpcodeSetTypeImm:
			// pointer/absolute32 bind type, unused here
		case bindOpcodeSetAddendSLEB:
			if addend, err = c.ReadSLEB128(); err != nil {
				return nil, err
			}
		case bindOpcodeSetSegmentOffsetULEB:
			segIndex = int(imm)
			if segOffset, err = c.ReadULEB128(); err != nil {
				return nil, err
			}
		case bindOpcodeAddAddrULEB:
			v, err := c.ReadULEB128()
			if err != nil {
				return nil, err
			}
			segOffset += v
		case bindOpcodeDoBind:
			record()
			segOffset += ptrSize
		case bindOpcodeDoBindAddAddrULEB:
			record()
			v, err := c.ReadULEB128()
			if err != nil {
				return nil, err
			}
			segOffset += v + ptrSize
		case bindOpcodeDoBindAddAddrImm:
			record()
			segOffset += uint64(imm)*ptrSize + ptrSize
		case bindOpcodeDoBindULEBSkipping:
			count, err := c.ReadULEB128()
			if err != nil {
				return nil, err
			}
			skip, err := c.ReadULEB128()
			if err != nil {
				return nil, err
			}
			for i := uint64(0); i < count; i++ {
				record()
				segOffset += skip + ptrSize
			}
		default:
			return nil, formatError(c.Offset(), "unknown bind opcode %#x", b)
		}
	}
	return binds, nil
}
