package macho

import (
	"encoding/binary"

	"github.com/blacktop/classdump/pkg/cursor"
)

// Chained-fixup pointer formats this package decodes. Slots in an
// unrecognized format are left as raw on-disk values.
const (
	ptrFmtArm64e           uint16 = 1
	ptrFmt64               uint16 = 2
	ptrFmt64Offset         uint16 = 6
	ptrFmtArm64eKernel     uint16 = 7
	ptrFmtArm64eUserland   uint16 = 9
	ptrFmtArm64eUserland24 uint16 = 12
)

// Chained-import table formats.
const (
	importFmtPlain    uint32 = 1
	importFmtAddend   uint32 = 2
	importFmtAddend64 uint32 = 3
)

const chainedStartNone uint16 = 0xffff

// A ChainedImport is one entry of the chained-fixups import table.
type ChainedImport struct {
	Name       string
	LibOrdinal int
	Weak       bool
	Addend     int64
}

// ChainedFixups is the decoded LC_DYLD_CHAINED_FIXUPS payload. The pointer
// chains are walked once at parse time into per-slot maps keyed by file
// offset, which is how the ObjC walker addresses them.
type ChainedFixups struct {
	Imports       []ChainedImport
	PointerFormat uint16

	binds   map[uint64]uint32 // slot file offset -> import ordinal
	rebases map[uint64]uint64 // slot file offset -> target vmaddr
}

// HasChainedFixups reports whether the slice uses chained fixups.
func (f *File) HasChainedFixups() bool { return f.fixups != nil }

// SlotBind reports whether the pointer slot at the given file offset is a
// bind to an imported symbol, and if so which one. External references in
// the ObjC metadata (superclasses, protocol refs) surface this way.
func (f *File) SlotBind(offset uint64) (string, bool) {
	if f.fixups == nil {
		return f.opcodeBind(offset)
	}
	ord, ok := f.fixups.binds[offset]
	if !ok || int(ord) >= len(f.fixups.Imports) {
		return "", false
	}
	return f.fixups.Imports[ord].Name, true
}

// SlotPointer resolves the pointer slot at the given file offset: a rebase
// slot yields its decoded target, a bind slot yields zero, and a slot in no
// chain yields the raw on-disk value.
func (f *File) SlotPointer(offset, raw uint64) uint64 {
	if f.fixups == nil {
		return raw
	}
	if _, ok := f.fixups.binds[offset]; ok {
		return 0
	}
	if target, ok := f.fixups.rebases[offset]; ok {
		return target
	}
	return raw
}

// preferredLoadAddress is the vm base the image was linked at: the __TEXT
// segment's address.
func (f *File) preferredLoadAddress() uint64 {
	if seg := f.Segment("__TEXT"); seg != nil {
		return seg.Addr
	}
	return 0
}

func (f *File) parseFixups() error {
	var lc *LinkEditData
	for _, l := range f.Loads {
		if le, ok := l.(*LinkEditData); ok && le.Cmd == LoadCmdDyldChainedFixups {
			lc = le
			break
		}
	}
	if lc == nil {
		return nil
	}
	if uint64(lc.Offset)+uint64(lc.Sz) > uint64(len(f.data)) {
		return formatError(int64(lc.Offset), "chained fixups payload outside file")
	}
	payload := f.data[lc.Offset : uint64(lc.Offset)+uint64(lc.Sz)]
	bo := f.ByteOrder

	c, err := cursor.New(payload, 0)
	if err != nil {
		return err
	}
	var version, startsOff, importsOff, symbolsOff, importsCount, importsFmt uint32
	for _, dst := range []*uint32{&version, &startsOff, &importsOff, &symbolsOff, &importsCount, &importsFmt} {
		if *dst, err = c.ReadUint32(bo); err != nil {
			return formatError(int64(lc.Offset), "truncated chained fixups header")
		}
	}
	if version != 0 {
		return formatError(int64(lc.Offset), "unsupported chained fixups version %d", version)
	}

	cf := &ChainedFixups{
		binds:   make(map[uint64]uint32),
		rebases: make(map[uint64]uint64),
	}
	if err := cf.parseImports(payload, importsOff, symbolsOff, importsCount, importsFmt, bo); err != nil {
		return err
	}
	if err := cf.walkStarts(f, payload, startsOff, bo); err != nil {
		return err
	}
	f.fixups = cf
	return nil
}

func (cf *ChainedFixups) parseImports(payload []byte, importsOff, symbolsOff, count, format uint32, bo binary.ByteOrder) error {
	c, err := cursor.New(payload, int64(importsOff))
	if err != nil {
		return formatError(int64(importsOff), "chained imports outside payload")
	}
	readName := func(nameOff uint64) string {
		nc, err := cursor.New(payload, int64(symbolsOff)+int64(nameOff))
		if err != nil {
			return ""
		}
		s, _ := nc.ReadCString()
		return s
	}
	cf.Imports = make([]ChainedImport, 0, count)
	for i := uint32(0); i < count; i++ {
		var imp ChainedImport
		switch format {
		case importFmtPlain, importFmtAddend:
			raw, err := c.ReadUint32(bo)
			if err != nil {
				return formatError(c.Offset(), "truncated chained import %d", i)
			}
			imp.LibOrdinal = int(int8(raw & 0xff))
			imp.Weak = raw&0x100 != 0
			imp.Name = readName(uint64(raw >> 9))
			if format == importFmtAddend {
				a, err := c.ReadUint32(bo)
				if err != nil {
					return formatError(c.Offset(), "truncated chained import %d", i)
				}
				imp.Addend = int64(int32(a))
			}
		case importFmtAddend64:
			raw, err := c.ReadUint64(bo)
			if err != nil {
				return formatError(c.Offset(), "truncated chained import %d", i)
			}
			a, err := c.ReadUint64(bo)
			if err != nil {
				return formatError(c.Offset(), "truncated chained import %d", i)
			}
			imp.LibOrdinal = int(int16(raw & 0xffff))
			imp.Weak = raw&0x10000 != 0
			imp.Name = readName(raw >> 32)
			imp.Addend = int64(a)
		default:
			return formatError(c.Offset(), "unknown chained import format %d", format)
		}
		cf.Imports = append(cf.Imports, imp)
	}
	return nil
}

func (cf *ChainedFixups) walkStarts(f *File, payload []byte, startsOff uint32, bo binary.ByteOrder) error {
	c, err := cursor.New(payload, int64(startsOff))
	if err != nil {
		return formatError(int64(startsOff), "chained starts outside payload")
	}
	segCount, err := c.ReadUint32(bo)
	if err != nil {
		return formatError(int64(startsOff), "truncated chained starts")
	}
	segInfoOff := make([]uint32, segCount)
	for i := range segInfoOff {
		if segInfoOff[i], err = c.ReadUint32(bo); err != nil {
			return formatError(c.Offset(), "truncated chained starts")
		}
	}
	for _, infoOff := range segInfoOff {
		if infoOff == 0 {
			continue
		}
		if err := cf.walkSegment(f, payload, int64(startsOff)+int64(infoOff), bo); err != nil {
			return err
		}
	}
	return nil
}

func (cf *ChainedFixups) walkSegment(f *File, payload []byte, off int64, bo binary.ByteOrder) error {
	c, err := cursor.New(payload, off)
	if err != nil {
		return formatError(off, "chained segment starts outside payload")
	}
	if _, err := c.ReadUint32(bo); err != nil { // size
		return formatError(off, "truncated chained segment starts")
	}
	pageSize, err := c.ReadUint16(bo)
	if err != nil {
		return formatError(off, "truncated chained segment starts")
	}
	ptrFormat, err := c.ReadUint16(bo)
	if err != nil {
		return formatError(off, "truncated chained segment starts")
	}
	segOffset, err := c.ReadUint64(bo)
	if err != nil {
		return formatError(off, "truncated chained segment starts")
	}
	if _, err := c.ReadUint32(bo); err != nil { // max_valid_pointer
		return formatError(off, "truncated chained segment starts")
	}
	pageCount, err := c.ReadUint16(bo)
	if err != nil {
		return formatError(off, "truncated chained segment starts")
	}
	cf.PointerFormat = ptrFormat

	prefBase := f.preferredLoadAddress()
	for page := uint16(0); page < pageCount; page++ {
		pageStart, err := c.ReadUint16(bo)
		if err != nil {
			return formatError(c.Offset(), "truncated chained page starts")
		}
		if pageStart == chainedStartNone {
			continue
		}
		addr := prefBase + segOffset + uint64(page)*uint64(pageSize) + uint64(pageStart)
		if err := cf.walkChain(f, addr, ptrFormat, prefBase, bo); err != nil {
			return err
		}
	}
	return nil
}

func (cf *ChainedFixups) walkChain(f *File, addr uint64, format uint16, prefBase uint64, bo binary.ByteOrder) error {
	for {
		slotOff, ok := f.GetOffset(addr)
		if !ok || slotOff+8 > uint64(len(f.data)) {
			return nil
		}
		raw := bo.Uint64(f.data[slotOff:])

		var next uint64
		switch format {
		case ptrFmt64, ptrFmt64Offset:
			next = (raw >> 51) & 0xfff // stride 4
			if raw>>63 != 0 {
				cf.binds[slotOff] = uint32(raw & 0xffffff)
			} else {
				target := raw & 0xfffffffff // 36 bits
				target |= ((raw >> 36) & 0xff) << 56
				if format == ptrFmt64Offset {
					target += prefBase
				}
				cf.rebases[slotOff] = target
			}
			next *= 4
		case ptrFmtArm64e, ptrFmtArm64eKernel, ptrFmtArm64eUserland, ptrFmtArm64eUserland24:
			next = (raw >> 51) & 0x7ff
			auth := raw>>63 != 0
			bind := raw>>62 != 0
			switch {
			case bind && format == ptrFmtArm64eUserland24:
				cf.binds[slotOff] = uint32(raw & 0xffffff)
			case bind:
				cf.binds[slotOff] = uint32(raw & 0xffff)
			case auth:
				// auth rebase target is an offset from the image base
				cf.rebases[slotOff] = prefBase + (raw & 0xffffffff)
			default:
				target := raw & 0x7ffffffffff // 43 bits
				target |= ((raw >> 43) & 0xff) << 56
				if format != ptrFmtArm64e {
					target += prefBase
				}
				cf.rebases[slotOff] = target
			}
			stride := uint64(8)
			if format == ptrFmtArm64eKernel {
				stride = 4
			}
			next *= stride
		default:
			return nil
		}
		if next == 0 {
			return nil
		}
		addr += next
	}
}
