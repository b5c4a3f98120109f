package macho

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/blacktop/classdump/pkg/cursor"
)

var (
	// ErrNotMacho is returned for a buffer that starts with no known magic.
	ErrNotMacho = errors.New("not a Mach-O file")
	// ErrObjcSectionNotFound is returned when a requested __objc_* section
	// is absent from every __DATA-family segment.
	ErrObjcSectionNotFound = errors.New("objc section not found")
)

const (
	fileHeaderSize32 = 28
	fileHeaderSize64 = 32
	segCmdSize32     = 56
	segCmdSize64     = 72
	sectSize32       = 68
	sectSize64       = 80
	nlistSize32      = 12
	nlistSize64      = 16
)

// A File is one parsed architecture slice. It retains its backing buffer by
// reference and is immutable after NewFile returns, so concurrent readers
// need no locking.
type File struct {
	FileHeader
	ByteOrder binary.ByteOrder
	Loads     []Load

	data   []byte
	vma    *VMAddrSpace
	fixups *ChainedFixups
	binds  []Bind
}

// NewFile parses a thin Mach-O slice out of data. The buffer is retained
// and must not be mutated while the File is in use.
func NewFile(data []byte) (*File, error) {
	return NewFileAtOffset(data, 0)
}

// NewFileAtOffset parses a slice whose header sits at offset within data,
// with all load-command file offsets absolute within data. This is the
// shape of images inside a dyld shared cache, where segment offsets are
// cache-file-absolute.
func NewFileAtOffset(data []byte, offset uint64) (*File, error) {
	if offset+fileHeaderSize32 > uint64(len(data)) {
		return nil, ErrNotMacho
	}
	magic := binary.LittleEndian.Uint32(data[offset:])
	bo := ByteOrderOf(magic)
	if bo == nil {
		return nil, ErrNotMacho
	}

	f := &File{ByteOrder: bo, data: data}
	c, err := cursor.New(data, int64(offset))
	if err != nil {
		return nil, err
	}
	if err := f.parseHeader(c); err != nil {
		return nil, err
	}
	if err := f.parseLoads(c); err != nil {
		return nil, err
	}
	if err := f.buildVMA(); err != nil {
		return nil, err
	}
	if err := f.parseFixups(); err != nil {
		return nil, err
	}
	if err := f.parseBinds(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) parseHeader(c *cursor.Cursor) error {
	var err error
	read := func(dst *uint32) {
		if err != nil {
			return
		}
		*dst, err = c.ReadUint32(f.ByteOrder)
	}
	var cpu, sub, typ, flags uint32
	read(&f.Magic)
	read(&cpu)
	read(&sub)
	read(&typ)
	read(&f.Ncmd)
	read(&f.Cmdsz)
	read(&flags)
	if err != nil {
		return formatError(0, "truncated mach header")
	}
	f.CPU = CPU(cpu)
	f.SubCPU = CPUSubtype(sub)
	f.Type = Type(typ)
	f.Flags = Flag(flags)
	if f.Is64bit() {
		if _, err := c.ReadUint32(f.ByteOrder); err != nil {
			return formatError(0, "truncated mach header")
		}
	}
	return nil
}

func (f *File) parseLoads(c *cursor.Cursor) error {
	f.Loads = make([]Load, 0, f.Ncmd)
	for i := uint32(0); i < f.Ncmd; i++ {
		off := c.Offset()
		cmd, err := c.ReadUint32(f.ByteOrder)
		if err != nil {
			return formatError(off, "truncated load command %d of %d", i, f.Ncmd)
		}
		size, err := c.ReadUint32(f.ByteOrder)
		if err != nil {
			return formatError(off, "truncated load command %d of %d", i, f.Ncmd)
		}
		if size < 8 || int64(size) > c.Len()-off {
			return formatError(off, "invalid load command size %d", size)
		}
		body := f.data[off : off+int64(size)]
		load, err := f.parseLoad(LoadCmd(cmd), size, body, off)
		if err != nil {
			return err
		}
		f.Loads = append(f.Loads, load)
		if err := c.Seek(off + int64(size)); err != nil {
			return err
		}
	}
	return nil
}

// require fails parsing when a command's declared size is below its type's
// minimum layout.
func require(cmd LoadCmd, size, min uint32, off int64) error {
	if size < min {
		return formatError(off, "%s size %d below minimum %d", cmd, size, min)
	}
	return nil
}

func (f *File) parseLoad(cmd LoadCmd, size uint32, body []byte, off int64) (Load, error) {
	bo := f.ByteOrder
	switch cmd {
	case LoadCmdSegment, LoadCmdSegment64:
		return f.parseSegment(cmd, size, body, off)

	case LoadCmdSymtab:
		if err := require(cmd, size, 24, off); err != nil {
			return nil, err
		}
		st := &Symtab{
			LoadBytes: body, Size: size,
			Symoff:  bo.Uint32(body[8:]),
			Nsyms:   bo.Uint32(body[12:]),
			Stroff:  bo.Uint32(body[16:]),
			Strsize: bo.Uint32(body[20:]),
		}
		if err := f.parseSymbols(st); err != nil {
			return nil, err
		}
		return st, nil

	case LoadCmdDysymtab:
		if err := require(cmd, size, 80, off); err != nil {
			return nil, err
		}
		return &Dysymtab{
			LoadBytes: body, Size: size,
			Ilocalsym:      bo.Uint32(body[8:]),
			Nlocalsym:      bo.Uint32(body[12:]),
			Iextdefsym:     bo.Uint32(body[16:]),
			Nextdefsym:     bo.Uint32(body[20:]),
			Iundefsym:      bo.Uint32(body[24:]),
			Nundefsym:      bo.Uint32(body[28:]),
			IndirectSymoff: bo.Uint32(body[56:]),
			NindirectSyms:  bo.Uint32(body[60:]),
		}, nil

	case LoadCmdDylib, LoadCmdDylibID, LoadCmdLoadWeakDylib, LoadCmdReexportDylib, LoadCmdLoadUpwardDylib:
		if err := require(cmd, size, 24, off); err != nil {
			return nil, err
		}
		nameOff := bo.Uint32(body[8:])
		if nameOff >= size {
			return nil, formatError(off, "dylib name offset %d outside command", nameOff)
		}
		return &Dylib{
			LoadBytes: body, Cmd: cmd, Size: size,
			Name:           trimName(body[nameOff:]),
			Timestamp:      bo.Uint32(body[12:]),
			CurrentVersion: bo.Uint32(body[16:]),
			CompatVersion:  bo.Uint32(body[20:]),
		}, nil

	case LoadCmdUUID:
		if err := require(cmd, size, 24, off); err != nil {
			return nil, err
		}
		u := &UUID{LoadBytes: body, Size: size}
		copy(u.ID[:], body[8:24])
		return u, nil

	case LoadCmdMain:
		if err := require(cmd, size, 24, off); err != nil {
			return nil, err
		}
		return &EntryPoint{
			LoadBytes: body, Size: size,
			Offset:    bo.Uint64(body[8:]),
			StackSize: bo.Uint64(body[16:]),
		}, nil

	case LoadCmdBuildVersion:
		if err := require(cmd, size, 24, off); err != nil {
			return nil, err
		}
		return &BuildVersion{
			LoadBytes: body, Size: size,
			Platform: Platform(bo.Uint32(body[8:])),
			Minos:    bo.Uint32(body[12:]),
			Sdk:      bo.Uint32(body[16:]),
			Ntools:   bo.Uint32(body[20:]),
		}, nil

	case LoadCmdSourceVersion:
		if err := require(cmd, size, 16, off); err != nil {
			return nil, err
		}
		return &SourceVersion{LoadBytes: body, Size: size, Version: bo.Uint64(body[8:])}, nil

	case LoadCmdEncryptionInfo, LoadCmdEncryptionInfo64:
		if err := require(cmd, size, 20, off); err != nil {
			return nil, err
		}
		return &EncryptionInfo{
			LoadBytes: body, Cmd: cmd, Size: size,
			Offset:  bo.Uint32(body[8:]),
			CryptSz: bo.Uint32(body[12:]),
			CryptID: bo.Uint32(body[16:]),
		}, nil

	case LoadCmdCodeSignature, LoadCmdFunctionStarts, LoadCmdDataInCode,
		LoadCmdDyldExportsTrie, LoadCmdDyldChainedFixups:
		if err := require(cmd, size, 16, off); err != nil {
			return nil, err
		}
		return &LinkEditData{
			LoadBytes: body, Cmd: cmd, Size: size,
			Offset: bo.Uint32(body[8:]),
			Sz:     bo.Uint32(body[12:]),
		}, nil

	case LoadCmdDyldInfo, LoadCmdDyldInfoOnly:
		if err := require(cmd, size, 48, off); err != nil {
			return nil, err
		}
		return &DyldInfo{
			LoadBytes: body, Cmd: cmd, Size: size,
			RebaseOff:    bo.Uint32(body[8:]),
			RebaseSize:   bo.Uint32(body[12:]),
			BindOff:      bo.Uint32(body[16:]),
			BindSize:     bo.Uint32(body[20:]),
			WeakBindOff:  bo.Uint32(body[24:]),
			WeakBindSize: bo.Uint32(body[28:]),
			LazyBindOff:  bo.Uint32(body[32:]),
			LazyBindSize: bo.Uint32(body[36:]),
			ExportOff:    bo.Uint32(body[40:]),
			ExportSize:   bo.Uint32(body[44:]),
		}, nil
	}
	return &UnknownCommand{LoadBytes: body, Cmd: cmd, Size: size}, nil
}

func (f *File) parseSegment(cmd LoadCmd, size uint32, body []byte, off int64) (*Segment, error) {
	bo := f.ByteOrder
	is64 := cmd == LoadCmdSegment64
	minSize, sectSize := uint32(segCmdSize32), uint32(sectSize32)
	if is64 {
		minSize, sectSize = segCmdSize64, sectSize64
	}
	if err := require(cmd, size, minSize, off); err != nil {
		return nil, err
	}
	seg := &Segment{LoadBytes: body, Cmd: cmd, Size: size, Name: trimName(body[8:24])}
	if is64 {
		seg.Addr = bo.Uint64(body[24:])
		seg.Memsz = bo.Uint64(body[32:])
		seg.Offset = bo.Uint64(body[40:])
		seg.Filesz = bo.Uint64(body[48:])
		seg.Maxprot = VMProt(bo.Uint32(body[56:]))
		seg.Prot = VMProt(bo.Uint32(body[60:]))
		seg.Nsect = bo.Uint32(body[64:])
		seg.Flag = bo.Uint32(body[68:])
	} else {
		seg.Addr = uint64(bo.Uint32(body[24:]))
		seg.Memsz = uint64(bo.Uint32(body[28:]))
		seg.Offset = uint64(bo.Uint32(body[32:]))
		seg.Filesz = uint64(bo.Uint32(body[36:]))
		seg.Maxprot = VMProt(bo.Uint32(body[40:]))
		seg.Prot = VMProt(bo.Uint32(body[44:]))
		seg.Nsect = bo.Uint32(body[48:])
		seg.Flag = bo.Uint32(body[52:])
	}
	if uint64(minSize)+uint64(seg.Nsect)*uint64(sectSize) > uint64(size) {
		return nil, formatError(off, "%s declares %d sections but size %d fits fewer", cmd, seg.Nsect, size)
	}
	for i := uint32(0); i < seg.Nsect; i++ {
		b := body[minSize+i*sectSize:]
		sec := &Section{Name: trimName(b[0:16]), Seg: trimName(b[16:32])}
		if is64 {
			sec.Addr = bo.Uint64(b[32:])
			sec.Size = bo.Uint64(b[40:])
			sec.Offset = bo.Uint32(b[48:])
			sec.Align = bo.Uint32(b[52:])
			sec.Reloff = bo.Uint32(b[56:])
			sec.Nreloc = bo.Uint32(b[60:])
			sec.Flags = bo.Uint32(b[64:])
			sec.Reserved1 = bo.Uint32(b[68:])
			sec.Reserved2 = bo.Uint32(b[72:])
		} else {
			sec.Addr = uint64(bo.Uint32(b[32:]))
			sec.Size = uint64(bo.Uint32(b[36:]))
			sec.Offset = bo.Uint32(b[40:])
			sec.Align = bo.Uint32(b[44:])
			sec.Reloff = bo.Uint32(b[48:])
			sec.Nreloc = bo.Uint32(b[52:])
			sec.Flags = bo.Uint32(b[56:])
			sec.Reserved1 = bo.Uint32(b[60:])
			sec.Reserved2 = bo.Uint32(b[64:])
		}
		if sec.Size > 0 && !(sec.Addr >= seg.Addr && sec.Addr+sec.Size <= seg.Addr+seg.Memsz) {
			return nil, formatError(off, "section %s.%s vm range outside segment", sec.Seg, sec.Name)
		}
		seg.Sections = append(seg.Sections, sec)
	}
	return seg, nil
}

func (f *File) parseSymbols(st *Symtab) error {
	if st.Nsyms == 0 {
		return nil
	}
	entrySize := int64(nlistSize32)
	if f.Is64bit() {
		entrySize = nlistSize64
	}
	c, err := cursor.New(f.data, int64(st.Symoff))
	if err != nil {
		return formatError(int64(st.Symoff), "symbol table outside file")
	}
	if c.Remaining() < int64(st.Nsyms)*entrySize {
		return formatError(int64(st.Symoff), "symbol table truncated: %d entries", st.Nsyms)
	}
	strtab := f.data
	strOff := int64(st.Stroff)
	if strOff < 0 || strOff > int64(len(strtab)) {
		return formatError(strOff, "string table outside file")
	}
	st.Syms = make([]Symbol, 0, st.Nsyms)
	for i := uint32(0); i < st.Nsyms; i++ {
		strx, _ := c.ReadUint32(f.ByteOrder)
		typ, _ := c.ReadByte()
		sect, _ := c.ReadByte()
		desc, _ := c.ReadUint16(f.ByteOrder)
		value, err := c.ReadPointer(f.ByteOrder, f.Is64bit())
		if err != nil {
			return err
		}
		var name string
		if nameOff := strOff + int64(strx); nameOff < int64(len(strtab)) {
			nc, _ := cursor.New(strtab, nameOff)
			name, _ = nc.ReadCString()
		}
		st.Syms = append(st.Syms, Symbol{Name: name, Type: typ, Sect: sect, Desc: desc, Value: value})
	}
	return nil
}

// Data returns the slice's backing buffer.
func (f *File) Data() []byte { return f.data }

// Segments returns the slice's segments in load-command order.
func (f *File) Segments() []*Segment {
	var segs []*Segment
	for _, l := range f.Loads {
		if s, ok := l.(*Segment); ok {
			segs = append(segs, s)
		}
	}
	return segs
}

// Segment returns the named segment, or nil.
func (f *File) Segment(name string) *Segment {
	for _, s := range f.Segments() {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Section returns the named section within the named segment, or nil.
func (f *File) Section(seg, sect string) *Section {
	s := f.Segment(seg)
	if s == nil {
		return nil
	}
	for _, sec := range s.Sections {
		if sec.Name == sect {
			return sec
		}
	}
	return nil
}

// DataSection finds sect in any __DATA-family segment (__DATA, __DATA_CONST,
// __DATA_DIRTY). The ObjC lists live in different ones across OS releases.
func (f *File) DataSection(sect string) (*Section, error) {
	for _, s := range f.Segments() {
		if s.Name != "__DATA" && !strings.HasPrefix(s.Name, "__DATA_") {
			continue
		}
		for _, sec := range s.Sections {
			if sec.Name == sect {
				return sec, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrObjcSectionNotFound, sect)
}

// SectionData returns the raw bytes backing sect.
func (f *File) SectionData(sect *Section) ([]byte, error) {
	end := uint64(sect.Offset) + sect.Size
	if end > uint64(len(f.data)) || end < uint64(sect.Offset) {
		return nil, formatError(int64(sect.Offset), "section %s.%s data outside file", sect.Seg, sect.Name)
	}
	return f.data[sect.Offset:end], nil
}

// Symtab returns the symbol table command, or nil.
func (f *File) Symtab() *Symtab {
	for _, l := range f.Loads {
		if st, ok := l.(*Symtab); ok {
			return st
		}
	}
	return nil
}

// DylibID returns the install name from LC_ID_DYLIB, if present.
func (f *File) DylibID() string {
	for _, l := range f.Loads {
		if d, ok := l.(*Dylib); ok && d.Cmd == LoadCmdDylibID {
			return d.Name
		}
	}
	return ""
}

// UUID returns the image UUID command, or nil.
func (f *File) UUID() *UUID {
	for _, l := range f.Loads {
		if u, ok := l.(*UUID); ok {
			return u
		}
	}
	return nil
}

// EncryptionInfo returns the LC_ENCRYPTION_INFO(_64) command, or nil.
func (f *File) EncryptionInfo() *EncryptionInfo {
	for _, l := range f.Loads {
		if e, ok := l.(*EncryptionInfo); ok {
			return e
		}
	}
	return nil
}

// HasObjC reports whether the slice carries ObjC runtime metadata.
func (f *File) HasObjC() bool {
	for _, sect := range []string{"__objc_imageinfo", "__objc_classlist", "__objc_protolist", "__objc_catlist"} {
		if _, err := f.DataSection(sect); err == nil {
			return true
		}
	}
	return false
}

func (f *File) buildVMA() error {
	var regions []Region
	for _, seg := range f.Segments() {
		if len(seg.Sections) == 0 {
			if seg.Filesz > 0 {
				regions = append(regions, Region{VMStart: seg.Addr, Size: seg.Memsz, FileOffset: seg.Offset})
			}
			continue
		}
		for _, sec := range seg.Sections {
			if sec.Size == 0 || sec.Type() == SectionTypeZeroFill {
				continue
			}
			regions = append(regions, Region{VMStart: sec.Addr, Size: sec.Size, FileOffset: uint64(sec.Offset)})
		}
	}
	f.vma = NewVMAddrSpace(regions)
	return nil
}

// GetOffset translates a virtual address to a file offset. ok is false when
// the address is mapped by no section, which callers treat as "unresolved",
// not as an error.
func (f *File) GetOffset(addr uint64) (uint64, bool) {
	return f.vma.GetOffset(addr)
}

// GetVMAddress is the reverse translation.
func (f *File) GetVMAddress(offset uint64) (uint64, bool) {
	return f.vma.GetVMAddress(offset)
}

// GetCString reads the NUL-terminated string at a virtual address.
func (f *File) GetCString(addr uint64) (string, error) {
	off, ok := f.GetOffset(addr)
	if !ok {
		return "", fmt.Errorf("address %#x not mapped", addr)
	}
	c, err := cursor.New(f.data, int64(off))
	if err != nil {
		return "", err
	}
	return c.ReadCString()
}

// CursorAt returns a cursor positioned at the file offset backing addr.
func (f *File) CursorAt(addr uint64) (*cursor.Cursor, error) {
	off, ok := f.GetOffset(addr)
	if !ok {
		return nil, fmt.Errorf("address %#x not mapped", addr)
	}
	return cursor.New(f.data, int64(off))
}
