package objc

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"github.com/blacktop/classdump/internal/cache"
	"github.com/blacktop/classdump/pkg/cursor"
	"github.com/blacktop/classdump/pkg/macho"
)

// class data-pointer fast flags
const (
	fastIsSwiftMask uint64 = 0x3 // legacy | stable Swift bit
	fastDataMask64  uint64 = 0x00007ffffffffff8
	fastDataMask32  uint64 = 0xfffffffc
)

// class_ro_t flags
const (
	roMeta uint32 = 0x1
	roRoot uint32 = 0x2
)

// method-list entsize header bits
const (
	smallMethodListFlag         uint32 = 0x80000000
	relativeSelectorsDirectFlag uint32 = 0x40000000
	methodListSizeMask          uint32 = 0x0000fffc
)

// sanity bound on list counts; a count past this is a mangled header, not a
// real runtime list
const maxListCount = 0x100000

// A Processor reconstructs one image's ObjC metadata. It is single-use:
// create, run Process or Stream once, read Skipped.
type Processor struct {
	f       *macho.File
	is64    bool
	ptrSize uint64

	strings *cache.Interner
	skipped int

	// resolveSelector handles selector references that point outside the
	// image, the dyld shared cache case. Unset means such entries are
	// counted as skipped.
	resolveSelector func(addr uint64) (string, bool)
}

// NewProcessor returns a processor over a parsed slice.
func NewProcessor(f *macho.File) *Processor {
	ptrSize := uint64(4)
	if f.Is64bit() {
		ptrSize = 8
	}
	return &Processor{
		f:       f,
		is64:    f.Is64bit(),
		ptrSize: ptrSize,
		strings: cache.NewInterner(0),
	}
}

// SetSelectorResolver installs a fallback lookup for selector references
// outside the image.
func (p *Processor) SetSelectorResolver(fn func(addr uint64) (string, bool)) {
	p.resolveSelector = fn
}

// Skipped returns the count of entries that were recognized but not
// resolvable, so callers can tell a partial result from a complete one.
func (p *Processor) Skipped() int { return p.skipped }

// An Item is one streamed discovery; exactly one payload field is set,
// matching Phase.
type Item struct {
	Phase     string // "image-info", "classes", "protocols", "categories"
	Class     *Class
	Protocol  *Protocol
	Category  *Category
	ImageInfo *ImageInfo
}

// Process walks the image and returns the complete aggregate.
func (p *Processor) Process() (*Metadata, error) {
	md := &Metadata{}
	err := p.Stream(context.Background(), func(it Item) error {
		switch it.Phase {
		case "image-info":
			md.ImageInfo = it.ImageInfo
		case "classes":
			md.Classes = append(md.Classes, it.Class)
		case "protocols":
			md.Protocols = append(md.Protocols, it.Protocol)
		case "categories":
			md.Categories = append(md.Categories, it.Category)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	md.Skipped = p.skipped
	return md, nil
}

// Stream walks the image emitting items as they are discovered. The item
// set matches Process; only the ordering contract is weaker. Emitting stops
// when ctx is cancelled or emit returns an error.
func (p *Processor) Stream(ctx context.Context, emit func(Item) error) error {
	if info, err := p.imageInfo(); err == nil && info != nil {
		if err := emit(Item{Phase: "image-info", ImageInfo: info}); err != nil {
			return err
		}
	}
	if err := p.streamClasses(ctx, emit); err != nil {
		return err
	}
	if err := p.streamProtocols(ctx, emit); err != nil {
		return err
	}
	return p.streamCategories(ctx, emit)
}

func (p *Processor) imageInfo() (*ImageInfo, error) {
	sect, err := p.f.DataSection("__objc_imageinfo")
	if err != nil {
		return nil, err
	}
	data, err := p.f.SectionData(sect)
	if err != nil {
		return nil, err
	}
	c, err := cursor.New(data, 0)
	if err != nil {
		return nil, err
	}
	info := &ImageInfo{}
	if info.Version, err = c.ReadUint32(p.f.ByteOrder); err != nil {
		return nil, err
	}
	if info.Flags, err = c.ReadUint32(p.f.ByteOrder); err != nil {
		return nil, err
	}
	return info, nil
}

// listSlots iterates the pointer array of a list section, resolving each
// slot through the fixup maps. A missing section is not an error: the image
// simply has none of that entity.
func (p *Processor) listSlots(section string, visit func(addr uint64) error) error {
	sect, err := p.f.DataSection(section)
	if err != nil {
		return nil
	}
	count := sect.Size / p.ptrSize
	for i := uint64(0); i < count; i++ {
		slotOff := uint64(sect.Offset) + i*p.ptrSize
		c, err := cursor.New(p.f.Data(), int64(slotOff))
		if err != nil {
			return err
		}
		raw, err := c.ReadPointer(p.f.ByteOrder, p.is64)
		if err != nil {
			return err
		}
		addr := p.f.SlotPointer(slotOff, raw)
		if addr == 0 {
			continue
		}
		if err := visit(addr); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) streamClasses(ctx context.Context, emit func(Item) error) error {
	return p.listSlots("__objc_classlist", func(addr uint64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cls, err := p.parseClass(addr)
		if err != nil {
			log.Debugf("skipping class at %#x: %v", addr, err)
			p.skipped++
			return nil
		}
		return emit(Item{Phase: "classes", Class: cls})
	})
}

func (p *Processor) streamProtocols(ctx context.Context, emit func(Item) error) error {
	return p.listSlots("__objc_protolist", func(addr uint64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		proto, err := p.parseProtocol(addr, map[uint64]bool{})
		if err != nil {
			log.Debugf("skipping protocol at %#x: %v", addr, err)
			p.skipped++
			return nil
		}
		return emit(Item{Phase: "protocols", Protocol: proto})
	})
}

func (p *Processor) streamCategories(ctx context.Context, emit func(Item) error) error {
	return p.listSlots("__objc_catlist", func(addr uint64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cat, err := p.parseCategory(addr)
		if err != nil {
			log.Debugf("skipping category at %#x: %v", addr, err)
			p.skipped++
			return nil
		}
		return emit(Item{Phase: "categories", Category: cat})
	})
}

// readPointer reads the pointer slot at the cursor, resolving chained
// fixups by the slot's file offset.
func (p *Processor) readPointer(c *cursor.Cursor) (uint64, error) {
	slotOff := uint64(c.Offset())
	raw, err := c.ReadPointer(p.f.ByteOrder, p.is64)
	if err != nil {
		return 0, err
	}
	return p.f.SlotPointer(slotOff, raw), nil
}

func (p *Processor) pointerAt(addr uint64) (uint64, error) {
	c, err := p.f.CursorAt(addr)
	if err != nil {
		return 0, err
	}
	return p.readPointer(c)
}

func (p *Processor) stringAt(addr uint64) (string, error) {
	s, err := p.f.GetCString(addr)
	if err != nil {
		return "", err
	}
	return p.strings.Intern(s), nil
}

// slotOffset translates a structure field's vm address to the file offset
// used to key the fixup maps.
func (p *Processor) slotOffset(addr uint64) (uint64, bool) {
	return p.f.GetOffset(addr)
}

type classRO struct {
	flags          uint32
	instanceStart  uint32
	instanceSize   uint32
	name           uint64
	baseMethods    uint64
	baseProtocols  uint64
	ivars          uint64
	baseProperties uint64
}

func (p *Processor) parseClassRO(addr uint64) (*classRO, error) {
	c, err := p.f.CursorAt(addr)
	if err != nil {
		return nil, err
	}
	ro := &classRO{}
	bo := p.f.ByteOrder
	if ro.flags, err = c.ReadUint32(bo); err != nil {
		return nil, err
	}
	if ro.instanceStart, err = c.ReadUint32(bo); err != nil {
		return nil, err
	}
	if ro.instanceSize, err = c.ReadUint32(bo); err != nil {
		return nil, err
	}
	if p.is64 {
		if _, err = c.ReadUint32(bo); err != nil { // reserved
			return nil, err
		}
	}
	if _, err = p.readPointer(c); err != nil { // ivarLayout
		return nil, err
	}
	for _, dst := range []*uint64{&ro.name, &ro.baseMethods, &ro.baseProtocols, &ro.ivars} {
		if *dst, err = p.readPointer(c); err != nil {
			return nil, err
		}
	}
	if _, err = p.readPointer(c); err != nil { // weakIvarLayout
		return nil, err
	}
	if ro.baseProperties, err = p.readPointer(c); err != nil {
		return nil, err
	}
	return ro, nil
}

func (p *Processor) parseClass(addr uint64) (*Class, error) {
	c, err := p.f.CursorAt(addr)
	if err != nil {
		return nil, err
	}
	isa, err := p.readPointer(c)
	if err != nil {
		return nil, err
	}
	superSlot := uint64(c.Offset())
	super, err := p.readPointer(c)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 2; i++ { // cache, vtable
		if _, err = p.readPointer(c); err != nil {
			return nil, err
		}
	}
	dataSlot := uint64(c.Offset())
	dataRaw, err := c.ReadPointer(p.f.ByteOrder, p.is64)
	if err != nil {
		return nil, err
	}
	swift := dataRaw&fastIsSwiftMask != 0
	dataPtr := p.f.SlotPointer(dataSlot, dataRaw)
	mask := fastDataMask32
	if p.is64 {
		mask = fastDataMask64
	}
	dataPtr &= mask
	if dataPtr == 0 {
		return nil, fmt.Errorf("class has no data pointer")
	}
	ro, err := p.parseClassRO(dataPtr)
	if err != nil {
		return nil, fmt.Errorf("class_ro at %#x: %w", dataPtr, err)
	}
	name, err := p.stringAt(ro.name)
	if err != nil {
		return nil, fmt.Errorf("class name: %w", err)
	}

	cls := &Class{Name: name, Addr: addr, Swift: swift}
	cls.SuperClass, cls.SuperAddr = p.resolveClassRef(superSlot, super)
	cls.InstanceMethods = p.parseMethodList(ro.baseMethods)
	cls.Ivars = p.parseIvarList(ro.ivars)
	cls.Properties = p.parsePropertyList(ro.baseProperties)
	cls.Protocols = p.protocolNames(ro.baseProtocols)

	// class methods live on the metaclass
	if isa != 0 {
		if metaRO, err := p.classROFor(isa); err == nil && metaRO.flags&roMeta != 0 {
			cls.ClassMethods = p.parseMethodList(metaRO.baseMethods)
		}
	}
	return cls, nil
}

// classROFor follows a class pointer to its read-only data.
func (p *Processor) classROFor(classAddr uint64) (*classRO, error) {
	dataPtr, err := p.pointerAt(classAddr + 4*p.ptrSize)
	if err != nil {
		return nil, err
	}
	mask := fastDataMask32
	if p.is64 {
		mask = fastDataMask64
	}
	dataPtr &= mask
	if dataPtr == 0 {
		return nil, fmt.Errorf("no class data")
	}
	return p.parseClassRO(dataPtr)
}

// resolveClassRef resolves a class-pointer slot (superclass, category
// class): a bind yields the external name with a zero address, an internal
// pointer yields the pointed-to class's name and address, and an
// unresolvable value yields a nameless address.
func (p *Processor) resolveClassRef(slotOff, value uint64) (string, uint64) {
	if sym, ok := p.f.SlotBind(slotOff); ok {
		return TrimClassSymbol(sym), 0
	}
	if value == 0 {
		return "", 0
	}
	if ro, err := p.classROFor(value); err == nil {
		if name, err := p.stringAt(ro.name); err == nil {
			return name, value
		}
	}
	return "", value
}

func (p *Processor) parseMethodList(addr uint64) []Method {
	if addr == 0 {
		return nil
	}
	c, err := p.f.CursorAt(addr)
	if err != nil {
		log.Debugf("method list at %#x unmapped: %v", addr, err)
		return nil
	}
	bo := p.f.ByteOrder
	entsizeAndFlags, err := c.ReadUint32(bo)
	if err != nil {
		return nil
	}
	count, err := c.ReadUint32(bo)
	if err != nil || count > maxListCount {
		return nil
	}
	entsize := uint64(entsizeAndFlags & methodListSizeMask)
	if entsize == 0 {
		return nil
	}
	if entsizeAndFlags&smallMethodListFlag != 0 {
		direct := entsizeAndFlags&relativeSelectorsDirectFlag != 0
		return p.parseSmallMethods(addr+8, count, entsize, direct)
	}
	return p.parseClassicMethods(addr+8, count, entsize)
}

func (p *Processor) parseClassicMethods(base uint64, count uint32, entsize uint64) []Method {
	var out []Method
	for i := uint32(0); i < count; i++ {
		entry := base + uint64(i)*entsize
		c, err := p.f.CursorAt(entry)
		if err != nil {
			p.skipped++
			continue
		}
		selPtr, err := p.readPointer(c)
		if err != nil {
			p.skipped++
			continue
		}
		typesPtr, err := p.readPointer(c)
		if err != nil {
			p.skipped++
			continue
		}
		imp, err := p.readPointer(c)
		if err != nil {
			p.skipped++
			continue
		}
		sel, err := p.stringAt(selPtr)
		if err != nil {
			log.Debugf("method %d selector at %#x unresolved", i, selPtr)
			p.skipped++
			continue
		}
		var types string
		if typesPtr != 0 {
			types, _ = p.stringAt(typesPtr)
		}
		out = append(out, Method{Name: sel, Types: types, IMP: imp})
	}
	return out
}

// parseSmallMethods decodes the relative method-list form: three signed
// 32-bit offsets per entry, each relative to its own field's address.
func (p *Processor) parseSmallMethods(base uint64, count uint32, entsize uint64, directSelectors bool) []Method {
	var out []Method
	for i := uint32(0); i < count; i++ {
		entry := base + uint64(i)*entsize
		c, err := p.f.CursorAt(entry)
		if err != nil {
			p.skipped++
			continue
		}
		bo := p.f.ByteOrder
		nameOff, err := c.ReadUint32(bo)
		if err != nil {
			p.skipped++
			continue
		}
		typesOff, err := c.ReadUint32(bo)
		if err != nil {
			p.skipped++
			continue
		}
		impOff, err := c.ReadUint32(bo)
		if err != nil {
			p.skipped++
			continue
		}
		rel := func(fieldAddr uint64, off uint32) uint64 {
			return uint64(int64(fieldAddr) + int64(int32(off)))
		}
		var selAddr uint64
		if directSelectors {
			selAddr = rel(entry, nameOff)
		} else {
			// the offset points at a selector-reference slot
			refAddr := rel(entry, nameOff)
			selAddr, err = p.pointerAt(refAddr)
			if err != nil {
				selAddr = 0
			}
		}
		sel, err := p.stringAt(selAddr)
		if err != nil {
			if p.resolveSelector != nil {
				if s, ok := p.resolveSelector(selAddr); ok {
					sel = s
				}
			}
			if sel == "" {
				// shared-cache selector table, out of reach here
				p.skipped++
				continue
			}
		}
		var types string
		if typesAddr := rel(entry+4, typesOff); typesOff != 0 {
			types, _ = p.stringAt(typesAddr)
		}
		out = append(out, Method{Name: sel, Types: types, IMP: rel(entry+8, impOff)})
	}
	return out
}

func (p *Processor) parseIvarList(addr uint64) []Ivar {
	if addr == 0 {
		return nil
	}
	c, err := p.f.CursorAt(addr)
	if err != nil {
		return nil
	}
	bo := p.f.ByteOrder
	entsizeAndFlags, err := c.ReadUint32(bo)
	if err != nil {
		return nil
	}
	count, err := c.ReadUint32(bo)
	if err != nil || count > maxListCount {
		return nil
	}
	entsize := uint64(entsizeAndFlags & methodListSizeMask)
	if entsize == 0 {
		return nil
	}
	var out []Ivar
	for i := uint32(0); i < count; i++ {
		entry := addr + 8 + uint64(i)*entsize
		ec, err := p.f.CursorAt(entry)
		if err != nil {
			continue
		}
		offsetPtr, err := p.readPointer(ec)
		if err != nil {
			continue
		}
		namePtr, err := p.readPointer(ec)
		if err != nil {
			continue
		}
		typePtr, err := p.readPointer(ec)
		if err != nil {
			continue
		}
		name, err := p.stringAt(namePtr)
		if err != nil {
			log.Debugf("ivar %d name at %#x unresolved", i, namePtr)
			continue
		}
		types, _ := p.stringAt(typePtr)
		var offset uint64
		if offsetPtr != 0 {
			if oc, err := p.f.CursorAt(offsetPtr); err == nil {
				if v, err := oc.ReadUint32(bo); err == nil {
					offset = uint64(v)
				}
			}
		}
		out = append(out, Ivar{Name: name, Types: types, Offset: offset})
	}
	return out
}

func (p *Processor) parsePropertyList(addr uint64) []Property {
	if addr == 0 {
		return nil
	}
	c, err := p.f.CursorAt(addr)
	if err != nil {
		return nil
	}
	bo := p.f.ByteOrder
	entsizeAndFlags, err := c.ReadUint32(bo)
	if err != nil {
		return nil
	}
	count, err := c.ReadUint32(bo)
	if err != nil || count > maxListCount {
		return nil
	}
	entsize := uint64(entsizeAndFlags & methodListSizeMask)
	if entsize == 0 {
		return nil
	}
	var out []Property
	for i := uint32(0); i < count; i++ {
		entry := addr + 8 + uint64(i)*entsize
		ec, err := p.f.CursorAt(entry)
		if err != nil {
			continue
		}
		namePtr, err := p.readPointer(ec)
		if err != nil {
			continue
		}
		attrPtr, err := p.readPointer(ec)
		if err != nil {
			continue
		}
		name, err := p.stringAt(namePtr)
		if err != nil {
			continue
		}
		attrs, _ := p.stringAt(attrPtr)
		out = append(out, Property{Name: name, Attributes: attrs})
	}
	return out
}

// protocolNames parses a protocol-reference list down to names only, the
// shape classes and categories need for their adoption lists.
func (p *Processor) protocolNames(addr uint64) []string {
	var names []string
	for _, proto := range p.parseProtocolRefs(addr, map[uint64]bool{}) {
		names = append(names, proto.Name)
	}
	return names
}

// parseProtocolRefs walks a protocol_list_t: a pointer-sized count followed
// by that many protocol pointers.
func (p *Processor) parseProtocolRefs(addr uint64, visited map[uint64]bool) []*Protocol {
	if addr == 0 {
		return nil
	}
	c, err := p.f.CursorAt(addr)
	if err != nil {
		return nil
	}
	count, err := c.ReadPointer(p.f.ByteOrder, p.is64)
	if err != nil || count > maxListCount {
		return nil
	}
	var out []*Protocol
	for i := uint64(0); i < count; i++ {
		protoPtr, err := p.readPointer(c)
		if err != nil {
			return out
		}
		if protoPtr == 0 {
			continue
		}
		proto, err := p.parseProtocol(protoPtr, visited)
		if err != nil {
			log.Debugf("protocol ref at %#x unresolved: %v", protoPtr, err)
			continue
		}
		out = append(out, proto)
	}
	return out
}

// parseProtocol dereferences a protocol_t. The visited set spans one
// top-level traversal: re-encountering an address yields a shallow
// name-only reference instead of recursing, so adoption cycles terminate.
func (p *Processor) parseProtocol(addr uint64, visited map[uint64]bool) (*Protocol, error) {
	c, err := p.f.CursorAt(addr)
	if err != nil {
		return nil, err
	}
	if _, err := p.readPointer(c); err != nil { // isa
		return nil, err
	}
	namePtr, err := p.readPointer(c)
	if err != nil {
		return nil, err
	}
	name, err := p.stringAt(namePtr)
	if err != nil {
		return nil, fmt.Errorf("protocol name: %w", err)
	}
	if visited[addr] {
		return &Protocol{Name: name, Addr: addr}, nil
	}
	visited[addr] = true

	var ptrs [6]uint64 // protocols, 4 method lists, properties
	for i := range ptrs {
		if ptrs[i], err = p.readPointer(c); err != nil {
			return nil, err
		}
	}
	proto := &Protocol{Name: name, Addr: addr}
	for _, adopted := range p.parseProtocolRefs(ptrs[0], visited) {
		proto.Protocols = append(proto.Protocols, adopted.Name)
	}
	proto.InstanceMethods = p.parseMethodList(ptrs[1])
	proto.ClassMethods = p.parseMethodList(ptrs[2])
	proto.OptionalInstanceMethods = p.parseMethodList(ptrs[3])
	proto.OptionalClassMethods = p.parseMethodList(ptrs[4])
	proto.Properties = p.parsePropertyList(ptrs[5])
	return proto, nil
}

func (p *Processor) parseCategory(addr uint64) (*Category, error) {
	c, err := p.f.CursorAt(addr)
	if err != nil {
		return nil, err
	}
	namePtr, err := p.readPointer(c)
	if err != nil {
		return nil, err
	}
	clsSlot := uint64(c.Offset())
	clsPtr, err := p.readPointer(c)
	if err != nil {
		return nil, err
	}
	var ptrs [4]uint64 // instanceMethods, classMethods, protocols, properties
	for i := range ptrs {
		if ptrs[i], err = p.readPointer(c); err != nil {
			return nil, err
		}
	}
	name, err := p.stringAt(namePtr)
	if err != nil {
		return nil, fmt.Errorf("category name: %w", err)
	}
	cat := &Category{Name: name, Addr: addr}
	cat.ClassName, cat.ClassAddr = p.resolveClassRef(clsSlot, clsPtr)
	cat.InstanceMethods = p.parseMethodList(ptrs[0])
	cat.ClassMethods = p.parseMethodList(ptrs[1])
	cat.Protocols = p.protocolNames(ptrs[2])
	cat.Properties = p.parsePropertyList(ptrs[3])
	return cat, nil
}
