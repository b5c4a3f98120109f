// Package objc reconstructs Objective-C 2.0 runtime metadata from a parsed
// Mach-O slice: classes, categories, and protocols with their methods,
// ivars, and properties, linked back together the way the runtime would.
package objc

import (
	"sort"
	"strings"
)

// A Method is one entry of a method list. IMP is zero when the
// implementation address could not be resolved.
type Method struct {
	Name  string
	Types string
	IMP   uint64
}

// An Ivar is one instance variable with its byte offset in the instance.
type Ivar struct {
	Name   string
	Types  string
	Offset uint64
}

// A Property is one declared property; Attributes is the raw attribute
// string (`T@"NSString",C,N,V_name`).
type Property struct {
	Name       string
	Attributes string
}

// A Class is one reconstructed class. SuperClass carries the superclass
// name even when the superclass lives in another image; in that case
// SuperAddr is zero and the reference is external.
type Class struct {
	Name       string
	Addr       uint64
	SuperClass string
	SuperAddr  uint64
	Swift      bool

	Ivars           []Ivar
	InstanceMethods []Method
	ClassMethods    []Method
	Properties      []Property
	Protocols       []string
}

// HasExternalSuper reports whether the superclass lives outside this image.
func (c *Class) HasExternalSuper() bool {
	return c.SuperClass != "" && c.SuperAddr == 0
}

// A Protocol is one reconstructed protocol with its required and optional
// method lists.
type Protocol struct {
	Name string
	Addr uint64

	InstanceMethods         []Method
	ClassMethods            []Method
	OptionalInstanceMethods []Method
	OptionalClassMethods    []Method
	Properties              []Property
	Protocols               []string
}

// A Category is one reconstructed category. ClassName may be external in
// the same way a superclass can be.
type Category struct {
	Name      string
	Addr      uint64
	ClassName string
	ClassAddr uint64

	InstanceMethods []Method
	ClassMethods    []Method
	Properties      []Property
	Protocols       []string
}

// ImageInfo is the __objc_imageinfo record.
type ImageInfo struct {
	Version uint32
	Flags   uint32
}

// HasSwift reports whether the image carries Swift metadata.
func (i *ImageInfo) HasSwift() bool { return i != nil && (i.Flags>>8)&0xff != 0 }

// SwiftVersion returns the encoded Swift ABI version, zero for ObjC-only.
func (i *ImageInfo) SwiftVersion() uint32 {
	if i == nil {
		return 0
	}
	return (i.Flags >> 8) & 0xff
}

// Metadata is the terminal aggregate of one image's reconstruction.
// Skipped counts entries whose encoding is recognized but not resolvable
// (small-method selectors held in a shared cache selector table), so a
// partial result is distinguishable from a complete one.
type Metadata struct {
	Classes    []*Class
	Protocols  []*Protocol
	Categories []*Category
	ImageInfo  *ImageInfo
	Skipped    int
}

// IsEmpty reports whether the image carried no ObjC content at all.
func (m *Metadata) IsEmpty() bool {
	return len(m.Classes) == 0 && len(m.Protocols) == 0 && len(m.Categories) == 0
}

// SortedByName returns a snapshot with all entity lists re-sorted
// alphabetically. The receiver is not modified.
func (m *Metadata) SortedByName() *Metadata {
	out := &Metadata{
		Classes:    append([]*Class(nil), m.Classes...),
		Protocols:  append([]*Protocol(nil), m.Protocols...),
		Categories: append([]*Category(nil), m.Categories...),
		ImageInfo:  m.ImageInfo,
		Skipped:    m.Skipped,
	}
	sort.SliceStable(out.Classes, func(i, j int) bool {
		return out.Classes[i].Name < out.Classes[j].Name
	})
	sort.SliceStable(out.Protocols, func(i, j int) bool {
		return out.Protocols[i].Name < out.Protocols[j].Name
	})
	sort.SliceStable(out.Categories, func(i, j int) bool {
		if out.Categories[i].ClassName != out.Categories[j].ClassName {
			return out.Categories[i].ClassName < out.Categories[j].ClassName
		}
		return out.Categories[i].Name < out.Categories[j].Name
	})
	return out
}

// SortedByInheritance returns a snapshot with classes in topological order:
// every internal superclass precedes its subclasses, and classes with an
// external or unresolved superclass act as roots. Protocols and categories
// keep their order.
func (m *Metadata) SortedByInheritance() *Metadata {
	byAddr := make(map[uint64]*Class, len(m.Classes))
	for _, c := range m.Classes {
		byAddr[c.Addr] = c
	}
	var ordered []*Class
	state := make(map[*Class]int, len(m.Classes)) // 0 new, 1 visiting, 2 done
	var visit func(c *Class)
	visit = func(c *Class) {
		if state[c] != 0 {
			return
		}
		state[c] = 1
		if sup, ok := byAddr[c.SuperAddr]; ok && c.SuperAddr != 0 && state[sup] != 1 {
			visit(sup)
		}
		state[c] = 2
		ordered = append(ordered, c)
	}
	for _, c := range m.Classes {
		visit(c)
	}
	out := *m
	out.Classes = ordered
	return &out
}

// ClassNames returns the class-name set, for batch/stream equivalence
// checks and filtering.
func (m *Metadata) ClassNames() []string {
	names := make([]string, len(m.Classes))
	for i, c := range m.Classes {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// ProtocolNames returns the sorted protocol-name set.
func (m *Metadata) ProtocolNames() []string {
	names := make([]string, len(m.Protocols))
	for i, p := range m.Protocols {
		names[i] = p.Name
	}
	sort.Strings(names)
	return names
}

// TrimClassSymbol strips the runtime's class-symbol prefix, turning
// `_OBJC_CLASS_$_NSObject` into `NSObject`.
func TrimClassSymbol(sym string) string {
	for _, prefix := range []string{"_OBJC_CLASS_$_", "_OBJC_METACLASS_$_"} {
		if strings.HasPrefix(sym, prefix) {
			return strings.TrimPrefix(sym, prefix)
		}
	}
	return sym
}
