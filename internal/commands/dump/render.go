package dump

import (
	"fmt"
	"strings"

	"github.com/apex/log"

	"github.com/blacktop/classdump/pkg/objc"
	"github.com/blacktop/classdump/pkg/objc/typeenc"
)

// Renderer turns reconstructed ObjC entities into class-dump style
// declarations. Addrs adds the RE annotations (class addresses, ivar
// offsets, method IMPs).
type Renderer struct {
	Addrs bool

	fmtr typeenc.Formatter
}

// Class renders a full @interface block.
func (r *Renderer) Class(c *objc.Class) string {
	var b strings.Builder

	b.WriteString("@interface " + c.Name)
	if c.SuperClass != "" {
		b.WriteString(" : " + c.SuperClass)
	}
	if len(c.Protocols) > 0 {
		b.WriteString(" <" + strings.Join(c.Protocols, ", ") + ">")
	}
	if r.Addrs {
		fmt.Fprintf(&b, " // %#x", c.Addr)
		if c.Swift {
			b.WriteString(" (Swift)")
		}
	}
	b.WriteString("\n")

	if len(c.Ivars) > 0 {
		b.WriteString("{\n")
		for _, ivar := range c.Ivars {
			b.WriteString("    " + r.ivar(&ivar) + "\n")
		}
		b.WriteString("}\n")
	}
	for i := range c.Properties {
		b.WriteString(r.property(&c.Properties[i]) + "\n")
	}
	for _, m := range c.ClassMethods {
		b.WriteString(r.method(&m, true) + "\n")
	}
	for _, m := range c.InstanceMethods {
		b.WriteString(r.method(&m, false) + "\n")
	}
	b.WriteString("@end\n")
	return b.String()
}

// Protocol renders a full @protocol block, optional members under
// @optional.
func (r *Renderer) Protocol(p *objc.Protocol) string {
	var b strings.Builder

	b.WriteString("@protocol " + p.Name)
	if len(p.Protocols) > 0 {
		b.WriteString(" <" + strings.Join(p.Protocols, ", ") + ">")
	}
	if r.Addrs {
		fmt.Fprintf(&b, " // %#x", p.Addr)
	}
	b.WriteString("\n")

	for i := range p.Properties {
		b.WriteString(r.property(&p.Properties[i]) + "\n")
	}
	for _, m := range p.ClassMethods {
		b.WriteString(r.method(&m, true) + "\n")
	}
	for _, m := range p.InstanceMethods {
		b.WriteString(r.method(&m, false) + "\n")
	}
	if len(p.OptionalClassMethods) > 0 || len(p.OptionalInstanceMethods) > 0 {
		b.WriteString("@optional\n")
		for _, m := range p.OptionalClassMethods {
			b.WriteString(r.method(&m, true) + "\n")
		}
		for _, m := range p.OptionalInstanceMethods {
			b.WriteString(r.method(&m, false) + "\n")
		}
	}
	b.WriteString("@end\n")
	return b.String()
}

// Category renders an @interface Class (Category) block.
func (r *Renderer) Category(c *objc.Category) string {
	var b strings.Builder

	class := c.ClassName
	if class == "" {
		class = "NSObject"
		log.Debugf("category %s has no resolvable class, rendering against NSObject", c.Name)
	}
	b.WriteString("@interface " + class + " (" + c.Name + ")")
	if len(c.Protocols) > 0 {
		b.WriteString(" <" + strings.Join(c.Protocols, ", ") + ">")
	}
	if r.Addrs {
		fmt.Fprintf(&b, " // %#x", c.Addr)
	}
	b.WriteString("\n")

	for i := range c.Properties {
		b.WriteString(r.property(&c.Properties[i]) + "\n")
	}
	for _, m := range c.ClassMethods {
		b.WriteString(r.method(&m, true) + "\n")
	}
	for _, m := range c.InstanceMethods {
		b.WriteString(r.method(&m, false) + "\n")
	}
	b.WriteString("@end\n")
	return b.String()
}

func (r *Renderer) ivar(i *objc.Ivar) string {
	decl := r.fmtr.FormatVariable(i.Name, typeenc.Parse(i.Types)) + ";"
	if r.Addrs {
		decl += fmt.Sprintf(" // +%#x", i.Offset)
	}
	return decl
}

func (r *Renderer) method(m *objc.Method, classMethod bool) string {
	decl := r.fmtr.FormatMethod(m.Name, m.Types, classMethod)
	if r.Addrs && m.IMP != 0 {
		decl += fmt.Sprintf(" // %#x", m.IMP)
	}
	return decl
}

func (r *Renderer) property(p *objc.Property) string {
	attrs, err := typeenc.ParseProperty(p.Attributes)
	if err != nil {
		return fmt.Sprintf("// Error parsing property: %s, name: %s", p.Attributes, p.Name)
	}
	var b strings.Builder
	b.WriteString("@property")
	if a := attrs.Attributes(); len(a) > 0 {
		b.WriteString("(" + strings.Join(a, ", ") + ")")
	}
	b.WriteString(" " + r.fmtr.FormatVariable(p.Name, attrs.Type) + ";")
	return b.String()
}
