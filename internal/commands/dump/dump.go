// Package dump turns reconstructed ObjC metadata into class-dump output:
// a single declaration stream or one header file per entity.
package dump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/apex/log"

	"github.com/blacktop/classdump/pkg/dsc"
	"github.com/blacktop/classdump/pkg/macho"
	"github.com/blacktop/classdump/pkg/objc"
)

// ErrNoObjC is returned when a MachO does not contain objc info.
var ErrNoObjC = errors.New("macho does not contain objc info")

// Sort orders for the declaration stream.
const (
	SortDeclaration = "declaration"
	SortAlpha       = "alpha"
	SortInheritance = "inheritance"
)

// Config for the ObjC dumper.
type Config struct {
	Name    string
	Verbose bool
	Addrs   bool

	// regex filters, empty means all
	Class    string
	Protocol string
	Category string
	// substring filter on selectors; entities with no matching method are
	// dropped entirely
	Method string

	Sort string

	AppVersion    string
	BuildVersions []string
	SourceVersion string

	Color  bool
	Theme  string
	Output string
}

// ObjC drives dump and header generation for one image.
type ObjC struct {
	conf *Config
	file *macho.File
	meta *objc.Metadata

	render Renderer
	out    io.Writer
}

// New reconstructs the image's metadata and returns a dumper over it.
// The dsc cache is optional; when given, its selector table resolves
// small-method selectors that point outside the image.
func New(file *macho.File, cache *dsc.Cache, conf *Config) (*ObjC, error) {
	if !file.HasObjC() {
		return nil, ErrNoObjC
	}
	p := objc.NewProcessor(file)
	if cache != nil {
		p.SetSelectorResolver(cache.SelectorResolver())
	}
	meta, err := p.Process()
	if err != nil {
		return nil, err
	}
	if meta.Skipped > 0 {
		log.Warnf("%s: %d metadata entries could not be resolved", conf.Name, meta.Skipped)
	}
	return &ObjC{
		conf:   conf,
		file:   file,
		meta:   meta,
		render: Renderer{Addrs: conf.Addrs},
		out:    os.Stdout,
	}, nil
}

// SetOutput redirects the declaration stream, for tests and for callers
// that capture instead of print.
func (o *ObjC) SetOutput(w io.Writer) { o.out = w }

// Metadata exposes the reconstructed metadata.
func (o *ObjC) Metadata() *objc.Metadata { return o.meta }

func (o *ObjC) sorted() *objc.Metadata {
	switch o.conf.Sort {
	case SortDeclaration:
		return o.meta
	case SortInheritance:
		return o.meta.SortedByInheritance()
	default:
		return o.meta.SortedByName()
	}
}

// Dump writes every entity that passes the filters to the output stream.
func (o *ObjC) Dump() error {
	meta := o.sorted()

	if o.conf.Verbose {
		if ii := meta.ImageInfo; ii != nil && ii.HasSwift() {
			o.print(fmt.Sprintf("// image carries Swift metadata (ABI v%d)\n\n", ii.SwiftVersion()))
		}
	}
	for _, proto := range meta.Protocols {
		if p := o.filterProtocol(proto); p != nil {
			o.highlight(o.render.Protocol(p))
		}
	}
	for _, class := range meta.Classes {
		if c := o.filterClass(class); c != nil {
			o.highlight(o.render.Class(c))
		}
	}
	for _, cat := range meta.Categories {
		if c := o.filterCategory(cat); c != nil {
			o.highlight(o.render.Category(c))
		}
	}
	return nil
}

// DumpClass writes classes whose name matches pattern.
func (o *ObjC) DumpClass(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("failed to compile regex: %v", err)
	}
	for _, class := range o.sorted().Classes {
		if !re.MatchString(class.Name) {
			continue
		}
		if c := o.filterClass(class); c != nil {
			o.highlight(o.render.Class(c))
		}
	}
	return nil
}

// DumpProtocol writes protocols whose name matches pattern.
func (o *ObjC) DumpProtocol(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("failed to compile regex: %v", err)
	}
	for _, proto := range o.sorted().Protocols {
		if !re.MatchString(proto.Name) {
			continue
		}
		if p := o.filterProtocol(proto); p != nil {
			o.highlight(o.render.Protocol(p))
		}
	}
	return nil
}

// DumpCategory writes categories whose name matches pattern.
func (o *ObjC) DumpCategory(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("failed to compile regex: %v", err)
	}
	for _, cat := range o.sorted().Categories {
		if !re.MatchString(cat.Name) {
			continue
		}
		if c := o.filterCategory(cat); c != nil {
			o.highlight(o.render.Category(c))
		}
	}
	return nil
}

func (o *ObjC) highlight(s string) {
	if o.conf.Color {
		quick.Highlight(o.out, s+"\n", "objc", "terminal256", o.conf.Theme)
		return
	}
	o.print(s + "\n")
}

func (o *ObjC) print(s string) {
	fmt.Fprint(o.out, s)
}

func matchMethods(methods []objc.Method, substr string) []objc.Method {
	var out []objc.Method
	for _, m := range methods {
		if strings.Contains(m.Name, substr) {
			out = append(out, m)
		}
	}
	return out
}

// filterClass applies the method filter, returning a trimmed copy, the
// class unchanged, or nil when nothing matches.
func (o *ObjC) filterClass(c *objc.Class) *objc.Class {
	if o.conf.Method == "" {
		return c
	}
	out := *c
	out.InstanceMethods = matchMethods(c.InstanceMethods, o.conf.Method)
	out.ClassMethods = matchMethods(c.ClassMethods, o.conf.Method)
	if len(out.InstanceMethods) == 0 && len(out.ClassMethods) == 0 {
		return nil
	}
	return &out
}

func (o *ObjC) filterProtocol(p *objc.Protocol) *objc.Protocol {
	if o.conf.Method == "" {
		return p
	}
	out := *p
	out.InstanceMethods = matchMethods(p.InstanceMethods, o.conf.Method)
	out.ClassMethods = matchMethods(p.ClassMethods, o.conf.Method)
	out.OptionalInstanceMethods = matchMethods(p.OptionalInstanceMethods, o.conf.Method)
	out.OptionalClassMethods = matchMethods(p.OptionalClassMethods, o.conf.Method)
	if len(out.InstanceMethods) == 0 && len(out.ClassMethods) == 0 &&
		len(out.OptionalInstanceMethods) == 0 && len(out.OptionalClassMethods) == 0 {
		return nil
	}
	return &out
}

func (o *ObjC) filterCategory(c *objc.Category) *objc.Category {
	if o.conf.Method == "" {
		return c
	}
	out := *c
	out.InstanceMethods = matchMethods(c.InstanceMethods, o.conf.Method)
	out.ClassMethods = matchMethods(c.ClassMethods, o.conf.Method)
	if len(out.InstanceMethods) == 0 && len(out.ClassMethods) == 0 {
		return nil
	}
	return &out
}
