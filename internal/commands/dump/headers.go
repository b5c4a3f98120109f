package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apex/log"
)

// imports are the forward declarations one header needs: local headers to
// include, external classes and protocols to forward-declare.
type imports struct {
	Locals  []string
	Classes []string
	Protos  []string
}

func (i *imports) uniq() {
	slices.Sort(i.Locals)
	slices.Sort(i.Classes)
	slices.Sort(i.Protos)
	i.Locals = slices.Compact(i.Locals)
	i.Classes = slices.Compact(i.Classes)
	i.Protos = slices.Compact(i.Protos)
}

type headerInfo struct {
	FileName      string
	AppVersion    string
	BuildVersions []string
	SourceVersion string
	IsUmbrella    bool
	Name          string
	Imports       imports
	Object        string
}

// Headers writes one header file per class, protocol, and category, plus
// an umbrella header importing them all. File names are deterministic:
// Class.h, Proto-Protocol.h, Class+Category.h.
func (o *ObjC) Headers() error {
	meta := o.meta.SortedByName()

	classNames := make(map[string]bool, len(meta.Classes))
	for _, c := range meta.Classes {
		classNames[c.Name] = true
	}
	protoNames := make(map[string]bool, len(meta.Protocols))
	for _, p := range meta.Protocols {
		protoNames[p.Name] = true
	}

	var headers []string
	write := func(fname, name string, imps imports, object string) error {
		imps.uniq()
		if err := o.writeHeader(&headerInfo{
			FileName:      fname,
			AppVersion:    o.conf.AppVersion,
			BuildVersions: o.conf.BuildVersions,
			SourceVersion: o.conf.SourceVersion,
			Name:          name,
			Imports:       imps,
			Object:        object,
		}); err != nil {
			return err
		}
		headers = append(headers, filepath.Base(fname))
		return nil
	}

	for _, proto := range meta.Protocols {
		var imps imports
		for _, p := range proto.Protocols {
			if protoNames[p] {
				imps.Locals = append(imps.Locals, p+"-Protocol.h")
			} else {
				imps.Protos = append(imps.Protos, p)
			}
		}
		fname := filepath.Join(o.conf.Output, o.conf.Name, proto.Name+"-Protocol.h")
		if err := write(fname, proto.Name+"_Protocol", imps, o.render.Protocol(proto)); err != nil {
			return err
		}
	}

	for _, class := range meta.Classes {
		var imps imports
		if class.SuperClass != "" {
			if classNames[class.SuperClass] {
				imps.Locals = append(imps.Locals, class.SuperClass+".h")
			} else {
				imps.Classes = append(imps.Classes, class.SuperClass)
			}
		}
		for _, p := range class.Protocols {
			if protoNames[p] {
				imps.Locals = append(imps.Locals, p+"-Protocol.h")
			} else {
				imps.Protos = append(imps.Protos, p)
			}
		}
		fname := filepath.Join(o.conf.Output, o.conf.Name, class.Name+".h")
		if err := write(fname, class.Name, imps, o.render.Class(class)); err != nil {
			return err
		}
	}

	for _, cat := range meta.Categories {
		var imps imports
		name := cat.Name
		if cat.ClassName != "" {
			name = cat.ClassName + "+" + cat.Name
			if classNames[cat.ClassName] {
				imps.Locals = append(imps.Locals, cat.ClassName+".h")
			} else {
				imps.Classes = append(imps.Classes, cat.ClassName)
			}
		}
		for _, p := range cat.Protocols {
			if protoNames[p] {
				imps.Locals = append(imps.Locals, p+"-Protocol.h")
			} else {
				imps.Protos = append(imps.Protos, p)
			}
		}
		fname := filepath.Join(o.conf.Output, o.conf.Name, name+".h")
		if err := write(fname, strings.ReplaceAll(name, "+", "_"), imps, o.render.Category(cat)); err != nil {
			return err
		}
	}

	if len(headers) == 0 {
		return nil
	}

	umbrella := o.conf.Name
	if slices.Contains(headers, umbrella+".h") {
		umbrella += "-Umbrella"
	}
	for i, header := range headers {
		headers[i] = "#import \"" + header + "\""
	}
	return o.writeHeader(&headerInfo{
		FileName:      filepath.Join(o.conf.Output, o.conf.Name, umbrella+".h"),
		AppVersion:    o.conf.AppVersion,
		BuildVersions: o.conf.BuildVersions,
		SourceVersion: o.conf.SourceVersion,
		IsUmbrella:    true,
		Name:          strings.ReplaceAll(umbrella, "-", "_"),
		Object:        strings.Join(headers, "\n") + "\n",
	})
}

func (o *ObjC) writeHeader(hdr *headerInfo) error {
	guard := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, hdr.Name)

	out := fmt.Sprintf(
		"//\n"+
			"//   Generated by https://github.com/blacktop/classdump (%s)\n"+
			"//\n",
		hdr.AppVersion)
	for _, bv := range hdr.BuildVersions {
		out += fmt.Sprintf("//    - LC_BUILD_VERSION:  %s\n", bv)
	}
	if hdr.SourceVersion != "" {
		out += fmt.Sprintf("//    - LC_SOURCE_VERSION: %s\n//\n", hdr.SourceVersion)
	}
	out += fmt.Sprintf("#ifndef %s_h\n#define %s_h\n", guard, guard)
	if !hdr.IsUmbrella {
		out += "@import Foundation;\n"
	}
	out += "\n"
	for _, local := range hdr.Imports.Locals {
		out += fmt.Sprintf("#include \"%s\"\n", local)
	}
	if len(hdr.Imports.Locals) > 0 {
		out += "\n"
	}
	if len(hdr.Imports.Classes) > 0 {
		out += fmt.Sprintf("@class %s;\n", strings.Join(hdr.Imports.Classes, ", "))
	}
	if len(hdr.Imports.Protos) > 0 {
		out += fmt.Sprintf("@protocol %s;\n", strings.Join(hdr.Imports.Protos, ", "))
	}
	if len(hdr.Imports.Classes) > 0 || len(hdr.Imports.Protos) > 0 {
		out += "\n"
	}
	out += hdr.Object
	out += fmt.Sprintf("\n#endif /* %s_h */\n", guard)

	if err := os.MkdirAll(filepath.Dir(hdr.FileName), 0o750); err != nil {
		return err
	}
	log.Infof("Creating %s", hdr.FileName)
	if err := os.WriteFile(hdr.FileName, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write header %s: %v", hdr.FileName, err)
	}
	return nil
}
