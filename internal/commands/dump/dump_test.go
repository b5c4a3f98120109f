package dump

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/classdump/pkg/objc"
)

func testClass() *objc.Class {
	return &objc.Class{
		Name:       "MyClass",
		Addr:       0x100004000,
		SuperClass: "NSObject",
		Protocols:  []string{"MyProtocol"},
		Ivars: []objc.Ivar{
			{Name: "_name", Types: `@"NSString"`, Offset: 8},
			{Name: "_count", Types: "q", Offset: 16},
		},
		InstanceMethods: []objc.Method{
			{Name: "initWithName:", Types: "@24@0:8@16", IMP: 0x100001000},
			{Name: "setObject:forKey:", Types: "v32@0:8@16@24", IMP: 0x100001100},
		},
		ClassMethods: []objc.Method{
			{Name: "shared", Types: "@16@0:8", IMP: 0x100001200},
		},
		Properties: []objc.Property{
			{Name: "count", Attributes: "Tq,N,V_count"},
		},
	}
}

func testMeta() *objc.Metadata {
	return &objc.Metadata{
		Classes: []*objc.Class{testClass()},
		Protocols: []*objc.Protocol{{
			Name: "MyProtocol",
			Addr: 0x100005000,
			InstanceMethods: []objc.Method{
				{Name: "doThing:", Types: "v24@0:8@16"},
			},
			OptionalInstanceMethods: []objc.Method{
				{Name: "maybe", Types: "v16@0:8"},
			},
		}},
		Categories: []*objc.Category{{
			Name:      "Extras",
			Addr:      0x100006000,
			ClassName: "MyClass",
			InstanceMethods: []objc.Method{
				{Name: "extraThing", Types: "v16@0:8"},
			},
		}},
	}
}

func testDumper(meta *objc.Metadata, conf *Config) *ObjC {
	return &ObjC{
		conf:   conf,
		meta:   meta,
		render: Renderer{Addrs: conf.Addrs},
		out:    os.Stdout,
	}
}

func TestRenderClass(t *testing.T) {
	var r Renderer
	want := `@interface MyClass : NSObject <MyProtocol>
{
    NSString *_name;
    long long _count;
}
@property(nonatomic) long long count;
+ (id)shared;
- (id)initWithName:(id)arg1;
- (void)setObject:(id)arg1 forKey:(id)arg2;
@end
`
	if got := r.Class(testClass()); got != want {
		t.Errorf("Class render:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderClassWithAddrs(t *testing.T) {
	r := Renderer{Addrs: true}
	got := r.Class(testClass())
	for _, want := range []string{
		"@interface MyClass : NSObject <MyProtocol> // 0x100004000",
		"NSString *_name; // +0x8",
		"- (id)initWithName:(id)arg1; // 0x100001000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestRenderProtocol(t *testing.T) {
	var r Renderer
	want := `@protocol MyProtocol
- (void)doThing:(id)arg1;
@optional
- (void)maybe;
@end
`
	if got := r.Protocol(testMeta().Protocols[0]); got != want {
		t.Errorf("Protocol render:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderCategory(t *testing.T) {
	var r Renderer
	want := `@interface MyClass (Extras)
- (void)extraThing;
@end
`
	if got := r.Category(testMeta().Categories[0]); got != want {
		t.Errorf("Category render:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestDumpStream(t *testing.T) {
	o := testDumper(testMeta(), &Config{Name: "test"})
	var buf bytes.Buffer
	o.SetOutput(&buf)
	if err := o.Dump(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"@interface MyClass", "@protocol MyProtocol", "(Extras)"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump output missing %q", want)
		}
	}
	// protocols come before classes so forward references read naturally
	if strings.Index(out, "@protocol MyProtocol") > strings.Index(out, "@interface MyClass") {
		t.Error("protocols should precede classes")
	}
}

func TestDumpClassRegex(t *testing.T) {
	o := testDumper(testMeta(), &Config{})
	var buf bytes.Buffer
	o.SetOutput(&buf)
	if err := o.DumpClass("^My"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "@interface MyClass") {
		t.Error("matching class not dumped")
	}
	buf.Reset()
	if err := o.DumpClass("^Other"); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("non-matching pattern produced output: %q", buf.String())
	}
	if err := o.DumpClass("("); err == nil {
		t.Error("bad regex accepted")
	}
}

func TestMethodFilter(t *testing.T) {
	o := testDumper(testMeta(), &Config{Method: "setObject:"})
	var buf bytes.Buffer
	o.SetOutput(&buf)
	if err := o.Dump(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "setObject:forKey:") {
		t.Error("matching method missing")
	}
	if strings.Contains(out, "initWithName:") {
		t.Error("non-matching method survived the filter")
	}
	// neither the protocol nor the category has a matching method
	if strings.Contains(out, "@protocol") || strings.Contains(out, "(Extras)") {
		t.Error("entities without matches should be dropped")
	}
}

func TestSortOrders(t *testing.T) {
	meta := testMeta()
	meta.Classes = append(meta.Classes, &objc.Class{
		Name: "AClass", Addr: 0x100007000,
		SuperClass: "MyClass", SuperAddr: 0x100004000,
	})

	o := testDumper(meta, &Config{Sort: SortAlpha})
	var buf bytes.Buffer
	o.SetOutput(&buf)
	if err := o.Dump(); err != nil {
		t.Fatal(err)
	}
	if strings.Index(buf.String(), "AClass") > strings.Index(buf.String(), "MyClass :") {
		t.Error("alpha sort should put AClass first")
	}

	o = testDumper(meta, &Config{Sort: SortInheritance})
	buf.Reset()
	o.SetOutput(&buf)
	if err := o.Dump(); err != nil {
		t.Fatal(err)
	}
	if strings.Index(buf.String(), "interface MyClass :") > strings.Index(buf.String(), "interface AClass") {
		t.Error("inheritance sort should put the superclass first")
	}
}

func TestHeaders(t *testing.T) {
	dir := t.TempDir()
	o := testDumper(testMeta(), &Config{
		Name:          "MyFramework",
		Output:        dir,
		AppVersion:    "Version: test",
		BuildVersions: []string{"macOS 14.0"},
		SourceVersion: "1.2.3",
	})
	if err := o.Headers(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		"MyClass.h", "MyProtocol-Protocol.h", "MyClass+Extras.h", "MyFramework.h",
	} {
		if _, err := os.Stat(filepath.Join(dir, "MyFramework", name)); err != nil {
			t.Errorf("missing header %s: %v", name, err)
		}
	}

	classHdr, err := os.ReadFile(filepath.Join(dir, "MyFramework", "MyClass.h"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"#ifndef MyClass_h",
		"@class NSObject;", // external superclass gets a forward declaration
		`#include "MyProtocol-Protocol.h"`,
		"@interface MyClass : NSObject",
		"LC_SOURCE_VERSION: 1.2.3",
	} {
		if !strings.Contains(string(classHdr), want) {
			t.Errorf("MyClass.h missing %q", want)
		}
	}

	umbrella, err := os.ReadFile(filepath.Join(dir, "MyFramework", "MyFramework.h"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`#import "MyClass.h"`,
		`#import "MyProtocol-Protocol.h"`,
		`#import "MyClass+Extras.h"`,
	} {
		if !strings.Contains(string(umbrella), want) {
			t.Errorf("umbrella missing %q", want)
		}
	}
	if strings.Contains(string(umbrella), "@import Foundation") {
		t.Error("umbrella should not import Foundation")
	}
}
